package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/roam/internal/logging"
	"go.uber.org/zap"
)

// TokenSource is the session side of the request client. The session
// controller implements it; the client never stores a token itself.
type TokenSource interface {
	// AccessToken returns the current access token or ErrNotAuthenticated.
	AccessToken(ctx context.Context) (string, error)
	// HasRefreshToken reports whether a refresh token is stored.
	HasRefreshToken(ctx context.Context) bool
	// RefreshFrom exchanges the refresh token for a new access token unless
	// stale has already been replaced. Concurrent callers share one refresh.
	RefreshFrom(ctx context.Context, stale string) (string, error)
	// Expire terminates the session: purge, reset to login, notify.
	Expire(ctx context.Context)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func (o Options) transport(logger *zap.Logger) *transport {
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: o.Timeout}
		if o.Timeout == 0 {
			hc.Timeout = 30 * time.Second
		}
	}
	return &transport{
		baseURL:    strings.TrimRight(o.BaseURL, "/"),
		httpClient: hc,
		logger:     logging.OrNop(logger),
	}
}

// Client wraps every authenticated REST call with the bearer token and the
// one-shot refresh-and-retry policy.
type Client struct {
	t      *transport
	tokens TokenSource
	logger *zap.Logger
}

// NewClient creates an authenticated client.
func NewClient(opts Options, tokens TokenSource, logger *zap.Logger) *Client {
	logger = logging.OrNop(logger)
	return &Client{t: opts.transport(logger), tokens: tokens, logger: logger}
}

// Do sends req with the current access token. On an auth failure it refreshes
// at most once and retries at most once; a rejected retry ends the session.
// Every other failure is returned as is. A nil error always comes with a 2xx response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.t.roundTrip(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if !resp.authFailure() {
		return resp, errorFor(resp)
	}

	authErr := errorFor(resp).(*AuthError)
	if !c.tokens.HasRefreshToken(ctx) {
		c.logger.Warn("auth failure without refresh token, ending session",
			zap.String("path", req.Path), zap.Int("status", resp.Status))
		c.tokens.Expire(ctx)
		authErr.Err = ErrSessionExpired
		return nil, authErr
	}

	fresh, err := c.tokens.RefreshFrom(ctx, token)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.Warn("token refresh failed", zap.String("path", req.Path), zap.Error(err))
		authErr.Err = ErrSessionExpired
		return nil, authErr
	}

	resp, err = c.t.roundTrip(ctx, req, fresh)
	if err != nil {
		return nil, err
	}
	if resp.authFailure() {
		// the server refuses a token it just issued; the session is unusable
		c.logger.Warn("refreshed token rejected, ending session",
			zap.String("path", req.Path), zap.Int("status", resp.Status))
		c.tokens.Expire(ctx)
		retryErr := errorFor(resp).(*AuthError)
		retryErr.Err = ErrSessionExpired
		return nil, retryErr
	}
	return resp, errorFor(resp)
}
