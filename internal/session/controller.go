package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/roam/internal/api"
	"github.com/matheus3301/roam/internal/bus"
	"github.com/matheus3301/roam/internal/logging"
	"github.com/matheus3301/roam/internal/status"
	"github.com/matheus3301/roam/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the durable key-value store holding the session.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Authenticator performs the unauthenticated calls the session needs.
type Authenticator interface {
	RefreshToken(ctx context.Context, refreshToken string) (*api.AuthResult, error)
	Profile(ctx context.Context, token string) (*api.User, error)
}

// Credentials is the outcome of a successful login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	User         *api.User
}

// Options tunes token handling.
type Options struct {
	// RefreshSkew refreshes proactively when the access token expires
	// within this window. Zero disables proactive refresh.
	RefreshSkew time.Duration
	// RefreshTimeout bounds a single refresh exchange.
	RefreshTimeout time.Duration
}

const (
	sessionExpiredTitle   = "Session Expired"
	sessionExpiredMessage = "Please log in again."
)

// sessionKeys are purged on logout. The onboarding flag survives.
var sessionKeys = []string{store.KeyToken, store.KeyRefreshToken, store.KeyUserInfoCache}

// Controller owns the session: token values, the cached user and the
// authentication status. It is the only writer of the session keys.
type Controller struct {
	store    Store
	auth     Authenticator
	machine  *status.Machine
	nav      Navigator
	notifier Notifier
	bus      *bus.Bus
	opts     Options
	logger   *zap.Logger

	mu      sync.RWMutex
	access  string
	refresh string
	user    *api.User
	epoch   uint64 // bumped by every logout
	closed  bool

	group    singleflight.Group
	inflight sync.WaitGroup
	now      func() time.Time
}

// New creates a session controller in the ANONYMOUS state.
func New(st Store, auth Authenticator, m *status.Machine, nav Navigator, notifier Notifier, b *bus.Bus, opts Options, logger *zap.Logger) *Controller {
	if opts.RefreshTimeout == 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	return &Controller{
		store:    st,
		auth:     auth,
		machine:  m,
		nav:      nav,
		notifier: notifier,
		bus:      b,
		opts:     opts,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Status returns the current authentication status.
func (c *Controller) Status() status.State {
	return c.machine.Current()
}

// User returns a copy of the cached profile, or nil.
func (c *Controller) User() *api.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// SelfID returns the signed-in user's id, falling back to the token claims
// when the profile has not been loaded.
func (c *Controller) SelfID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user != nil && c.user.ID != "" {
		return c.user.ID
	}
	return tokenSubject(c.access)
}

// HasRefreshToken reports whether a refresh token is held.
func (c *Controller) HasRefreshToken(context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresh != ""
}

// Initialize hydrates the session from the store. It must be called once at
// process start, before Login.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := c.machine.TransitionFrom(status.Anonymous, status.Loading); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	access, refresh, err := c.loadTokens(ctx)
	if err != nil {
		_ = c.machine.TransitionFrom(status.Loading, status.Anonymous)
		return fmt.Errorf("initialize: %w", err)
	}
	if access == "" && refresh == "" {
		c.logger.Info("no stored session")
		_ = c.machine.TransitionFrom(status.Loading, status.Anonymous)
		c.nav.ResetToLogin()
		return nil
	}

	c.mu.Lock()
	c.access, c.refresh = access, refresh
	c.mu.Unlock()

	if access != "" {
		user, err := c.auth.Profile(ctx, access)
		switch {
		case err == nil:
			return c.enter(ctx, status.Loading, user)
		case api.IsAuthFailure(err) && refresh != "":
			c.logger.Info("stored access token rejected, refreshing", zap.Error(err))
		case api.IsAuthFailure(err):
			c.expire(ctx)
			return api.ErrSessionExpired
		default:
			return c.enterOffline(ctx, status.Loading, err)
		}
	}

	if err := c.machine.TransitionFrom(status.Loading, status.Refreshing); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	token, err := c.RefreshFrom(ctx, access)
	if err != nil {
		return err
	}
	user, err := c.auth.Profile(ctx, token)
	switch {
	case err == nil:
		return c.enter(ctx, status.Refreshing, user)
	case api.IsAuthFailure(err):
		c.expire(ctx)
		return api.ErrSessionExpired
	default:
		return c.enterOffline(ctx, status.Refreshing, err)
	}
}

// enter stores user and moves from `from` to AUTHENTICATED.
func (c *Controller) enter(ctx context.Context, from status.State, user *api.User) error {
	if err := c.saveUser(ctx, user); err != nil {
		c.logger.Warn("failed to cache user", zap.Error(err))
	}
	if err := c.machine.TransitionFrom(from, status.Authenticated); err != nil {
		return err
	}
	c.logger.Info("session authenticated", zap.String("user_id", user.ID))
	return nil
}

// enterOffline authenticates from the cached profile when hydration failed
// for a reason other than the token. Without a cache the start is aborted
// and the stored credentials are kept for the next attempt.
func (c *Controller) enterOffline(ctx context.Context, from status.State, cause error) error {
	cached, err := c.cachedUser(ctx)
	if err != nil || cached == nil {
		c.logger.Warn("cannot hydrate session", zap.Error(cause))
		c.mu.Lock()
		c.access, c.refresh = "", ""
		c.mu.Unlock()
		c.toAnonymous(from)
		c.nav.ResetToLogin()
		return fmt.Errorf("hydrate session: %w", cause)
	}
	c.logger.Warn("profile unavailable, using cached user", zap.Error(cause))
	c.mu.Lock()
	c.user = cached
	c.mu.Unlock()
	return c.machine.TransitionFrom(from, status.Authenticated)
}

func (c *Controller) toAnonymous(from status.State) {
	switch from {
	case status.Loading:
		_ = c.machine.TransitionFrom(status.Loading, status.Anonymous)
	case status.Refreshing:
		if c.machine.TransitionFrom(status.Refreshing, status.LoggedOut) == nil {
			_ = c.machine.TransitionFrom(status.LoggedOut, status.Anonymous)
		}
	}
}

// Login installs fresh credentials. The profile is fetched when creds
// carries none.
func (c *Controller) Login(ctx context.Context, creds Credentials) error {
	if creds.AccessToken == "" {
		return errors.New("login: missing access token")
	}
	if err := c.machine.TransitionFrom(status.Anonymous, status.Loading); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	user := creds.User
	if user == nil {
		u, err := c.auth.Profile(ctx, creds.AccessToken)
		if err != nil {
			_ = c.machine.TransitionFrom(status.Loading, status.Anonymous)
			return fmt.Errorf("login: fetch profile: %w", err)
		}
		user = u
	}

	if err := c.store.Set(ctx, store.KeyToken, creds.AccessToken); err != nil {
		_ = c.machine.TransitionFrom(status.Loading, status.Anonymous)
		return fmt.Errorf("login: persist token: %w", err)
	}
	if creds.RefreshToken != "" {
		err := c.store.Set(ctx, store.KeyRefreshToken, creds.RefreshToken)
		if err != nil {
			_ = c.machine.TransitionFrom(status.Loading, status.Anonymous)
			return fmt.Errorf("login: persist refresh token: %w", err)
		}
	} else if err := c.store.Delete(ctx, store.KeyRefreshToken); err != nil {
		c.logger.Warn("failed to clear stale refresh token", zap.Error(err))
	}

	c.mu.Lock()
	c.access, c.refresh = creds.AccessToken, creds.RefreshToken
	c.mu.Unlock()
	return c.enter(ctx, status.Loading, user)
}

// RefreshUser re-fetches the profile and updates the cache.
func (c *Controller) RefreshUser(ctx context.Context) (*api.User, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	user, err := c.auth.Profile(ctx, token)
	if err != nil && api.IsAuthFailure(err) {
		if !c.HasRefreshToken(ctx) {
			c.expire(ctx)
			return nil, api.ErrSessionExpired
		}
		if token, err = c.RefreshFrom(ctx, token); err != nil {
			return nil, err
		}
		user, err = c.auth.Profile(ctx, token)
		if err != nil && api.IsAuthFailure(err) {
			c.expire(ctx)
			return nil, api.ErrSessionExpired
		}
	}
	if err != nil {
		return nil, fmt.Errorf("refresh user: %w", err)
	}
	if err := c.saveUser(ctx, user); err != nil {
		return nil, err
	}
	return c.User(), nil
}

// AccessToken returns a token for an authenticated request. A token that
// expires within the refresh skew is refreshed first.
func (c *Controller) AccessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, refresh, closed := c.access, c.refresh, c.closed
	c.mu.RUnlock()
	if closed || token == "" || !c.machine.Current().IsSignedIn() {
		return "", api.ErrNotAuthenticated
	}
	if c.opts.RefreshSkew <= 0 || refresh == "" {
		return token, nil
	}
	if exp, ok := tokenExpiry(token); ok && c.now().Add(c.opts.RefreshSkew).After(exp) {
		c.logger.Debug("access token near expiry, refreshing", zap.Time("exp", exp))
		return c.RefreshFrom(ctx, token)
	}
	return token, nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Controller) Refresh(ctx context.Context) (string, error) {
	c.mu.RLock()
	stale := c.access
	c.mu.RUnlock()
	return c.RefreshFrom(ctx, stale)
}

// RefreshFrom refreshes unless stale has already been replaced, in which
// case the current token is returned without a network call. Concurrent
// callers share one exchange. Any refresh failure ends the session.
//
// A caller whose ctx ends gets ctx.Err(); the shared exchange keeps running
// for the other callers.
func (c *Controller) RefreshFrom(ctx context.Context, stale string) (string, error) {
	c.mu.RLock()
	current, refresh, closed := c.access, c.refresh, c.closed
	c.mu.RUnlock()
	if closed {
		return "", api.ErrNotAuthenticated
	}
	if current != "" && current != stale {
		return current, nil
	}
	if refresh == "" {
		c.expire(ctx)
		return "", api.ErrSessionExpired
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.runRefresh(context.WithoutCancel(ctx), stale)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Controller) runRefresh(ctx context.Context, stale string) (string, error) {
	c.inflight.Add(1)
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, c.opts.RefreshTimeout)
	defer cancel()

	c.mu.RLock()
	current, refresh, epoch := c.access, c.refresh, c.epoch
	c.mu.RUnlock()
	if current != "" && current != stale {
		return current, nil
	}
	if refresh == "" {
		return "", api.ErrNotAuthenticated
	}

	resume := c.machine.TransitionFrom(status.Authenticated, status.Refreshing) == nil

	res, err := c.auth.RefreshToken(ctx, refresh)
	if err != nil {
		c.logger.Warn("token refresh failed", zap.Error(err))
		c.expire(ctx)
		return "", fmt.Errorf("%w: %v", api.ErrSessionExpired, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// logged out while the exchange was in flight
		c.mu.Unlock()
		return "", api.ErrNotAuthenticated
	}
	c.access = res.Token
	if res.RefreshToken != "" {
		c.refresh = res.RefreshToken
	}
	c.mu.Unlock()

	if err := c.store.Set(ctx, store.KeyToken, res.Token); err != nil {
		c.logger.Error("failed to persist refreshed token", zap.Error(err))
	}
	if res.RefreshToken != "" {
		if err := c.store.Set(ctx, store.KeyRefreshToken, res.RefreshToken); err != nil {
			c.logger.Error("failed to persist rotated refresh token", zap.Error(err))
		}
	}
	if resume {
		_ = c.machine.TransitionFrom(status.Refreshing, status.Authenticated)
	}
	c.logger.Info("access token refreshed")
	return res.Token, nil
}

// Logout purges the session. The navigation reset happens once per logout
// that ended a session; repeated calls only purge again.
func (c *Controller) Logout(ctx context.Context) error {
	_, err := c.logout(ctx)
	return err
}

// Expire ends the session after an unrecoverable auth failure and shows the
// session-expired notice once.
func (c *Controller) Expire(ctx context.Context) {
	c.expire(ctx)
}

func (c *Controller) expire(ctx context.Context) {
	changed, err := c.logout(ctx)
	if err != nil {
		c.logger.Error("failed to purge expired session", zap.Error(err))
	}
	if !changed {
		return
	}
	c.logger.Warn("session expired")
	c.bus.Emit(bus.SessionExpired, nil)
	c.notifier.Notify(sessionExpiredTitle, sessionExpiredMessage)
}

func (c *Controller) logout(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.access, c.refresh, c.user = "", "", nil
	c.epoch++
	c.mu.Unlock()

	err := c.store.Delete(context.WithoutCancel(ctx), sessionKeys...)
	if err != nil {
		err = fmt.Errorf("purge session: %w", err)
	}

	changed := c.endSession()
	if changed {
		c.logger.Info("logged out")
		c.nav.ResetToLogin()
	}
	return changed, err
}

// endSession walks the machine back to ANONYMOUS. It reports false when no
// session was active.
func (c *Controller) endSession() bool {
	for {
		switch cur := c.machine.Current(); cur {
		case status.Authenticated, status.Refreshing:
			if c.machine.TransitionFrom(cur, status.LoggedOut) == nil {
				_ = c.machine.TransitionFrom(status.LoggedOut, status.Anonymous)
				return true
			}
		case status.Loading:
			if c.machine.TransitionFrom(status.Loading, status.Anonymous) == nil {
				return true
			}
		default:
			return false
		}
	}
}

// Teardown waits for an in-flight refresh and rejects further token use.
// The stored session is kept.
func (c *Controller) Teardown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.inflight.Wait()
}

// SetInterestsSelected records the onboarding flag.
func (c *Controller) SetInterestsSelected(ctx context.Context, selected bool) error {
	v := "false"
	if selected {
		v = "true"
	}
	return c.store.Set(ctx, store.KeyInterestsFlag, v)
}

// InterestsSelected reads the onboarding flag.
func (c *Controller) InterestsSelected(ctx context.Context) (bool, error) {
	v, _, err := c.store.Get(ctx, store.KeyInterestsFlag)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func (c *Controller) loadTokens(ctx context.Context) (access, refresh string, err error) {
	if access, _, err = c.store.Get(ctx, store.KeyToken); err != nil {
		return "", "", fmt.Errorf("read token: %w", err)
	}
	if refresh, _, err = c.store.Get(ctx, store.KeyRefreshToken); err != nil {
		return "", "", fmt.Errorf("read refresh token: %w", err)
	}
	return access, refresh, nil
}

func (c *Controller) saveUser(ctx context.Context, user *api.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	c.mu.Lock()
	u := *user
	c.user = &u
	c.mu.Unlock()
	if err := c.store.Set(ctx, store.KeyUserInfoCache, string(data)); err != nil {
		return fmt.Errorf("cache user: %w", err)
	}
	return nil
}

func (c *Controller) cachedUser(ctx context.Context) (*api.User, error) {
	raw, ok, err := c.store.Get(ctx, store.KeyUserInfoCache)
	if err != nil || !ok {
		return nil, err
	}
	var u api.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}
	if u.ID == "" {
		return nil, nil
	}
	return &u, nil
}
