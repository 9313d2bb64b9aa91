package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/matheus3301/roam/internal/logging"
	"go.uber.org/zap"
)

// DefaultRefreshPath is the token refresh route mounted by the backend.
const DefaultRefreshPath = "/api/refresh"

// Auth performs the calls that run before or outside an authenticated
// session. None of them go through the refresh-and-retry policy.
type Auth struct {
	t           *transport
	refreshPath string
}

// NewAuth creates an unauthenticated endpoint client.
func NewAuth(opts Options, refreshPath string, logger *zap.Logger) *Auth {
	if refreshPath == "" {
		refreshPath = DefaultRefreshPath
	}
	return &Auth{t: opts.transport(logging.OrNop(logger)), refreshPath: refreshPath}
}

// LoginRequest carries user credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest carries a new account.
type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DOB         string `json:"dob,omitempty"`
	Country     string `json:"country,omitempty"`
	TravelStyle string `json:"travelStyle,omitempty"`
}

// Login exchanges credentials for tokens. A rejected password comes back as
// a *ValidationError, not an *AuthError.
func (a *Auth) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	resp, err := a.post(ctx, "/api/login", req, "")
	if err != nil {
		return nil, credentialsError(err)
	}
	var res AuthResult
	if err := resp.Decode(&res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, errors.New("login: response carried no token")
	}
	return &res, nil
}

// Signup creates an account and returns the new user id.
func (a *Auth) Signup(ctx context.Context, req SignupRequest) (string, error) {
	resp, err := a.post(ctx, "/api/signup", req, "")
	if err != nil {
		return "", err
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", err
	}
	return body.UserID, nil
}

// RefreshToken exchanges a refresh token for a new access token. The
// returned RefreshToken is empty unless the server rotated it.
func (a *Auth) RefreshToken(ctx context.Context, refreshToken string) (*AuthResult, error) {
	resp, err := a.post(ctx, a.refreshPath, map[string]string{"refreshToken": refreshToken}, "")
	if err != nil {
		return nil, err
	}
	var res AuthResult
	if err := resp.Decode(&res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, &AuthError{Status: resp.Status, Message: "refresh response carried no token"}
	}
	return &res, nil
}

// Profile fetches the user owning token. It is used while the session is
// still being established, so it takes the token explicitly.
func (a *Auth) Profile(ctx context.Context, token string) (*User, error) {
	req, _ := NewRequest(http.MethodGet, "/api/users/profile", nil)
	resp, err := a.t.roundTrip(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if err := errorFor(resp); err != nil {
		return nil, err
	}
	return decodeProfile(resp.Body)
}

func (a *Auth) post(ctx context.Context, path string, body any, token string) (*Response, error) {
	req, err := NewRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := a.t.roundTrip(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if err := errorFor(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// credentialsError turns a 401 on the login route into a validation error;
// no session exists yet so there is nothing to refresh.
func credentialsError(err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		body, _ := json.Marshal(map[string]string{"message": ae.Message})
		return &ValidationError{Status: ae.Status, Message: ae.Message, Body: body}
	}
	return fmt.Errorf("login: %w", err)
}
