package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/tokenstore"
	"github.com/tractionboard/traction-go/users"
)

// Auth endpoint paths, relative to the configured base URL.
const (
	LoginPath            = "/auth/login"
	RegisterPath         = "/auth/register"
	RefreshPath          = "/auth/refresh"
	ProfilePath          = "/auth/profile"
	LogoutPath           = "/auth/logout"
	CheckAgreementsPath  = "/auth/check-agreements"
	AcceptAgreementsPath = "/auth/accept-agreements"
)

// Client talks to the backend auth endpoints. Authenticated calls go through
// the intercepted http.Client (which attaches the bearer token and handles
// the reactive refresh-retry); login, register, and refresh go through a
// bare client so a failing exchange can never recurse into itself.
type Client struct {
	baseURL       string
	authenticated *http.Client
	bare          *http.Client
	log           zerolog.Logger
}

type ClientOption func(*Client)

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(baseURL string, authenticated, bare *http.Client, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[NewClient] baseURL is required")
	}
	if authenticated == nil {
		return nil, errors.New("[NewClient] authenticated http client is required")
	}
	if bare == nil {
		return nil, errors.New("[NewClient] bare http client is required")
	}

	c := &Client{
		baseURL:       baseURL,
		authenticated: authenticated,
		bare:          bare,
		log:           zerolog.Nop(),
	}

	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Login exchanges credentials for a user and token pair. A rejected
// credential surfaces as ErrInvalidCredentials carrying the server's
// message; credentials are never retried.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthPayload, error) {
	body := map[string]string{"email": email, "password": password}

	var payload AuthPayload
	if err := c.post(ctx, c.bare, LoginPath, body, &payload); err != nil {
		return nil, credentialError(err, clienterrors.ErrInvalidCredentials)
	}
	return &payload, nil
}

// Register creates an account. The legal agreement record travels with the
// call; the server rejects registrations without one.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthPayload, error) {
	var payload AuthPayload
	if err := c.post(ctx, c.bare, RegisterPath, req, &payload); err != nil {
		return nil, credentialError(err, clienterrors.ErrRegistrationFailed)
	}
	return &payload, nil
}

// Refresh exchanges a refresh token for a rotated pair. Errors distinguish
// transient failures (network, 5xx: retry later) from terminal ones
// (rejected token: the session is over).
func (c *Client) Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error) {
	body := map[string]string{"refreshToken": refreshToken}

	var payload RefreshPayload
	if err := c.post(ctx, c.bare, RefreshPath, body, &payload); err != nil {
		var statusErr *statusError
		if errors.As(err, &statusErr) && statusErr.status >= 400 && statusErr.status < 500 {
			return tokenstore.TokenPair{}, errors.Wrap(clienterrors.ErrTerminalRefresh, statusErr.message)
		}
		return tokenstore.TokenPair{}, errors.Wrap(clienterrors.ErrTransientRefresh, err.Error())
	}
	return tokenstore.TokenPair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}, nil
}

// Profile fetches the current user with the stored bearer token.
func (c *Client) Profile(ctx context.Context) (*users.User, error) {
	var user users.User
	if err := c.get(ctx, c.authenticated, ProfilePath, &user); err != nil {
		return nil, errors.Wrap(err, "[Client.Profile]")
	}
	return &user, nil
}

// UpdateProfile applies the given updates and returns the server's view of
// the user.
func (c *Client) UpdateProfile(ctx context.Context, updates ProfileUpdate) (*users.User, error) {
	var user users.User
	if err := c.do(ctx, c.authenticated, http.MethodPut, ProfilePath, updates, &user); err != nil {
		return nil, errors.Wrap(err, "[Client.UpdateProfile]")
	}
	return &user, nil
}

// Logout asks the server to revoke the session. Best effort: callers tear
// down local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.post(ctx, c.authenticated, LogoutPath, nil, nil); err != nil {
		return errors.Wrap(err, "[Client.Logout]")
	}
	return nil
}

// CheckAgreements reports whether the user still owes a legal-agreement
// acceptance.
func (c *Client) CheckAgreements(ctx context.Context) (*AgreementStatus, error) {
	var status AgreementStatus
	if err := c.get(ctx, c.authenticated, CheckAgreementsPath, &status); err != nil {
		return nil, errors.Wrap(err, "[Client.CheckAgreements]")
	}
	return &status, nil
}

// AcceptAgreements records the user's acceptance.
func (c *Client) AcceptAgreements(ctx context.Context, record AgreementRecord) error {
	if err := c.post(ctx, c.authenticated, AcceptAgreementsPath, record, nil); err != nil {
		return errors.Wrap(err, "[Client.AcceptAgreements]")
	}
	return nil
}

// statusError carries a non-2xx response's status and server message.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return e.message
}

// credentialError maps a 4xx response to the given credential sentinel,
// preserving the server's user-visible message. Transport failures keep
// their original cause.
func credentialError(err error, sentinel error) error {
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.status >= 400 && statusErr.status < 500 {
		return errors.Wrap(sentinel, statusErr.message)
	}
	return err
}

func (c *Client) get(ctx context.Context, client *http.Client, path string, out interface{}) error {
	return c.do(ctx, client, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, client *http.Client, path string, body, out interface{}) error {
	return c.do(ctx, client, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[Client.do] marshal body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "[Client.do] create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "[Client.do] %s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "[Client.do] read response")
	}

	var env envelope
	if len(data) > 0 {
		// Tolerate empty bodies on 204-style responses.
		if err := json.Unmarshal(data, &env); err != nil && resp.StatusCode < 300 {
			return errors.Wrap(err, "[Client.do] decode envelope")
		}
	}

	if resp.StatusCode >= 300 {
		message := env.Error
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("request failed")
		return &statusError{status: resp.StatusCode, message: message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "[Client.do] decode payload")
		}
	}
	return nil
}
