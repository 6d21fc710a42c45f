package transport

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/refresh"
	"github.com/tractionboard/traction-go/tokenstore"
)

// ImpersonationHeader carries the active (impersonated) tenant id on every
// request issued during a consultant's tenant switch, independent of the
// tenant embedded in the token itself.
const ImpersonationHeader = "X-Impersonated-Org-Id"

const requestIDHeader = "X-Request-Id"

// Navigator abstracts the application's location so a terminal auth failure
// can send the user to the unauthenticated entry point.
type Navigator interface {
	Location() string
	Redirect(path string)
}

// LoginPath is where a terminally failed session is sent.
const LoginPath = "/login"

var publicPathPattern = regexp.MustCompile(`^/(login|register|consultant-register)?$`)

// IsPublicPath reports whether a location tolerates anonymous access.
// Redirecting from these would loop.
func IsPublicPath(path string) bool {
	return publicPathPattern.MatchString(path)
}

// authPaths are never retried after a 401: retrying a failed login or
// refresh through another refresh would recurse.
var authPaths = []string{"/auth/login", "/auth/register", "/auth/refresh"}

func isAuthPath(path string) bool {
	for _, p := range authPaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// Interceptor is an http.RoundTripper that signs outbound requests and owns
// the reactive refresh path: on a single authorization failure it performs
// one refresh through the shared single-flight refresher and redispatches
// the original request once. The redispatch goes straight to the base
// transport, so a request can never be retried twice.
type Interceptor struct {
	base         http.RoundTripper
	store        tokenstore.Store
	refresher    *refresh.Refresher
	navigator    Navigator
	onSessionEnd func()
	log          zerolog.Logger
}

var _ http.RoundTripper = (*Interceptor)(nil)

type InterceptorOption func(*Interceptor)

func WithBase(base http.RoundTripper) InterceptorOption {
	return func(i *Interceptor) {
		i.base = base
	}
}

func WithNavigator(nav Navigator) InterceptorOption {
	return func(i *Interceptor) {
		i.navigator = nav
	}
}

// WithOnSessionEnd sets the callback invoked when a reactive refresh fails
// terminally. The callback is expected to clear all session state.
func WithOnSessionEnd(fn func()) InterceptorOption {
	return func(i *Interceptor) {
		i.onSessionEnd = fn
	}
}

func WithInterceptorLogger(log zerolog.Logger) InterceptorOption {
	return func(i *Interceptor) {
		i.log = log
	}
}

func NewInterceptor(store tokenstore.Store, refresher *refresh.Refresher, options ...InterceptorOption) (*Interceptor, error) {
	if store == nil {
		return nil, errors.New("[NewInterceptor] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewInterceptor] refresher is required")
	}

	i := &Interceptor{
		base:      http.DefaultTransport,
		store:     store,
		refresher: refresher,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(i)
	}
	return i, nil
}

func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	outReq := req.Clone(req.Context())
	i.sign(outReq)

	resp, err := i.base.RoundTrip(outReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	if isAuthPath(req.URL.Path) {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		// The body cannot be replayed; surface the failure as-is.
		return resp, nil
	}

	// Buffer the failed response so it can still be returned if the
	// recovery path fails.
	buffered, err := bufferResponse(resp)
	if err != nil {
		return nil, err
	}

	if _, err := i.refresher.Refresh(req.Context()); err != nil {
		if clienterrors.Is(err, clienterrors.ErrTerminalRefresh) || clienterrors.Is(err, clienterrors.ErrNoRefreshToken) {
			i.endSession()
		} else {
			i.log.Warn().Err(err).Str("path", req.URL.Path).Msg("reactive refresh failed")
		}
		return buffered, nil
	}

	retryReq := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return buffered, nil
		}
		retryReq.Body = body
	}
	i.sign(retryReq)

	i.log.Debug().Str("path", req.URL.Path).Msg("retrying request with refreshed token")
	retryResp, err := i.base.RoundTrip(retryReq)
	if err != nil {
		return nil, err
	}
	return retryResp, nil
}

// sign attaches the bearer token, the impersonation header when a tenant
// switch is active, and a correlation id.
func (i *Interceptor) sign(req *http.Request) {
	if pair, ok := i.store.Pair(); ok && pair.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	}

	if impersonating, _ := i.store.Value(tokenstore.KeyImpersonating); impersonating == "true" {
		if orgID, ok := i.store.Value(tokenstore.KeyActiveOrgID); ok && orgID != "" {
			req.Header.Set(ImpersonationHeader, orgID)
		}
	}

	req.Header.Set(requestIDHeader, uuid.New().String())
}

func (i *Interceptor) endSession() {
	i.log.Warn().Msg("refresh token rejected, ending session")
	if i.onSessionEnd != nil {
		i.onSessionEnd()
	}
	if i.navigator != nil && !IsPublicPath(i.navigator.Location()) {
		i.navigator.Redirect(LoginPath)
	}
}

func bufferResponse(resp *http.Response) (*http.Response, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "[Interceptor] buffer response")
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}
