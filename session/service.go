package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tractionboard/traction-go/api"
	"github.com/tractionboard/traction-go/internal/config"
	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/refresh"
	"github.com/tractionboard/traction-go/tenant"
	"github.com/tractionboard/traction-go/token"
	"github.com/tractionboard/traction-go/tokenstore"
	"github.com/tractionboard/traction-go/transport"
	"github.com/tractionboard/traction-go/users"
)

// Service is the session state machine: the single source of truth for who
// is logged in and which tenant requests act under. It is an explicitly
// constructed instance with a Start/Stop lifecycle, injected into consumers.
//
// State mutations are serialized by a mutex, and no network call happens
// while it is held: the hazard is a second operation interleaving across a
// network gap, not parallelism.
type Service struct {
	store     tokenstore.Store
	api       *api.Client
	refresher *refresh.Refresher
	scheduler *refresh.Scheduler
	cache     *tenant.Cache
	log       zerolog.Logger

	mu          sync.Mutex
	state       State
	tenantCtx   tenant.Context
	subscribers map[int]func(State)
	nextSubID   int
}

// exchangerProxy lets the refresher be built before the api client that
// serves it. The target is set once during construction.
type exchangerProxy struct {
	client *api.Client
}

func (e *exchangerProxy) Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error) {
	return e.client.Refresh(ctx, refreshToken)
}

type Option func(*options)

type options struct {
	store         tokenstore.Store
	navigator     transport.Navigator
	clock         clockwork.Clock
	logger        zerolog.Logger
	checkInterval time.Duration
	threshold     time.Duration
	httpTimeout   time.Duration
	baseTransport http.RoundTripper
}

// WithStore overrides the file-backed store (primarily for testing).
func WithStore(store tokenstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func WithNavigator(nav transport.Navigator) Option {
	return func(o *options) {
		o.navigator = nav
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

func WithCheckInterval(interval time.Duration) Option {
	return func(o *options) {
		o.checkInterval = interval
	}
}

func WithThreshold(threshold time.Duration) Option {
	return func(o *options) {
		o.threshold = threshold
	}
}

func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.baseTransport = rt
	}
}

// New wires the session core: store, refresher, scheduler, interceptor, and
// api client, all sharing the one single-flight refresh.
func New(cfg config.Config, opts ...Option) (*Service, error) {
	o := &options{
		clock:         clockwork.NewRealClock(),
		logger:        zerolog.Nop(),
		checkInterval: cfg.GetRefreshCheckInterval(),
		threshold:     cfg.GetRefreshThreshold(),
		httpTimeout:   cfg.GetHTTPTimeout(),
		baseTransport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(o)
	}

	store := o.store
	if store == nil {
		fileStore, err := tokenstore.NewFileStore(cfg.GetStorePath())
		if err != nil {
			return nil, errors.Wrap(err, "[session.New] open store")
		}
		store = fileStore
	}

	svc := &Service{
		store:       store,
		log:         o.logger,
		state:       State{IsLoading: true},
		subscribers: make(map[int]func(State)),
	}

	proxy := &exchangerProxy{}
	refresher, err := refresh.NewRefresher(store, proxy,
		refresh.WithRefresherLogger(o.logger))
	if err != nil {
		return nil, errors.Wrap(err, "[session.New] refresher")
	}
	svc.refresher = refresher

	interceptor, err := transport.NewInterceptor(store, refresher,
		transport.WithBase(o.baseTransport),
		transport.WithNavigator(o.navigator),
		transport.WithOnSessionEnd(svc.endSession),
		transport.WithInterceptorLogger(o.logger))
	if err != nil {
		return nil, errors.Wrap(err, "[session.New] interceptor")
	}

	authenticated := &http.Client{Transport: interceptor, Timeout: o.httpTimeout}
	bare := &http.Client{Transport: o.baseTransport, Timeout: o.httpTimeout}

	apiClient, err := api.NewClient(cfg.GetAPIBaseURL(), authenticated, bare,
		api.WithLogger(o.logger))
	if err != nil {
		return nil, errors.Wrap(err, "[session.New] api client")
	}
	svc.api = apiClient
	proxy.client = apiClient

	scheduler, err := refresh.NewScheduler(store, refresher,
		refresh.WithClock(o.clock),
		refresh.WithCheckInterval(o.checkInterval),
		refresh.WithThreshold(o.threshold),
		refresh.WithOnExpired(svc.endSession),
		refresh.WithSchedulerLogger(o.logger))
	if err != nil {
		return nil, errors.Wrap(err, "[session.New] scheduler")
	}
	svc.scheduler = scheduler
	svc.cache = tenant.NewCache(store)

	return svc, nil
}

// Start begins proactive token renewal.
func (s *Service) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
}

// Stop ends proactive renewal. Session state is left as-is.
func (s *Service) Stop() {
	s.scheduler.Stop()
}

// Wake requests an immediate renewal check, e.g. when the application
// regains focus.
func (s *Service) Wake() {
	s.scheduler.Wake()
}

// State returns a snapshot of the current session state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TenantContext returns the tenant all outbound requests currently act
// under.
func (s *Service) TenantContext() tenant.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenantCtx
}

// Cache exposes the tenant-scoped client cache.
func (s *Service) Cache() *tenant.Cache {
	return s.cache
}

// Subscribe registers a state observer and returns an unsubscribe func.
// Observers run after every state change, outside the service lock.
func (s *Service) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// CheckAuth hydrates the session from the stored token pair. No token
// settles LoggedOut; a stored token is only trusted once a profile fetch
// with it succeeds. Any failure clears the tokens (fail closed).
func (s *Service) CheckAuth(ctx context.Context) error {
	pair, ok := s.store.Pair()
	if !ok || pair.AccessToken == "" {
		s.setState(State{})
		return nil
	}

	user, err := s.api.Profile(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("auth check failed, clearing session")
		s.refresher.InvalidateSession()
		if clearErr := s.store.Clear(); clearErr != nil {
			s.log.Error().Err(clearErr).Msg("failed to clear store")
		}
		s.mu.Lock()
		s.tenantCtx = tenant.Context{}
		s.mu.Unlock()
		s.setState(State{})
		return nil
	}

	s.mu.Lock()
	s.state = State{User: user}
	s.tenantCtx = s.rehydrateTenantContextLocked(user)
	snapshot := s.state
	s.mu.Unlock()
	s.notify(snapshot)
	return nil
}

// rehydrateTenantContextLocked rebuilds the tenant context from persisted
// flags, re-deriving switch authority from the freshly fetched profile. A
// persisted impersonation flag is never trusted on its own: if the server
// no longer grants the consultant capability, the switch is dropped.
func (s *Service) rehydrateTenantContextLocked(user *users.User) tenant.Context {
	ctx := tenant.Context{
		ActiveID:   user.OrganizationID,
		ActiveName: user.OrganizationName,
	}

	impersonating, _ := s.store.Value(tokenstore.KeyImpersonating)
	if impersonating != "true" {
		s.persistTenantContext(ctx)
		return ctx
	}

	activeID, _ := s.store.Value(tokenstore.KeyActiveOrgID)
	activeName, _ := s.store.Value(tokenstore.KeyActiveOrgName)
	originalID, _ := s.store.Value(tokenstore.KeyOriginalOrgID)

	restored := tenant.Context{
		ActiveID:      activeID,
		ActiveName:    activeName,
		Impersonating: true,
		OriginalID:    originalID,
	}
	if !user.IsConsultant() || !restored.Valid() {
		s.log.Warn().Str("org", activeID).Msg("dropping persisted tenant switch, capability not confirmed")
		s.persistTenantContext(ctx)
		return ctx
	}
	return restored
}

// Login exchanges credentials for a session. On failure the session stays
// LoggedOut with a user-visible error; credentials are never retried.
func (s *Service) Login(ctx context.Context, email, password string) error {
	s.setState(State{IsLoading: true})

	payload, err := s.api.Login(ctx, email, password)
	if err != nil {
		message := "Login failed"
		if clienterrors.Is(err, clienterrors.ErrInvalidCredentials) {
			message = err.Error()
		}
		s.setState(State{Error: message})
		return err
	}

	return s.establish(payload)
}

// Register creates an account and logs it in. The call is rejected locally
// unless an accepted legal-agreement record is attached.
func (s *Service) Register(ctx context.Context, req api.RegisterRequest) error {
	if !req.LegalAgreement.Accepted {
		err := clienterrors.ErrAgreementRequired
		s.setState(State{Error: err.Error()})
		return err
	}

	s.setState(State{IsLoading: true})

	payload, err := s.api.Register(ctx, req)
	if err != nil {
		message := "Registration failed"
		if clienterrors.Is(err, clienterrors.ErrRegistrationFailed) {
			message = err.Error()
		}
		s.setState(State{Error: message})
		return err
	}

	return s.establish(payload)
}

// establish stores the fresh pair and hydrates state from an auth payload.
func (s *Service) establish(payload *api.AuthPayload) error {
	pair := tokenstore.TokenPair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}
	if err := s.store.SetPair(pair); err != nil {
		s.setState(State{Error: "Login failed"})
		return errors.Wrap(err, "[Service.establish] persist pair")
	}

	s.mu.Lock()
	s.state = State{User: payload.User}
	s.tenantCtx = tenant.Context{
		ActiveID:   payload.User.OrganizationID,
		ActiveName: payload.User.OrganizationName,
	}
	s.persistTenantContext(s.tenantCtx)
	snapshot := s.state
	s.mu.Unlock()
	s.notify(snapshot)
	return nil
}

// Logout revokes the session server-side on a best-effort basis, then
// unconditionally tears down all local state. A refresh in flight when this
// runs completes into a bumped epoch and is discarded.
func (s *Service) Logout(ctx context.Context) {
	if err := s.api.Logout(ctx); err != nil {
		s.log.Warn().Err(err).Msg("server-side logout failed")
	}
	s.endSession()
}

// endSession is the unconditional local teardown shared by logout, terminal
// refresh failures, and failed hydration.
func (s *Service) endSession() {
	s.refresher.InvalidateSession()
	if err := s.store.Clear(); err != nil {
		s.log.Error().Err(err).Msg("failed to clear store")
	}
	s.mu.Lock()
	s.tenantCtx = tenant.Context{}
	s.mu.Unlock()
	s.setState(State{})
}

// UpdateProfile applies profile changes and merges the server's response
// into the hydrated user. Tokens are untouched.
func (s *Service) UpdateProfile(ctx context.Context, updates api.ProfileUpdate) error {
	s.mu.Lock()
	current := s.state.User
	s.mu.Unlock()
	if current == nil {
		return clienterrors.ErrNotAuthenticated
	}

	updated, err := s.api.UpdateProfile(ctx, updates)
	if err != nil {
		return err
	}

	s.mu.Lock()
	merged := mergeUser(*current, updated)
	s.state.User = &merged
	snapshot := s.state
	s.mu.Unlock()
	s.notify(snapshot)
	return nil
}

// mergeUser overlays the server's non-zero fields onto the current user.
func mergeUser(current users.User, updated *users.User) users.User {
	merged := current
	if updated.FirstName != "" {
		merged.FirstName = updated.FirstName
	}
	if updated.LastName != "" {
		merged.LastName = updated.LastName
	}
	if updated.Email != "" {
		merged.Email = updated.Email
	}
	if updated.OrganizationName != "" {
		merged.OrganizationName = updated.OrganizationName
	}
	if len(updated.Capabilities) > 0 {
		merged.Capabilities = updated.Capabilities
	}
	if len(updated.Teams) > 0 {
		merged.Teams = updated.Teams
	}
	return merged
}

// CheckLegalAgreements reports whether the agreement gate must be shown.
// Fails closed: any error means acceptance is still required.
func (s *Service) CheckLegalAgreements(ctx context.Context) (bool, error) {
	status, err := s.api.CheckAgreements(ctx)
	if err != nil {
		return true, errors.Wrap(err, "[Service.CheckLegalAgreements]")
	}
	return status.Required, nil
}

// AcceptLegalAgreements records the user's acceptance.
func (s *Service) AcceptLegalAgreements(ctx context.Context, record api.AgreementRecord) error {
	if err := s.api.AcceptAgreements(ctx, record); err != nil {
		return errors.Wrap(err, "[Service.AcceptLegalAgreements]")
	}
	return nil
}

// Claims decodes the stored access token's informational claims, e.g. for
// an expiry countdown. Never an authorization input.
func (s *Service) Claims() (*token.Claims, error) {
	pair, ok := s.store.Pair()
	if !ok {
		return nil, clienterrors.ErrNotAuthenticated
	}
	return token.Decode(pair.AccessToken)
}

func (s *Service) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.notify(state)
}

func (s *Service) notify(snapshot State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// persistTenantContext mirrors the tenant context into the store so it
// survives restarts. Callers hold the service lock or run during
// construction.
func (s *Service) persistTenantContext(ctx tenant.Context) {
	set := func(key, value string) {
		if err := s.store.SetValue(key, value); err != nil {
			s.log.Error().Err(err).Str("key", key).Msg("failed to persist tenant context")
		}
	}
	set(tokenstore.KeyActiveOrgID, ctx.ActiveID)
	set(tokenstore.KeyActiveOrgName, ctx.ActiveName)
	set(tokenstore.KeyOriginalOrgID, ctx.OriginalID)
	if ctx.Impersonating {
		set(tokenstore.KeyImpersonating, "true")
	} else {
		if err := s.store.DeleteValue(tokenstore.KeyImpersonating); err != nil {
			s.log.Error().Err(err).Msg("failed to clear impersonation flag")
		}
	}
}
