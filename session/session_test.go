package session_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tractionboard/traction-go/api"
	"github.com/tractionboard/traction-go/authtest"
	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/internal/utils"
	"github.com/tractionboard/traction-go/session"
	"github.com/tractionboard/traction-go/tenant"
	"github.com/tractionboard/traction-go/tokenstore"
	"github.com/tractionboard/traction-go/tokenstore/repofake"
	"github.com/tractionboard/traction-go/users"
)

const (
	testUserID       = "user-1"
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "password123"
	testOrgID        = "org-acme"
	testOrgName      = "Acme Inc"
	clientOrgID      = "org-client"
	clientOrgName    = "Client Co"
)

type testConfig struct {
	baseURL string
}

func (c testConfig) GetAppName() string                      { return "test" }
func (c testConfig) GetAPIBaseURL() string                   { return c.baseURL }
func (c testConfig) GetStorePath() string                    { return "" }
func (c testConfig) GetEnv() string                          { return "test" }
func (c testConfig) GetRefreshCheckInterval() time.Duration  { return 2 * time.Minute }
func (c testConfig) GetRefreshThreshold() time.Duration      { return 5 * time.Minute }
func (c testConfig) GetHTTPTimeout() time.Duration           { return 5 * time.Second }

type testFixture struct {
	backend *authtest.Server
	ts      *httptest.Server
	store   *repofake.FakeStore
	service *session.Service
}

func setupTestFixture(t *testing.T, capabilities ...users.Capability) *testFixture {
	t.Helper()

	if len(capabilities) == 0 {
		capabilities = []users.Capability{users.CapabilityMember}
	}

	backend := authtest.NewServer()
	backend.AddUser(users.User{
		ID:               testUserID,
		Email:            testUserEmail,
		FirstName:        "John",
		LastName:         "Doe",
		OrganizationID:   testOrgID,
		OrganizationName: testOrgName,
		Capabilities:     capabilities,
	}, testUserPassword)

	ts := httptest.NewServer(backend.Handler())
	t.Cleanup(ts.Close)

	store := repofake.NewFakeStore()
	svc, err := session.New(testConfig{baseURL: ts.URL}, session.WithStore(store))
	require.NoError(t, err)

	return &testFixture{backend: backend, ts: ts, store: store, service: svc}
}

func (f *testFixture) login(t *testing.T) {
	t.Helper()
	require.NoError(t, f.service.Login(context.Background(), testUserEmail, testUserPassword))
}

func TestLoginSuccess(t *testing.T) {
	f := setupTestFixture(t)

	f.login(t)

	state := f.service.State()
	require.True(t, state.Authenticated())
	require.Equal(t, testUserEmail, state.User.Email)
	require.False(t, state.IsLoading)
	require.Empty(t, state.Error)

	pair, ok := f.store.Pair()
	require.True(t, ok)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	tc := f.service.TenantContext()
	require.Equal(t, testOrgID, tc.ActiveID)
	require.False(t, tc.Impersonating)
}

func TestLoginWrongPassword(t *testing.T) {
	f := setupTestFixture(t)

	err := f.service.Login(context.Background(), testUserEmail, "wrongpass")
	require.ErrorIs(t, err, clienterrors.ErrInvalidCredentials)

	state := f.service.State()
	require.Nil(t, state.User)
	require.False(t, state.IsLoading)
	require.Contains(t, state.Error, "Invalid email or password")

	_, ok := f.store.Pair()
	require.False(t, ok)
}

func TestCheckAuthWithoutToken(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.service.CheckAuth(context.Background()))

	state := f.service.State()
	require.Nil(t, state.User)
	require.False(t, state.IsLoading)
	require.Empty(t, state.Error)
}

func TestCheckAuthHydratesFromStoredToken(t *testing.T) {
	f := setupTestFixture(t)

	access, refreshToken := f.backend.IssuePair(testUserID, 15*time.Minute)
	require.NoError(t, f.store.SetPair(tokenstore.TokenPair{AccessToken: access, RefreshToken: refreshToken}))

	require.NoError(t, f.service.CheckAuth(context.Background()))

	state := f.service.State()
	require.True(t, state.Authenticated())
	require.Equal(t, testUserEmail, state.User.Email)

	tc := f.service.TenantContext()
	require.Equal(t, testOrgID, tc.ActiveID)
	require.Equal(t, testOrgName, tc.ActiveName)
}

func TestCheckAuthFailsClosed(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.store.SetPair(tokenstore.TokenPair{AccessToken: "garbage", RefreshToken: "bogus"}))

	require.NoError(t, f.service.CheckAuth(context.Background()))

	state := f.service.State()
	require.Nil(t, state.User)
	require.False(t, state.IsLoading)

	_, ok := f.store.Pair()
	require.False(t, ok)
}

func TestLogoutClearsEverything(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	require.NoError(t, f.service.Cache().Set(tenant.CacheKeyTheme, "dark"))

	f.service.Logout(context.Background())

	state := f.service.State()
	require.Nil(t, state.User)
	require.Empty(t, state.Error)

	_, ok := f.store.Pair()
	require.False(t, ok)
	require.Empty(t, f.store.TenantKeys())
	require.Equal(t, tenant.Context{}, f.service.TenantContext())
	require.Equal(t, 1, f.backend.LogoutCalls)
}

func TestLogoutIsUnconditional(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	// Server revocation failing must not keep the session alive locally.
	f.ts.Close()
	f.service.Logout(context.Background())

	require.Nil(t, f.service.State().User)
	_, ok := f.store.Pair()
	require.False(t, ok)
}

func TestRegisterRequiresAcceptedAgreement(t *testing.T) {
	f := setupTestFixture(t)

	err := f.service.Register(context.Background(), api.RegisterRequest{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane@example.com",
		Password:  "password456",
		LegalAgreement: api.AgreementRecord{
			Type:     "terms",
			Version:  "2025-01",
			Accepted: false,
		},
	})
	require.ErrorIs(t, err, clienterrors.ErrAgreementRequired)
	require.Nil(t, f.service.State().User)
	_, ok := f.store.Pair()
	require.False(t, ok)
}

func TestRegisterSuccess(t *testing.T) {
	f := setupTestFixture(t)

	err := f.service.Register(context.Background(), api.RegisterRequest{
		FirstName:        "Jane",
		LastName:         "Doe",
		Email:            "jane@example.com",
		Password:         "password456",
		OrganizationName: "Jane Partners",
		LegalAgreement: api.AgreementRecord{
			Type:       "terms",
			Version:    "2025-01",
			Accepted:   true,
			AcceptedAt: time.Now(),
		},
	})
	require.NoError(t, err)

	state := f.service.State()
	require.True(t, state.Authenticated())
	require.Equal(t, "jane@example.com", state.User.Email)

	_, ok := f.store.Pair()
	require.True(t, ok)
}

func TestUpdateProfileMergesServerResponse(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	err := f.service.UpdateProfile(context.Background(), api.ProfileUpdate{FirstName: utils.Ptr("Johnny")})
	require.NoError(t, err)

	state := f.service.State()
	require.Equal(t, "Johnny", state.User.FirstName)
	require.Equal(t, "Doe", state.User.LastName)
	require.Equal(t, testUserEmail, state.User.Email)
}

func TestUpdateProfileRequiresAuthentication(t *testing.T) {
	f := setupTestFixture(t)

	err := f.service.UpdateProfile(context.Background(), api.ProfileUpdate{FirstName: utils.Ptr("Johnny")})
	require.ErrorIs(t, err, clienterrors.ErrNotAuthenticated)
}

func TestLegalAgreementGate(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	f.backend.SetAgreementRequired(testUserID, true)
	required, err := f.service.CheckLegalAgreements(context.Background())
	require.NoError(t, err)
	require.True(t, required)

	err = f.service.AcceptLegalAgreements(context.Background(), api.AgreementRecord{
		Type:       "terms",
		Version:    "2025-01",
		Accepted:   true,
		AcceptedAt: time.Now(),
	})
	require.NoError(t, err)

	required, err = f.service.CheckLegalAgreements(context.Background())
	require.NoError(t, err)
	require.False(t, required)
}

func TestLegalAgreementCheckFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	// An unreachable server means the gate stays up.
	f.ts.Close()
	required, err := f.service.CheckLegalAgreements(context.Background())
	require.Error(t, err)
	require.True(t, required)
}

func TestSubscribeObservesStateChanges(t *testing.T) {
	f := setupTestFixture(t)

	var snapshots []session.State
	unsubscribe := f.service.Subscribe(func(s session.State) {
		snapshots = append(snapshots, s)
	})

	f.login(t)
	require.NotEmpty(t, snapshots)
	last := snapshots[len(snapshots)-1]
	require.True(t, last.Authenticated())

	unsubscribe()
	count := len(snapshots)
	f.service.Logout(context.Background())
	require.Len(t, snapshots, count)
}

func TestClaimsExposeExpiry(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	claims, err := f.service.Claims()
	require.NoError(t, err)
	require.Equal(t, testUserID, claims.Subject)
	require.True(t, claims.ExpiresAt.After(time.Now()))
}
