package refresh_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/refresh"
	"github.com/tractionboard/traction-go/tokenstore"
	"github.com/tractionboard/traction-go/tokenstore/repofake"
)

// fakeExchanger scripts the network side of a refresh. An optional gate
// holds the exchange in flight until the test releases it.
type fakeExchanger struct {
	mu       sync.Mutex
	calls    int
	gate     chan struct{}
	nextPair tokenstore.TokenPair
	err      error
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tokenstore.TokenPair{}, f.err
	}
	return f.nextPair, nil
}

func (f *fakeExchanger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newRefresherFixture(t *testing.T, exchanger *fakeExchanger) (*refresh.Refresher, *repofake.FakeStore) {
	t.Helper()
	store := repofake.NewFakeStore()
	refresher, err := refresh.NewRefresher(store, exchanger)
	require.NoError(t, err)
	return refresher, store
}

func TestRefreshRotatesPair(t *testing.T) {
	rotated := tokenstore.TokenPair{AccessToken: "a2", RefreshToken: "r2"}
	exchanger := &fakeExchanger{nextPair: rotated}
	refresher, store := newRefresherFixture(t, exchanger)
	require.NoError(t, store.SetPair(tokenstore.TokenPair{AccessToken: "a1", RefreshToken: "r1"}))

	got, err := refresher.Refresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, rotated, got)

	stored, ok := store.Pair()
	require.True(t, ok)
	require.Equal(t, rotated, stored)
}

func TestRefreshWithoutStoredToken(t *testing.T) {
	refresher, _ := newRefresherFixture(t, &fakeExchanger{})

	_, err := refresher.Refresh(context.Background())
	require.ErrorIs(t, err, clienterrors.ErrNoRefreshToken)
}

func TestConcurrentTriggersShareOneFlight(t *testing.T) {
	rotated := tokenstore.TokenPair{AccessToken: "a2", RefreshToken: "r2"}
	exchanger := &fakeExchanger{nextPair: rotated, gate: make(chan struct{})}
	refresher, store := newRefresherFixture(t, exchanger)
	require.NoError(t, store.SetPair(tokenstore.TokenPair{AccessToken: "a1", RefreshToken: "r1"}))

	const triggers = 5
	results := make(chan tokenstore.TokenPair, triggers)
	errs := make(chan error, triggers)

	var started sync.WaitGroup
	started.Add(triggers)
	for i := 0; i < triggers; i++ {
		go func() {
			started.Done()
			pair, err := refresher.Refresh(context.Background())
			results <- pair
			errs <- err
		}()
	}
	started.Wait()

	require.Eventually(t, func() bool { return exchanger.callCount() == 1 }, time.Second, time.Millisecond)
	// Give the remaining triggers time to join the flight before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(exchanger.gate)

	for i := 0; i < triggers; i++ {
		require.NoError(t, <-errs)
		require.Equal(t, rotated, <-results)
	}
	require.Equal(t, 1, exchanger.callCount())
}

func TestLogoutDuringFlightDiscardsResult(t *testing.T) {
	rotated := tokenstore.TokenPair{AccessToken: "a2", RefreshToken: "r2"}
	exchanger := &fakeExchanger{nextPair: rotated, gate: make(chan struct{})}
	refresher, store := newRefresherFixture(t, exchanger)
	original := tokenstore.TokenPair{AccessToken: "a1", RefreshToken: "r1"}
	require.NoError(t, store.SetPair(original))

	errCh := make(chan error, 1)
	go func() {
		_, err := refresher.Refresh(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return exchanger.callCount() == 1 }, time.Second, time.Millisecond)

	// Logout wins: bump the epoch while the exchange is still in flight.
	refresher.InvalidateSession()
	close(exchanger.gate)

	require.ErrorIs(t, <-errCh, clienterrors.ErrStaleRefreshResult)

	stored, ok := store.Pair()
	require.True(t, ok)
	require.Equal(t, original, stored)
}

func TestRefreshRespectsConcurrentRotation(t *testing.T) {
	rotated := tokenstore.TokenPair{AccessToken: "a2", RefreshToken: "r2"}
	exchanger := &fakeExchanger{nextPair: rotated, gate: make(chan struct{})}
	refresher, store := newRefresherFixture(t, exchanger)
	require.NoError(t, store.SetPair(tokenstore.TokenPair{AccessToken: "a1", RefreshToken: "r1"}))

	errCh := make(chan error, 1)
	go func() {
		_, err := refresher.Refresh(context.Background())
		errCh <- err
	}()

	require.Eventually(t, func() bool { return exchanger.callCount() == 1 }, time.Second, time.Millisecond)

	// Another writer (e.g. a fresh login) replaces the pair mid-flight.
	fresh := tokenstore.TokenPair{AccessToken: "ax", RefreshToken: "rx"}
	require.NoError(t, store.SetPair(fresh))
	close(exchanger.gate)

	require.ErrorIs(t, <-errCh, clienterrors.ErrPairConflict)

	stored, ok := store.Pair()
	require.True(t, ok)
	require.Equal(t, fresh, stored)
}

func TestRefreshPropagatesTypedErrors(t *testing.T) {
	exchanger := &fakeExchanger{err: errors.Wrap(clienterrors.ErrTerminalRefresh, "refresh token expired")}
	refresher, store := newRefresherFixture(t, exchanger)
	require.NoError(t, store.SetPair(tokenstore.TokenPair{AccessToken: "a1", RefreshToken: "r1"}))

	_, err := refresher.Refresh(context.Background())
	require.ErrorIs(t, err, clienterrors.ErrTerminalRefresh)

	// A failed exchange leaves the stored pair alone.
	stored, ok := store.Pair()
	require.True(t, ok)
	require.Equal(t, "r1", stored.RefreshToken)
}
