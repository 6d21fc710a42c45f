package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/token"
	"github.com/tractionboard/traction-go/tokenstore"
)

const (
	defaultCheckInterval = 2 * time.Minute
	defaultThreshold     = 5 * time.Minute
)

// Scheduler drives proactive renewal: a recurring tick plus an on-demand
// Wake (the application calls it when it regains focus). Both paths run the
// same check and join the refresher's single flight, so overlapping
// triggers cost one exchange.
type Scheduler struct {
	store     tokenstore.Store
	refresher *Refresher
	clock     clockwork.Clock
	interval  time.Duration
	threshold time.Duration
	onExpired func()
	log       zerolog.Logger

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type SchedulerOption func(*Scheduler)

func WithClock(clock clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

func WithCheckInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

func WithThreshold(threshold time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.threshold = threshold
	}
}

// WithOnExpired sets the callback invoked when a proactive refresh fails
// terminally (the refresh token itself was rejected).
func WithOnExpired(fn func()) SchedulerOption {
	return func(s *Scheduler) {
		s.onExpired = fn
	}
}

func WithSchedulerLogger(log zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = log
	}
}

func NewScheduler(store tokenstore.Store, refresher *Refresher, options ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, clienterrors.Wrapf(clienterrors.ErrInternal, "[NewScheduler] store is required")
	}
	if refresher == nil {
		return nil, clienterrors.Wrapf(clienterrors.ErrInternal, "[NewScheduler] refresher is required")
	}

	s := &Scheduler{
		store:     store,
		refresher: refresher,
		clock:     clockwork.NewRealClock(),
		interval:  defaultCheckInterval,
		threshold: defaultThreshold,
		log:       zerolog.Nop(),
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Start begins the renewal loop, checking once immediately and then on
// every tick or wake until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.check(ctx)

		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.check(ctx)
			case <-s.wakeCh:
				s.check(ctx)
			}
		}
	}()
}

// Stop ends the renewal loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Wake requests an immediate check, coalescing with any already pending.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) check(ctx context.Context) {
	pair, ok := s.store.Pair()
	if !ok || pair.AccessToken == "" {
		return
	}
	if !token.ShouldRefresh(pair.AccessToken, s.threshold) {
		return
	}

	_, err := s.refresher.Refresh(ctx)
	switch {
	case err == nil:
		s.log.Debug().Msg("proactive refresh succeeded")
	case clienterrors.Is(err, clienterrors.ErrTerminalRefresh):
		s.log.Warn().Err(err).Msg("refresh token rejected, ending session")
		if s.onExpired != nil {
			s.onExpired()
		}
	case clienterrors.Is(err, clienterrors.ErrNoRefreshToken),
		clienterrors.Is(err, clienterrors.ErrStaleRefreshResult):
		s.log.Debug().Err(err).Msg("proactive refresh skipped")
	default:
		// Transient: the current token is still valid until expiry, try
		// again next tick.
		s.log.Warn().Err(err).Msg("proactive refresh failed, will retry")
	}
}
