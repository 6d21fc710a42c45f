package refresh

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	clienterrors "github.com/tractionboard/traction-go/internal/errors"
	"github.com/tractionboard/traction-go/tokenstore"
)

// TokenExchanger performs the network exchange of a refresh token for a
// rotated pair.
type TokenExchanger interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error)
}

// Refresher owns the one in-flight refresh for the whole session. Every
// trigger (scheduler tick, wake, or an interceptor's reactive refresh)
// joins the same single flight, so one renewal window produces exactly one
// network exchange and all callers share its result.
//
// The session epoch guards against a logout racing an in-flight exchange:
// InvalidateSession bumps the epoch, and any exchange that completes under a
// stale epoch is discarded without touching the store.
type Refresher struct {
	store     tokenstore.Store
	exchanger TokenExchanger
	group     singleflight.Group
	epoch     atomic.Uint64
	log       zerolog.Logger
}

type RefresherOption func(*Refresher)

func WithRefresherLogger(log zerolog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.log = log
	}
}

func NewRefresher(store tokenstore.Store, exchanger TokenExchanger, options ...RefresherOption) (*Refresher, error) {
	if store == nil {
		return nil, clienterrors.Wrapf(clienterrors.ErrInternal, "[NewRefresher] store is required")
	}
	if exchanger == nil {
		return nil, clienterrors.Wrapf(clienterrors.ErrInternal, "[NewRefresher] exchanger is required")
	}

	r := &Refresher{
		store:     store,
		exchanger: exchanger,
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Refresh exchanges the stored refresh token for a rotated pair and
// persists it. Concurrent callers coalesce into one exchange. The refresh
// token is read inside the flight, never before, so a caller can never act
// on a value another writer has already rotated away.
func (r *Refresher) Refresh(ctx context.Context) (tokenstore.TokenPair, error) {
	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		epoch := r.epoch.Load()

		pair, ok := r.store.Pair()
		if !ok || pair.RefreshToken == "" {
			return nil, clienterrors.ErrNoRefreshToken
		}

		next, err := r.exchanger.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			return nil, err
		}

		if r.epoch.Load() != epoch {
			// Session ended while the exchange was in flight. The result
			// must not resurrect it.
			r.log.Debug().Msg("discarding refresh result from ended session")
			return nil, clienterrors.ErrStaleRefreshResult
		}

		if err := r.store.SwapPair(pair, next); err != nil {
			return nil, err
		}

		r.log.Debug().Msg("token pair rotated")
		return next, nil
	})
	if err != nil {
		return tokenstore.TokenPair{}, err
	}
	return v.(tokenstore.TokenPair), nil
}

// InvalidateSession bumps the session epoch. Any exchange already in flight
// completes into the void.
func (r *Refresher) InvalidateSession() {
	r.epoch.Add(1)
}
