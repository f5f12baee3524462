package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mailsift_server/core/service/watch"
)

// Sweep timings. The first sweep runs shortly after boot so a process
// restarted past a watch expiry recovers immediately instead of waiting
// out a full interval.
const (
	sweepInterval   = 12 * time.Hour
	sweepBootDelay  = 5 * time.Second
	sweepRunTimeout = 10 * time.Minute
)

// WatchSweeper periodically renews expiring push watches.
type WatchSweeper struct {
	manager *watch.Manager
	log     zerolog.Logger
}

// NewWatchSweeper wires the sweeper.
func NewWatchSweeper(manager *watch.Manager, log zerolog.Logger) *WatchSweeper {
	return &WatchSweeper{
		manager: manager,
		log:     log.With().Str("component", "watch_sweeper").Logger(),
	}
}

// Run sweeps until ctx is cancelled.
func (s *WatchSweeper) Run(ctx context.Context) error {
	s.log.Info().
		Dur("interval", sweepInterval).
		Dur("boot_delay", sweepBootDelay).
		Msg("starting watch sweeper")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sweepBootDelay):
		s.sweep(ctx)
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *WatchSweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sweepRunTimeout)
	defer cancel()

	if _, err := s.manager.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("watch sweep failed")
	}
}
