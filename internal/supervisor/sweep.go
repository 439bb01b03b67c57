package supervisor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/tankwatch/internal/tank"
)

// sweepParallelism bounds concurrent reconnects in one sweep.
const sweepParallelism = 8

func (s *Supervisor) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep tries to reconnect every Disconnected or Lost tank whose backoff has
// expired. Tanks mid-transition are skipped.
func (s *Supervisor) Sweep(ctx context.Context) {
	now := s.now()

	s.mu.RLock()
	due := make([]*managed, 0)
	for _, m := range s.tanks {
		if m.dueForRetry(now) {
			due = append(due, m)
		}
	}
	s.mu.RUnlock()

	if len(due) == 0 {
		return
	}
	s.logger.Debug("recovery sweep", "tanks", len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, m := range due {
		g.Go(func() error {
			s.connect(gctx, m, "sweep")
			return nil
		})
	}
	g.Wait() //nolint:errcheck // connect never returns errors
}

func (m *managed) dueForRetry(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed || m.transitioning {
		return false
	}
	if m.state != StateDisconnected && m.state != StateLost {
		return false
	}
	return !now.Before(m.nextAttempt)
}

// backoff returns how long a tank waits after the given number of
// consecutive failures. The first failure is retried by the next sweep;
// from the second on the wait is the sweep interval doubled per further
// failure, capped, with jitter.
func (s *Supervisor) backoff(failures int) time.Duration {
	if failures <= 1 {
		return 0
	}
	delay := s.sweepInterval
	for i := 1; i < failures && delay < s.backoffMax; i++ {
		delay *= 2
	}
	if delay > s.backoffMax {
		delay = s.backoffMax
	}
	if s.jitter > 0 {
		factor := 1 + s.jitter*(2*s.random()-1)
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// forEach runs fn for every tank concurrently and returns the first error.
func (s *Supervisor) forEach(ctx context.Context, tanks []tank.Tank, fn func(context.Context, tank.Tank) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, t := range tanks {
		g.Go(func() error {
			return fn(gctx, t)
		})
	}
	return g.Wait()
}
