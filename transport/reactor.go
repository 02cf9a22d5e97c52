package transport

import (
	"context"
	"time"
)

// TimerReactor is the default Reactor: it schedules backoff timers with the
// standard library's time.Timer. Config.Reactor accepts any other Reactor
// implementation; the package's own tests use this default.
type TimerReactor struct{}

func (TimerReactor) ScheduleTimer(ctx context.Context, d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	t := time.NewTimer(d)
	go func() {
		defer t.Stop()
		select {
		case <-t.C:
			close(ch)
		case <-ctx.Done():
		}
	}()
	return ch
}
