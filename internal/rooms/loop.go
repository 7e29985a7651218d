package rooms

import (
	"context"
	"time"
)

// loop drives one match at a fixed wall-clock cadence. Ticks that fall behind
// are caught up via the accumulator, so the schedule stays fixed-rate rather
// than fixed-delay when a step overruns.
type loop struct {
	step time.Duration
	fn   func()
	done chan struct{}
}

func newLoop(targetHz float64, fn func()) *loop {
	if targetHz <= 0 {
		targetHz = 60
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 60
	}
	return &loop{step: interval, fn: fn, done: make(chan struct{})}
}

// start begins ticking until the context is cancelled.
func (l *loop) start(ctx context.Context) {
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.step)
		defer ticker.Stop()
		last := time.Now()
		accumulator := time.Duration(0)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				//1.- Accumulate elapsed time and run fixed steps while catching up.
				accumulator += now.Sub(last)
				last = now
				for accumulator >= l.step {
					if ctx.Err() != nil {
						return
					}
					l.fn()
					accumulator -= l.step
				}
			}
		}
	}()
}

// wait blocks until the loop goroutine has exited.
func (l *loop) wait() {
	<-l.done
}
