package safety

import "time"

// TickSource creates a periodic tick channel and the func that stops it.
type TickSource func(d time.Duration) (<-chan time.Time, func())

// RealTicks is a TickSource backed by time.Ticker.
func RealTicks(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// rotation runs a callback on every tick until stopped. Unlike a bare
// ticker loop it does not fire on start.
type rotation struct {
	quit chan struct{}
	done chan struct{}
}

func startRotation(src TickSource, d time.Duration, callback func()) *rotation {
	r := &rotation{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	ticks, stop := src(d)
	go func() {
		defer close(r.done)
		defer stop()
		for {
			select {
			case <-ticks:
				callback()
			case <-r.quit:
				return
			}
		}
	}()
	return r
}

// stop ends the loop and waits for an in-progress callback to return.
func (r *rotation) stop() {
	close(r.quit)
	<-r.done
}
