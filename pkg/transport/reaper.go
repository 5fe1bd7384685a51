package transport

import (
	"context"
	"time"
)

// ReapIdle terminates sessions idle for longer than timeout and returns how
// many were terminated. Sessions with an open push stream or a request in
// progress are left alone.
func (d *Dispatcher) ReapIdle(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	n := 0
	for _, sess := range d.registry.Idle(timeout) {
		// The snapshot may be stale by now.
		if sess.Streaming() || sess.Busy() || !sess.IsIdle(timeout) {
			continue
		}
		d.terminate(sess, "idle timeout")
		n++
	}
	return n
}

// RunReaper calls ReapIdle every interval until ctx is cancelled.
func (d *Dispatcher) RunReaper(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = timeout / 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := d.ReapIdle(timeout); n > 0 {
				d.log.Info("reaped idle sessions", "count", n)
			}
		}
	}
}
