package collector

import (
	"context"
	"time"
)

// SizeFunc returns the current size of the artifact being watched, or an
// error if it cannot currently be determined (e.g. the file does not exist
// yet).
type SizeFunc func(ctx context.Context) (int64, error)

// AwaitStableSize polls sizeOf every poll interval until it returns the same
// size twice in a row at least minGap apart, treating that as evidence the
// writer has finished. It gives up with the last error or a timeout error
// once deadline elapses.
func AwaitStableSize(ctx context.Context, sizeOf SizeFunc, poll, minGap, timeout time.Duration) (int64, error) {
	deadline := time.Now().Add(timeout)

	var lastSize int64
	var lastSampleAt time.Time
	haveSample := false

	for {
		size, err := sizeOf(ctx)
		if err == nil {
			now := time.Now()
			if haveSample && size == lastSize && now.Sub(lastSampleAt) >= minGap {
				return size, nil
			}
			if !haveSample || size != lastSize {
				lastSampleAt = now
			}
			lastSize = size
			haveSample = true
		}

		if time.Now().After(deadline) {
			if err != nil {
				return 0, err
			}
			return 0, context.DeadlineExceeded
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(poll):
		}
	}
}
