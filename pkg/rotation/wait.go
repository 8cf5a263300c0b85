package rotation

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by WaitUntil when the condition never held.
var ErrWaitTimeout = errors.New("condition not met before timeout")

// DefaultPollInterval is used when WaitUntil gets a non-positive interval.
const DefaultPollInterval = 250 * time.Millisecond

// Condition is evaluated by WaitUntil. Returning an error stops the wait.
type Condition func(ctx context.Context) (bool, error)

// WaitUntil evaluates cond immediately and then every interval until it
// returns true, returns an error, or timeout elapses. Cancellation of ctx is
// reported as ctx.Err(); expiry of timeout as ErrWaitTimeout.
func WaitUntil(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := cond(waitCtx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

type signal int

const (
	signalNone signal = iota
	signalSuccess
	signalRejected
)

// waitForSignal polls until success or rejected is present. Rejection is
// checked first, so a page showing both counts as rejected. Errors from
// Present are treated as "not yet" because pages commonly error while they
// navigate; the last one is returned if the wait expires.
func waitForSignal(ctx context.Context, s Session, success Locator, rejected *Locator, timeout, interval time.Duration) (signal, error) {
	var (
		got     = signalNone
		lastErr error
	)
	err := WaitUntil(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		if rejected != nil {
			present, err := s.Present(ctx, *rejected)
			if err != nil {
				lastErr = err
			} else if present {
				got = signalRejected
				return true, nil
			}
		}
		present, err := s.Present(ctx, success)
		if err != nil {
			lastErr = err
			return false, nil
		}
		if present {
			got = signalSuccess
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, ErrWaitTimeout) && lastErr != nil {
		err = errors.Join(err, lastErr)
	}
	return got, err
}
