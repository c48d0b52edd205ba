package sandbox

import (
	"context"
	"math"
	"time"

	"github.com/koustreak/driftbox/internal/errs"
)

// Backoff spaces out readiness probes exponentially.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
}

// Delay is the wait after the given zero-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}

	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// waitReady calls probe until it succeeds or timeout elapses. The error
// reports the last probe failure.
func waitReady(ctx context.Context, timeout time.Duration, b Backoff, probe func(context.Context) (Conn, error)) (Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last error
	for attempt := 0; ; attempt++ {
		conn, err := probe(ctx)
		if err == nil {
			return conn, nil
		}
		last = err

		t := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errs.Wrap(errs.ErrKindProvisioning,
				"sandbox database not ready after "+timeout.String(), last)
		case <-t.C:
		}
	}
}
