package conversation

import (
	"context"
	"time"

	"github.com/MrWong99/skystories/internal/clock"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectPolicy controls automatic reconnection after the backend closes a
// session unexpectedly. It never applies to sessions that ended with an
// error: those surface to the user and stay down.
type ReconnectPolicy struct {
	// Enabled turns reconnection on. Off by default.
	Enabled bool

	// MaxRetries is the maximum number of attempts per disconnection.
	// Defaults to 5 if zero.
	MaxRetries int

	// Backoff is the initial wait before the first attempt. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff caps the wait between attempts. Defaults to 30s if zero.
	MaxBackoff time.Duration
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// delays returns the wait before each attempt.
func (p ReconnectPolicy) delays() []time.Duration {
	p = p.withDefaults()
	out := make([]time.Duration, p.MaxRetries)
	d := p.Backoff
	for i := range out {
		out[i] = d
		d *= 2
		if d > p.MaxBackoff {
			d = p.MaxBackoff
		}
	}
	return out
}

// sleep waits for d on clk or until ctx is done, reporting whether the full
// wait elapsed.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	elapsed := make(chan struct{})
	t := clk.AfterFunc(d, func() { close(elapsed) })
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-elapsed:
		return true
	}
}
