package role

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"maestro/internal/logging"
	"maestro/pkg/models"
)

// ErrRoleUnavailable indicates the role's circuit breaker is open and the
// invocation was rejected without reaching the role. It is a transient
// condition; retrying after the breaker's timeout may succeed.
var ErrRoleUnavailable = errors.New("role temporarily unavailable")

// BreakerConfig tunes the per-role circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures is how many failures in a row trip the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before testing recovery.
	OpenTimeout time.Duration
	// HalfOpenRequests is how many probe requests the half-open state allows.
	HalfOpenRequests uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// WithBreaker wraps a role with a circuit breaker so that a role failing
// repeatedly fails fast instead of tying up executions. Cancellation is not
// counted as a role failure.
func WithBreaker(r Role, cfg BreakerConfig) Role {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        r.Name(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Debugf("[role] circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	return &breakerRole{inner: r, cb: cb}
}

type breakerRole struct {
	inner Role
	cb    *gobreaker.CircuitBreaker
}

func (b *breakerRole) Name() string { return b.inner.Name() }

func (b *breakerRole) Execute(ctx context.Context, task *models.Task, ec *Context) (*Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Execute(ctx, task, ec)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrRoleUnavailable
		}
		return nil, err
	}
	return out.(*Result), nil
}
