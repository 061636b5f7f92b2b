// Package breaker wraps sony/gobreaker for calls into shared dependencies
// such as the notification store and the user directory.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ehr/carecoord/internal/platform/apperror"
)

// ErrOpen is returned without calling the dependency while the breaker is open.
var ErrOpen = apperror.Infrastructure("dependency unavailable", gobreaker.ErrOpenState)

type Config struct {
	Name string
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval clears failure counts while closed; zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             15 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// StateListener is told about every state change, for metrics.
type StateListener func(name string, state gobreaker.State)

type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

func New(cfg Config, logger zerolog.Logger, listeners ...StateListener) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			for _, l := range listeners {
				l(name, to)
			}
		},
		// Domain outcomes such as not-found are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperror.IsRetryable(err)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), name: cfg.Name}
}

func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn through the breaker. An open breaker yields ErrOpen.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// HealthCheck fails while the breaker is open.
func (b *Breaker) HealthCheck(context.Context) error {
	if b.cb.State() == gobreaker.StateOpen {
		return ErrOpen
	}
	return nil
}

// StateValue maps a state onto the gauge encoding 0=closed, 1=open, 2=half-open.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
