// Package pace bounds the outbound request rate to the data source.
package pace

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrBadConfig       = errors.New("pace: events per window and window must be positive")
	ErrWeightTooLarge  = errors.New("pace: request weight exceeds limiter capacity")
	ErrAcquireCanceled = errors.New("pace: acquire canceled")
)

// Config defines the sliding-window budget.
type Config struct {
	EventsPerWindow int           `yaml:"eventsPerWindow"`
	Window          time.Duration `yaml:"window"`
}

func (c Config) withDefaults() Config {
	if c.EventsPerWindow == 0 && c.Window == 0 {
		c.EventsPerWindow = 20
		c.Window = time.Second
	}
	return c
}

// Validate reports impossible limiter parameters.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.EventsPerWindow <= 0 || c.Window <= 0 {
		return ErrBadConfig
	}
	return nil
}

// Limiter delays callers until the window has capacity. It never drops or
// rejects a sane request, only waits; waiters are served in FIFO order.
type Limiter struct {
	lim      *rate.Limiter
	capacity int
}

// New builds a limiter from config, applying defaults.
func New(cfg Config) (*Limiter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	perSecond := float64(cfg.EventsPerWindow) / cfg.Window.Seconds()
	return &Limiter{
		lim:      rate.NewLimiter(rate.Limit(perSecond), cfg.EventsPerWindow),
		capacity: cfg.EventsPerWindow,
	}, nil
}

// Capacity returns the maximum weight a single acquire may request.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Acquire blocks until weight tokens are available or ctx is done. A
// weight above total capacity can never be satisfied and is reported as a
// configuration error immediately.
func (l *Limiter) Acquire(ctx context.Context, weight int) error {
	if weight <= 0 {
		weight = 1
	}
	if weight > l.capacity {
		return ErrWeightTooLarge
	}
	if err := l.lim.WaitN(ctx, weight); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrAcquireCanceled
	}
	return nil
}
