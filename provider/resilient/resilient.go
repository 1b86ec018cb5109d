// Package resilient wraps a Remote-tier provider with retries
// (cenkalti/backoff) and a circuit breaker (sony/gobreaker).
//
// Each call runs its retry loop inside one breaker request. After
// FailureThreshold consecutive failed calls the breaker opens and calls fail
// fast with ErrOpen until OpenTimeout elapses. Context cancellation is never
// retried and never counts as a failure.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("resilient: circuit open")

type Config struct {
	Name             string        // breaker name; "" => "tiercache-remote"
	MaxRetries       uint64        // extra attempts per call; 0 => none
	InitialInterval  time.Duration // first backoff; 0 => 50ms
	MaxInterval      time.Duration // backoff cap; 0 => 1s
	FailureThreshold uint32        // consecutive failures to open; 0 => 5
	OpenTimeout      time.Duration // open -> half-open; 0 => 30s
	HalfOpenRequests uint32        // probes allowed half-open; 0 => 1
	OnStateChange    func(name string, from, to gobreaker.State)
}

type Provider struct {
	inner pr.Provider
	cb    *gobreaker.CircuitBreaker[any]
	cfg   Config
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Toucher  = (*Provider)(nil)
)

func New(inner pr.Provider, cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "tiercache-remote"
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 50 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	threshold := cfg.FailureThreshold
	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isContextErr(err)
		},
		OnStateChange: cfg.OnStateChange,
	}
	return &Provider{inner: inner, cb: gobreaker.NewCircuitBreaker[any](st), cfg: cfg}
}

// State is the breaker's current state.
func (p *Provider) State() gobreaker.State { return p.cb.State() }

type getResult struct {
	b  []byte
	ok bool
}

func (p *Provider) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := p.do(ctx, func() (any, error) {
		b, ok, err := p.inner.Get(ctx, key)
		return getResult{b, ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := res.(getResult)
	return r.b, r.ok, nil
}

func (p *Provider) Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	res, err := p.do(ctx, func() (any, error) {
		return p.inner.Set(ctx, key, value, cost, ttl)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (p *Provider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, func() (any, error) {
		return nil, p.inner.Del(ctx, key)
	})
	return err
}

// Touch forwards to the inner provider when it supports TTL refresh and is
// a no-op otherwise.
func (p *Provider) Touch(ctx context.Context, key string, ttl time.Duration) error {
	t, ok := p.inner.(pr.Toucher)
	if !ok {
		return nil
	}
	_, err := p.do(ctx, func() (any, error) {
		return nil, t.Touch(ctx, key, ttl)
	})
	return err
}

func (p *Provider) Close(ctx context.Context) error { return p.inner.Close(ctx) }

func (p *Provider) do(ctx context.Context, op func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.cb.Execute(func() (any, error) {
		return p.retry(ctx, op)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return res, err
}

func (p *Provider) retry(ctx context.Context, op func() (any, error)) (any, error) {
	if p.cfg.MaxRetries == 0 {
		return op()
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.InitialInterval
	exp.MaxInterval = p.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, p.cfg.MaxRetries), ctx)

	var res any
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		r, err := op()
		if err != nil {
			if isContextErr(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}, b)
	return res, err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
