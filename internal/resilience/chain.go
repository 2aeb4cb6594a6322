package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Chain] fails or has an open
// circuit breaker.
var ErrAllFailed = errors.New("all providers failed")

// ChainConfig configures the per-entry circuit breaker created for each
// provider in a [Chain].
type ChainConfig struct {
	Breaker BreakerConfig
}

// entry pairs a provider value with its dedicated circuit breaker.
type entry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Chain is an ordered group of providers of the same type, each guarded by
// its own circuit breaker. Entries are tried strictly in registration order;
// the first healthy success wins and its name is reported to the caller so
// downstream state can record which provider actually served.
//
// The entry list is fixed after construction, making Chain safe for
// concurrent use.
type Chain[T any] struct {
	entries []entry[T]
	cfg     ChainConfig
}

// NewChain creates a [Chain] with primary as the first entry. Additional
// entries are registered with [Chain.Append] before first use.
func NewChain[T any](primary T, primaryName string, cfg ChainConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Append(primaryName, primary)
	return c
}

// Append adds a fallback entry. Entries are tried in the order appended.
// Append must not be called concurrently with Try.
func (c *Chain[T]) Append(name string, value T) {
	bc := c.cfg.Breaker
	bc.Name = name
	c.entries = append(c.entries, entry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(bc),
	})
}

// Names returns the entry names in attempt order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Try runs fn against each entry in order until one succeeds, returning the
// result and the name of the serving entry. Entries with an open breaker are
// skipped. When every entry fails, Try returns [ErrAllFailed] wrapped with
// the last underlying error.
//
// Try is a package-level function because Go does not support method-level
// type parameters.
func Try[T any, R any](c *Chain[T], fn func(name string, v T) (R, error)) (R, string, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		e := &c.entries[i]
		var result R
		err := e.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(e.name, e.value)
			return innerErr
		})
		if err == nil {
			return result, e.name, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider (circuit open)", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return zero, "", fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
