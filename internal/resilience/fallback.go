package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every provider in a [FallbackGroup] either
// failed or sits behind an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig shapes the per-provider circuit breaker a [FallbackGroup]
// creates for each entry. The Name field is overwritten with the entry's
// own name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs one provider with its dedicated breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary provider and zero or more fallbacks of the
// same type. A call walks the list in registration order, skipping entries
// whose breaker is open, until one succeeds.
//
// Safe for concurrent use after the fallbacks are registered.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup builds a group with primary as its first entry. Register
// fallbacks with [FallbackGroup.AddFallback] before serving traffic.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.entries = append(fg.entries, fg.entry(primaryName, primary))
	return fg
}

// AddFallback appends a provider tried after all earlier entries.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.entries = append(fg.entries, fg.entry(name, fallback))
}

func (fg *FallbackGroup[T]) entry(name string, value T) fallbackEntry[T] {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	return fallbackEntry[T]{name: name, value: value, breaker: NewCircuitBreaker(cbCfg)}
}

// Execute runs fn against each healthy entry in order until one succeeds.
// When every entry fails, the last error is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		err := entry.breaker.Execute(func() error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		logAttempt(entry.name, err)
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. A package-level function because methods cannot add type
// parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		logAttempt(entry.name, err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

func logAttempt(provider string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("provider skipped, circuit open", "provider", provider)
		return
	}
	slog.Warn("provider failed, trying next", "provider", provider, "err", err)
}
