package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// was skipped by its breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the breaker template applied to every group member. The
// Name field is replaced by the member name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// MemberHealth is the breaker state of one group member.
type MemberHealth struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// FallbackGroup holds a primary and any number of fallbacks of the same
// provider type, tried in registration order.
type FallbackGroup[T any] struct {
	cfg FallbackConfig

	mu      sync.RWMutex
	members []member[T]
}

// NewFallbackGroup returns a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends a member behind a fresh breaker.
func (g *FallbackGroup[T]) AddFallback(name string, v T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewCircuitBreaker(bc)})
}

// Len returns the number of members.
func (g *FallbackGroup[T]) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Health reports every member's breaker state in order.
func (g *FallbackGroup[T]) Health() []MemberHealth {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]MemberHealth, len(g.members))
	for i, m := range g.members {
		out[i] = MemberHealth{Name: m.name, State: m.breaker.State().String()}
	}
	return out
}

func (g *FallbackGroup[T]) snapshot() []member[T] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]member[T](nil), g.members...)
}

// Call runs fn against each member in order until one succeeds. A member
// whose breaker is open is skipped. Failover stops as soon as ctx is done.
// When nothing succeeds the error wraps [ErrAllFailed] and every member's
// error.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, m := range g.snapshot() {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := m.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(m.value)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", m.name)
			continue
		}
		slog.Warn("provider failed, trying next", "provider", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
