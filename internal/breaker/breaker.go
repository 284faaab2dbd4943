package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finpulse/corebank/internal/domain"
)

type Mode int32

const (
	ModeClosed Mode = iota
	ModeOpen
	ModeHalfOpen
)

func (m Mode) String() string {
	switch m {
	case ModeOpen:
		return "open"
	case ModeHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Registry holds one circuit per dependency key. State lives in process
// memory only and resets on restart; updates are CAS-based so the hot path
// never takes a lock.
type Registry struct {
	threshold int32
	cooldown  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[string]*state
}

type state struct {
	mode           atomic.Int32
	failures       atomic.Int32
	transitionedAt atomic.Int64
}

func NewRegistry(failureThreshold int, cooldown time.Duration) *Registry {
	return &Registry{
		threshold: int32(failureThreshold),
		cooldown:  cooldown,
		now:       time.Now,
		states:    make(map[string]*state),
	}
}

// Do runs primary through the circuit for key, bounded by timeout. While
// the circuit is open, fallback is invoked instead; a nil fallback yields
// circuit_open, which the orchestrator treats as retryable. Timeouts count
// as failures exactly like error responses.
func Do[T any](ctx context.Context, r *Registry, key string, timeout time.Duration, primary func(context.Context) (T, error), fallback func() (T, error)) (T, error) {
	s := r.state(key)

	if !r.allow(s) {
		if fallback != nil {
			return fallback()
		}
		var zero T
		return zero, domain.ErrCircuitOpen.WithDetail("dependency", key)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := primary(callCtx)
	if err != nil {
		r.recordFailure(s)
		var zero T
		return zero, err
	}

	r.recordSuccess(s)
	return v, nil
}

// Mode reports the current mode for a dependency key.
func (r *Registry) Mode(key string) Mode {
	return Mode(r.state(key).mode.Load())
}

func (r *Registry) state(key string) *state {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[key]
	if !ok {
		s = &state{}
		s.transitionedAt.Store(r.now().UnixNano())
		r.states[key] = s
	}
	return s
}

// allow decides whether this call may proceed. After the cooldown, exactly
// one caller wins the open -> half-open CAS and becomes the trial call.
func (r *Registry) allow(s *state) bool {
	switch Mode(s.mode.Load()) {
	case ModeClosed:
		return true
	case ModeOpen:
		elapsed := r.now().UnixNano() - s.transitionedAt.Load()
		if time.Duration(elapsed) < r.cooldown {
			return false
		}
		if s.mode.CompareAndSwap(int32(ModeOpen), int32(ModeHalfOpen)) {
			s.transitionedAt.Store(r.now().UnixNano())
			return true
		}
		return false
	default: // half-open, trial already in flight
		return false
	}
}

func (r *Registry) recordFailure(s *state) {
	switch Mode(s.mode.Load()) {
	case ModeHalfOpen:
		if s.mode.CompareAndSwap(int32(ModeHalfOpen), int32(ModeOpen)) {
			s.transitionedAt.Store(r.now().UnixNano())
		}
	case ModeClosed:
		if s.failures.Add(1) >= r.threshold {
			if s.mode.CompareAndSwap(int32(ModeClosed), int32(ModeOpen)) {
				s.transitionedAt.Store(r.now().UnixNano())
			}
		}
	}
}

func (r *Registry) recordSuccess(s *state) {
	switch Mode(s.mode.Load()) {
	case ModeHalfOpen:
		if s.mode.CompareAndSwap(int32(ModeHalfOpen), int32(ModeClosed)) {
			s.transitionedAt.Store(r.now().UnixNano())
		}
		s.failures.Store(0)
	case ModeClosed:
		s.failures.Store(0)
	}
}
