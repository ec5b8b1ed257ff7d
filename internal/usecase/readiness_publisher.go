package usecase

import (
	"sync"
	"time"

	"popcornstream/internal/domain"
	"popcornstream/internal/metrics"
)

// ReadinessPublisher holds the latest readiness state of one attempt and
// fans it out to subscribers. Subscribers always see the most recent state;
// intermediate states may be skipped for slow readers.
type ReadinessPublisher struct {
	mu        sync.RWMutex
	current   domain.ReadinessState
	subs      map[int]chan domain.ReadinessState
	nextSub   int
	observers []func(domain.ReadinessState)
	now       func() time.Time
}

func NewReadinessPublisher(attempt domain.AttemptID, observers ...func(domain.ReadinessState)) *ReadinessPublisher {
	return &ReadinessPublisher{
		current:   domain.ReadinessState{AttemptID: attempt},
		subs:      make(map[int]chan domain.ReadinessState),
		observers: observers,
		now:       time.Now,
	}
}

// Publish replaces the current state. Updates for a different session and
// updates after a terminal state are rejected with ErrStaleUpdate, except a
// failed attempt may restart as processing under a new session id.
func (p *ReadinessPublisher) Publish(state domain.ReadinessState) error {
	p.mu.Lock()
	cur := p.current
	if !acceptable(cur, state) {
		p.mu.Unlock()
		metrics.StaleEventsDiscardedTotal.WithLabelValues("readiness").Inc()
		return ErrStaleUpdate
	}

	state.AttemptID = cur.AttemptID
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = p.now().UTC()
	}
	p.current = state
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- state
	}
	observers := p.observers
	p.mu.Unlock()

	if cur.Status != state.Status {
		metrics.ReadinessTransitionsTotal.WithLabelValues(string(state.Status)).Inc()
	}
	for _, fn := range observers {
		fn(state)
	}
	return nil
}

func acceptable(cur, next domain.ReadinessState) bool {
	if cur.Status == "" {
		return true
	}
	if cur.Status.IsTerminal() {
		return cur.Status == domain.StatusFailed &&
			next.Status == domain.StatusProcessing &&
			next.SessionID != cur.SessionID
	}
	return next.SessionID == cur.SessionID
}

func (p *ReadinessPublisher) Current() domain.ReadinessState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel primed with the current state and a function
// that closes it.
func (p *ReadinessPublisher) Subscribe() (<-chan domain.ReadinessState, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := make(chan domain.ReadinessState, 1)
	if p.current.Status != "" {
		ch <- p.current
	}
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			close(ch)
			p.mu.Unlock()
		})
	}
}
