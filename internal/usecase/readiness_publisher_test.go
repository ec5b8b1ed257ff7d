package usecase

import (
	"errors"
	"sync"
	"testing"
	"time"

	"popcornstream/internal/domain"
)

func TestReadinessPublisherLatestValue(t *testing.T) {
	p := NewReadinessPublisher("a1")
	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()

	for i := 1; i <= 5; i++ {
		if err := p.Publish(domain.ReadinessState{SessionID: "s1", Status: domain.StatusBuffering, Progress: float64(i) / 10}); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	select {
	case st := <-ch:
		if st.Progress != 0.5 {
			t.Fatalf("subscriber got progress %v, want latest 0.5", st.Progress)
		}
		if st.AttemptID != "a1" || st.UpdatedAt.IsZero() {
			t.Fatalf("state not stamped: %+v", st)
		}
	default:
		t.Fatal("subscriber has no state")
	}
}

func TestReadinessPublisherSubscribePrimed(t *testing.T) {
	p := NewReadinessPublisher("a1")
	_ = p.Publish(domain.ReadinessState{SessionID: "s1", Status: domain.StatusProcessing})

	ch, unsubscribe := p.Subscribe()
	st := <-ch
	if st.Status != domain.StatusProcessing {
		t.Fatalf("primed status = %s", st.Status)
	}
	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestReadinessPublisherRejectsStaleUpdates(t *testing.T) {
	p := NewReadinessPublisher("a1")
	mustPublish(t, p, domain.ReadinessState{SessionID: "s1", Status: domain.StatusProcessing})

	if err := p.Publish(domain.ReadinessState{SessionID: "s0", Status: domain.StatusReady}); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("foreign session update = %v", err)
	}

	mustPublish(t, p, domain.ReadinessState{SessionID: "s1", Status: domain.StatusReady})
	if err := p.Publish(domain.ReadinessState{SessionID: "s1", Status: domain.StatusBuffering}); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("update after ready = %v", err)
	}
	if err := p.Publish(domain.ReadinessState{SessionID: "s2", Status: domain.StatusProcessing}); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("restart after ready = %v", err)
	}
	if p.Current().Status != domain.StatusReady {
		t.Fatalf("status = %s", p.Current().Status)
	}
}

func TestReadinessPublisherRetryAfterFailure(t *testing.T) {
	p := NewReadinessPublisher("a1")
	mustPublish(t, p, domain.ReadinessState{SessionID: "s1", Status: domain.StatusProcessing})
	mustPublish(t, p, domain.ReadinessState{SessionID: "s1", Status: domain.StatusFailed, Failure: domain.NewFailure(domain.ErrInsufficientStorage)})

	if err := p.Publish(domain.ReadinessState{SessionID: "s1", Status: domain.StatusProcessing}); !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("same-session restart = %v", err)
	}
	mustPublish(t, p, domain.ReadinessState{SessionID: "s2", Status: domain.StatusProcessing})
	if p.Current().Failure != nil {
		t.Fatal("failure should be cleared on retry")
	}
}

func TestReadinessPublisherObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.ReadinessStatus
	p := NewReadinessPublisher("a1", func(st domain.ReadinessState) {
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	})
	mustPublish(t, p, domain.ReadinessState{SessionID: "s1", Status: domain.StatusProcessing})
	mustPublish(t, p, domain.ReadinessState{SessionID: "s1", Status: domain.StatusCancelled})
	_ = p.Publish(domain.ReadinessState{SessionID: "s1", Status: domain.StatusReady})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[1] != domain.StatusCancelled {
		t.Fatalf("observer saw %v", seen)
	}
}

func TestReadinessPublisherKeepsExplicitTimestamp(t *testing.T) {
	p := NewReadinessPublisher("a1")
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mustPublish(t, p, domain.ReadinessState{SessionID: "s1", Status: domain.StatusProcessing, UpdatedAt: at})
	if !p.Current().UpdatedAt.Equal(at) {
		t.Fatalf("UpdatedAt = %v", p.Current().UpdatedAt)
	}
}

func mustPublish(t *testing.T, p *ReadinessPublisher, st domain.ReadinessState) {
	t.Helper()
	if err := p.Publish(st); err != nil {
		t.Fatalf("Publish(%s): %v", st.Status, err)
	}
}
