package host

import (
	"log/slog"
	"sync"

	"popcornstream/internal/metrics"
)

// Inhibitor tracks reasons to keep the host awake. The first holder logs
// the inhibition and the last release lifts it.
type Inhibitor struct {
	logger *slog.Logger

	mu      sync.Mutex
	holders map[uint64]string
	next    uint64
}

func NewInhibitor(logger *slog.Logger) *Inhibitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inhibitor{logger: logger, holders: make(map[uint64]string)}
}

// Acquire registers a holder. The returned release func is idempotent.
func (i *Inhibitor) Acquire(reason string) func() {
	i.mu.Lock()
	id := i.next
	i.next++
	i.holders[id] = reason
	n := len(i.holders)
	i.mu.Unlock()

	metrics.IdleInhibitorsHeld.Set(float64(n))
	if n == 1 {
		i.logger.Info("idle inhibitor: sleep inhibited", slog.String("reason", reason))
	}

	var once sync.Once
	return func() {
		once.Do(func() { i.release(id) })
	}
}

func (i *Inhibitor) release(id uint64) {
	i.mu.Lock()
	reason := i.holders[id]
	delete(i.holders, id)
	n := len(i.holders)
	i.mu.Unlock()

	metrics.IdleInhibitorsHeld.Set(float64(n))
	if n == 0 {
		i.logger.Info("idle inhibitor: sleep allowed", slog.String("lastReason", reason))
	}
}

// Held returns the number of active holders.
func (i *Inhibitor) Held() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.holders)
}
