package notification

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/glaucare/glaucare/internal/logging"
)

const (
	// ReasonRefreshFailed is broadcast when the refresh token was rejected or
	// the refresh could not complete.
	ReasonRefreshFailed = "refresh_failed"
	// ReasonLogout is broadcast on explicit user logout.
	ReasonLogout = "logout"
)

// ForceLogout describes why credentials were declared invalid.
type ForceLogout struct {
	Reason string
}

// Listener reacts to a force-logout broadcast. Listeners must be idempotent:
// several broadcasts in quick succession must have the effect of one.
type Listener func(ctx context.Context, event ForceLogout)

// Broadcaster is the publish point for force-logout. It holds no persisted
// state; one instance is built at start-up and passed to whoever needs it.
type Broadcaster struct {
	logger *slog.Logger

	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{logger: logging.OrDiscard(logger), listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (b *Broadcaster) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Broadcast delivers event to every listener synchronously, in subscription
// order. It returns once all listeners have run.
func (b *Broadcaster) Broadcast(ctx context.Context, event ForceLogout) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.RUnlock()

	b.logger.Warn("force logout", slog.String("reason", event.Reason), slog.Int("listeners", len(listeners)))
	for _, l := range listeners {
		l(ctx, event)
	}
}

// LogListener returns a listener that only records the event, for
// deployments with no navigation layer attached.
func LogListener(logger *slog.Logger) Listener {
	logger = logging.OrDiscard(logger)
	return func(_ context.Context, event ForceLogout) {
		logger.Info("session ended, login required", slog.String("reason", event.Reason))
	}
}

