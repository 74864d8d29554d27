// Package notify delivers deck change notifications to subscribers.
//
// Delivery is fire-and-forget: Notify never returns an error and never
// blocks the merge that produced the notification.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/deckstore/internal/deck"
)

var droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "deckstore_notifications_dropped_total",
	Help: "Notifications dropped because a subscriber buffer was full",
})

// Notifier receives deck change notifications.
type Notifier interface {
	Notify(ctx context.Context, n deck.Notification)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, deck.Notification) {}

// Multi fans a notification out to several notifiers in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n deck.Notification) {
	for _, nt := range m {
		nt.Notify(ctx, n)
	}
}

// LogNotifier writes each notification as one structured log line.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n deck.Notification) {
	ids := make([]int64, len(n.Conflicts))
	for i, c := range n.Conflicts {
		ids[i] = c.SandboxID
	}
	l.logger.InfoContext(ctx, "deck changed",
		"notification", n.ID,
		"deck", string(n.Deck),
		"storm", n.Storm.String(),
		"sandbox_id", n.SandboxID,
		"user", n.User,
		"invalidated", ids,
	)
}

// ChannelNotifier fans notifications out to buffered subscriber channels.
// A subscriber whose buffer is full misses the notification.
type ChannelNotifier struct {
	mu      sync.Mutex
	subs    map[int]chan deck.Notification
	next    int
	dropped int
}

// NewChannelNotifier creates a notifier with no subscribers.
func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{subs: make(map[int]chan deck.Notification)}
}

// Subscribe registers a channel with the given buffer size. The returned
// function unsubscribes and closes the channel; calling it twice is safe.
func (c *ChannelNotifier) Subscribe(buffer int) (<-chan deck.Notification, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan deck.Notification, buffer)

	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *ChannelNotifier) Notify(_ context.Context, n deck.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- n:
		default:
			c.dropped++
			droppedTotal.Inc()
		}
	}
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (c *ChannelNotifier) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Recorder keeps every notification in memory. Used by the scenario harness
// and tests.
type Recorder struct {
	mu    sync.Mutex
	items []deck.Notification
}

func (r *Recorder) Notify(_ context.Context, n deck.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []deck.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]deck.Notification(nil), r.items...)
}
