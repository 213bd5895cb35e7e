package notification

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level classifies a user-facing notice
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notice is a fire-and-forget message for whatever surface renders notices
type Notice struct {
	Level   Level
	Message string
	Field   string // Optional inline field the message belongs to
	At      time.Time
}

// Channel is the surface any onboarding component publishes notices to.
// Publish never blocks and never reports delivery.
type Channel interface {
	Publish(notice Notice)
}

// Success publishes a success notice
func Success(ch Channel, message string) {
	publish(ch, Notice{Level: LevelSuccess, Message: message})
}

// Info publishes an informational notice
func Info(ch Channel, message string) {
	publish(ch, Notice{Level: LevelInfo, Message: message})
}

// Error publishes an error notice with an optional inline field
func Error(ch Channel, message, field string) {
	publish(ch, Notice{Level: LevelError, Message: message, Field: field})
}

func publish(ch Channel, notice Notice) {
	if ch == nil {
		return
	}
	if notice.At.IsZero() {
		notice.At = time.Now().UTC()
	}
	ch.Publish(notice)
}

// NopChannel drops every notice
type NopChannel struct{}

func (NopChannel) Publish(Notice) {}

// Broadcaster fans notices out to subscribers over buffered Go channels.
// A subscriber whose buffer is full misses the notice.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan Notice
	buffer      int
}

// NewBroadcaster creates a Broadcaster whose subscriptions buffer up to buffer notices
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{
		subscribers: make(map[uuid.UUID]chan Notice),
		buffer:      buffer,
	}
}

// Subscribe registers a new receiver. The returned cancel func closes it.
func (b *Broadcaster) Subscribe() (<-chan Notice, func()) {
	id := uuid.New()
	ch := make(chan Notice, b.buffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish implements Channel
func (b *Broadcaster) Publish(notice Notice) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- notice:
		default:
			slog.Warn("Dropping notice for slow subscriber", "subscriber", id, "level", notice.Level)
		}
	}
}

// Subscribers returns the number of active subscriptions
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
