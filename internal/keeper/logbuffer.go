package keeper

import (
	"strings"
	"sync"
	"time"

	"bothost/internal/models"
)

// LogSink receives every entry a LogBuffer emits. Publish is called with the
// buffer locked and must not block.
type LogSink interface {
	Publish(botID string, entry models.LogEntry)
}

// LogBuffer keeps the most recent entries of one bot run in a ring. It is
// the single emission point: an entry is stored and published in one step,
// so anything replayed from the buffer was also broadcast, in the same order.
type LogBuffer struct {
	mu      sync.Mutex
	botID   string
	entries []models.LogEntry
	start   int
	size    int
	sink    LogSink
	now     func() time.Time
}

func NewLogBuffer(botID string, capacity int, sink LogSink) *LogBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LogBuffer{
		botID:   botID,
		entries: make([]models.LogEntry, capacity),
		sink:    sink,
		now:     time.Now,
	}
}

// Emit appends one line. Surrounding whitespace is trimmed and empty lines are dropped.
func (b *LogBuffer) Emit(level models.LogLevel, message string) {
	message = strings.TrimSpace(strings.ToValidUTF8(message, "�"))
	if message == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entry := models.LogEntry{Timestamp: b.now().UTC(), Level: level, Message: message}
	if b.size < len(b.entries) {
		b.entries[(b.start+b.size)%len(b.entries)] = entry
		b.size++
	} else {
		b.entries[b.start] = entry
		b.start = (b.start + 1) % len(b.entries)
	}
	if b.sink != nil {
		b.sink.Publish(b.botID, entry)
	}
}

// Snapshot returns every buffered entry, oldest first.
func (b *LogBuffer) Snapshot() []models.LogEntry {
	return b.Tail(0)
}

// Tail returns the last n entries, or all of them when n <= 0.
func (b *LogBuffer) Tail(n int) []models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tailLocked(n)
}

// Attach runs fn with the last n entries while no new entry can be emitted.
// Registering a subscriber inside fn gives it a gapless, duplicate-free stream.
func (b *LogBuffer) Attach(n int, fn func(replay []models.LogEntry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.tailLocked(n))
}

func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *LogBuffer) tailLocked(n int) []models.LogEntry {
	if n <= 0 || n > b.size {
		n = b.size
	}
	out := make([]models.LogEntry, n)
	first := b.start + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(first+i)%len(b.entries)]
	}
	return out
}
