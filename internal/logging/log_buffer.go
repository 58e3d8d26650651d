package logging

import (
	"sync"

	"watchreload/internal/buffer"
)

// LogBuffer retains the most recent entries for diagnostics endpoints.
type LogBuffer struct {
	mu      sync.Mutex
	entries *buffer.Ring[LogEntry]
}

func NewLogBuffer(size int) *LogBuffer {
	return &LogBuffer{
		entries: buffer.NewRing[LogEntry](size),
	}
}

func (b *LogBuffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Add(entry)
}

func (b *LogBuffer) List() []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries.List()
}

// Matching returns retained entries whose message equals message.
func (b *LogBuffer) Matching(message string) []LogEntry {
	var out []LogEntry
	for _, entry := range b.List() {
		if entry.Message == message {
			out = append(out, entry)
		}
	}
	return out
}
