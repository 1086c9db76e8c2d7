package engine

import (
	"sync"

	"github.com/geodepot/geodepot/pkg/logger"
)

const logBufferSize = 256

// logBuffer retains the most recent log entries for the debug endpoint.
type logBuffer struct {
	mu      sync.Mutex
	entries []logger.LogEntry
	next    int
	full    bool
}

func newLogBuffer(size int) *logBuffer {
	return &logBuffer{entries: make([]logger.LogEntry, size)}
}

// run drains a logger subscription into the buffer. It returns when the
// channel closes.
func (b *logBuffer) run(ch <-chan logger.LogEntry) {
	for entry := range ch {
		b.add(entry)
	}
}

func (b *logBuffer) add(entry logger.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = entry
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns the retained entries, oldest first.
func (b *logBuffer) Recent() []logger.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		out := make([]logger.LogEntry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}
	out := make([]logger.LogEntry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)
	return out
}
