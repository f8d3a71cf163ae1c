// Package telemetry keeps the bounded in-memory debug log that records every
// state transition and protocol event for operator diagnosis.
package telemetry

import (
	"sync"
	"time"

	"voicewire/internal/domain"
)

// DefaultCapacity bounds the ring when no explicit capacity is given.
const DefaultCapacity = 100

// Ring is an append-only circular buffer of debug entries. Once full, each
// append evicts the oldest entry. One writer, any number of readers.
type Ring struct {
	mu      sync.RWMutex
	entries []domain.DebugLogEntry
	start   int
	count   int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]domain.DebugLogEntry, capacity)}
}

// Append records one entry, evicting the oldest when full. Message and any
// string-bearing payload fields are passed through the credential redactor
// before they are stored.
func (r *Ring) Append(level domain.LogLevel, message string, data domain.DiagPayload) {
	entry := domain.DebugLogEntry{
		Level:     level,
		Message:   Redact(message),
		Timestamp: time.Now(),
		Data:      redactPayload(data),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = entry
		r.count++
		return
	}
	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

// Info appends an info entry.
func (r *Ring) Info(message string, data domain.DiagPayload) {
	r.Append(domain.LevelInfo, message, data)
}

// Warn appends a warning entry.
func (r *Ring) Warn(message string, data domain.DiagPayload) {
	r.Append(domain.LevelWarn, message, data)
}

// Error appends an error entry.
func (r *Ring) Error(message string, data domain.DiagPayload) {
	r.Append(domain.LevelError, message, data)
}

// Success appends a success entry.
func (r *Ring) Success(message string, data domain.DiagPayload) {
	r.Append(domain.LevelSuccess, message, data)
}

// Snapshot returns the entries oldest-first. The returned slice is a copy.
func (r *Ring) Snapshot() []domain.DebugLogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DebugLogEntry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	return out
}

// Len reports how many entries are currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Clear empties the ring. Clearing never touches connection state.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.count = 0
}

func redactPayload(data domain.DiagPayload) domain.DiagPayload {
	switch d := data.(type) {
	case domain.TextDiag:
		return domain.TextDiag(Redact(string(d)))
	case domain.FaultDiag:
		d.Detail = Redact(d.Detail)
		return d
	default:
		return data
	}
}
