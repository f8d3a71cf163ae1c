package usecase

import (
	"fmt"
	"sync"
	"time"

	"voicewire/internal/domain"
)

// MessageLog is the append-only record of sealed conversation turns. It may
// be read concurrently; the session loop is the only appender.
type MessageLog struct {
	mu      sync.RWMutex
	entries []domain.VoiceMessage
	nextID  uint64
}

func NewMessageLog() *MessageLog {
	return &MessageLog{}
}

// Append seals one turn. IDs order by arrival so callers can sort merged
// histories.
func (l *MessageLog) Append(role domain.Role, text string) domain.VoiceMessage {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	msg := domain.VoiceMessage{
		ID:        fmt.Sprintf("msg-%06d", l.nextID),
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
	l.entries = append(l.entries, msg)
	return msg
}

// Snapshot returns a copy of all sealed messages in append order.
func (l *MessageLog) Snapshot() []domain.VoiceMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.VoiceMessage, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear empties the log. The ID counter keeps running so IDs stay unique
// across clears.
func (l *MessageLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
