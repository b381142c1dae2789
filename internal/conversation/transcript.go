package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/skystories/internal/clock"
	"github.com/google/uuid"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is one logged utterance.
type Entry struct {
	ID        string    `json:"id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is the append-only, ordered record of exchanged utterances. Append
// order is chronological order; entries are never edited or reordered.
//
// Consumers that render the log poll Since with the last version they saw,
// or wait on Changed, to learn that it has grown.
type Log struct {
	clock clock.Clock

	mu      sync.Mutex
	entries []Entry
	version uint64
	changed chan struct{}
}

// NewLog returns an empty Log that timestamps entries with c. A nil c uses
// the real clock.
func NewLog(c clock.Clock) *Log {
	if c == nil {
		c = clock.Real()
	}
	return &Log{clock: c, changed: make(chan struct{})}
}

// Append adds an entry for speaker. Text is trimmed; empty or
// whitespace-only text is dropped and Append reports false.
func (l *Log) Append(speaker Speaker, text string) (Entry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, false
	}

	e := Entry{
		ID:        newEntryID(),
		Speaker:   speaker,
		Text:      text,
		Timestamp: l.clock.Now(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	l.bumpLocked()
	return e, true
}

// Clear empties the log. It is only used on a full session reset.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.bumpLocked()
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy of all entries in append order.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Version returns a counter that increases on every Append or Clear.
func (l *Log) Version() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// Since returns the entries appended after the log was at version v, and the
// current version. If the log was cleared after v, it returns every entry.
func (l *Log) Since(v uint64) ([]Entry, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v >= l.version {
		return nil, l.version
	}
	// Each version step after the last Clear added exactly one entry.
	n := int(l.version - v)
	if n > len(l.entries) {
		n = len(l.entries)
	}
	return append([]Entry(nil), l.entries[len(l.entries)-n:]...), l.version
}

// Changed returns a channel that is closed on the next Append or Clear.
func (l *Log) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changed
}

func (l *Log) bumpLocked() {
	l.version++
	close(l.changed)
	l.changed = make(chan struct{})
}

// newEntryID returns a time-ordered UUIDv7, falling back to a random v4 when
// the v7 generator fails.
func newEntryID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
