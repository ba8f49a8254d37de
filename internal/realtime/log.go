// Package realtime – MessageLog
//
// This file keeps the ordered message log of one channel. Messages are
// deduplicated by client key, and an echo of an optimistic send reconciles
// the pending entry in place.
package realtime

import (
	"sync"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

// Entry is one line of the local message log.
type Entry struct {
	domain.Message
	Pending bool // sent locally, echo not yet received
	Failed  bool // the send was refused or could not be written
}

// Outcome reports what Apply did with a server message.
type Outcome int

const (
	Appended   Outcome = iota // new line
	Reconciled                // replaced the pending copy of an own send
	Duplicate                 // key already confirmed; suppressed
)

// MessageLog is the ordered, key-deduplicated log of one open thread. It is
// safe for concurrent use.
type MessageLog struct {
	mu      sync.RWMutex
	entries []Entry
	byKey   map[string]int
}

// NewMessageLog returns an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{byKey: make(map[string]int)}
}

// ReplaceHistory swaps the log for the server history. Pending own sends
// whose key is not part of the history are kept after it.
func (l *MessageLog) ReplaceHistory(msgs []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pending []Entry
	for _, e := range l.entries {
		if e.Pending {
			pending = append(pending, e)
		}
	}

	l.entries = make([]Entry, 0, len(msgs)+len(pending))
	l.byKey = make(map[string]int, len(msgs)+len(pending))
	for _, m := range msgs {
		if m.ClientKey != "" {
			if _, dup := l.byKey[m.ClientKey]; dup {
				continue
			}
			l.byKey[m.ClientKey] = len(l.entries)
		}
		l.entries = append(l.entries, Entry{Message: m})
	}
	for _, e := range pending {
		if _, seen := l.byKey[e.ClientKey]; seen {
			continue
		}
		l.byKey[e.ClientKey] = len(l.entries)
		l.entries = append(l.entries, e)
	}
}

// AddPending appends an own message before the server confirmed it.
// It returns false if the key is already present.
func (l *MessageLog) AddPending(m domain.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.ClientKey != "" {
		if _, ok := l.byKey[m.ClientKey]; ok {
			return false
		}
		l.byKey[m.ClientKey] = len(l.entries)
	}
	l.entries = append(l.entries, Entry{Message: m, Pending: true})
	return true
}

// Apply merges a server-confirmed message. A message whose key is already
// in the log never adds a second line.
func (l *MessageLog) Apply(m domain.Message) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.ClientKey != "" {
		if i, ok := l.byKey[m.ClientKey]; ok {
			if l.entries[i].Pending || l.entries[i].Failed {
				l.entries[i] = Entry{Message: m}
				return Reconciled
			}
			return Duplicate
		}
		l.byKey[m.ClientKey] = len(l.entries)
	}
	l.entries = append(l.entries, Entry{Message: m})
	return Appended
}

// MarkFailed flags the pending entry with key as failed.
func (l *MessageLog) MarkFailed(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byKey[key]
	if !ok || !l.entries[i].Pending {
		return false
	}
	l.entries[i].Pending = false
	l.entries[i].Failed = true
	return true
}

// Entries returns a copy of the log.
func (l *MessageLog) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Len returns the number of lines.
func (l *MessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Lookup returns the entry with the given key.
func (l *MessageLog) Lookup(key string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}
