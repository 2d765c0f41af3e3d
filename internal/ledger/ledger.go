// Package ledger tracks files that have been sent to the consumer but not
// yet confirmed, implementing the confirm-then-delete protocol.
//
// Per file the states are Sent -> AwaitingAck -> {Confirmed, Rejected,
// TimedOut}. A timeout always keeps the remote copy: the engine never
// deletes on ambiguity.
package ledger

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shotrelay/shotrelay/internal/logging"
	"github.com/shotrelay/shotrelay/internal/metrics"
)

// Outcome is the terminal state of a ledger entry.
type Outcome int

const (
	Confirmed Outcome = iota // consumer confirmed receipt; remote copy may be deleted
	Rejected                 // consumer failed and asked to keep the source
	TimedOut                 // no signal before the timer fired; source is kept
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// ResolveFunc is invoked exactly once per tracked file with its outcome.
type ResolveFunc func(fileID, filename string, outcome Outcome)

type entry struct {
	fileID     string
	filename   string
	enqueuedAt time.Time
	timer      *time.Timer
	once       sync.Once
	resolve    ResolveFunc
}

// Ledger holds the pending-delete entries for one watcher session.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// Track registers a sent file and starts its ack timer. At most one entry
// exists per fileID; tracking an already-tracked ID is a no-op (the original
// entry and its timer stay in place).
func (l *Ledger) Track(fileID, filename string, timeout time.Duration, fn ResolveFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[fileID]; ok {
		logging.Warn("ledger: file already tracked", zap.String("fileId", fileID))
		return
	}

	e := &entry{
		fileID:     fileID,
		filename:   filename,
		enqueuedAt: time.Now(),
		resolve:    fn,
	}
	e.timer = time.AfterFunc(timeout, func() {
		l.finish(e, TimedOut)
	})
	l.entries[fileID] = e
	metrics.SetLedgerPending(len(l.entries))
}

// Confirm resolves an entry as Confirmed. The signal is matched by file ID
// first, falling back to filename for consumers that only echo the name.
// Returns false if no entry matched. Only one entry is resolved per signal.
func (l *Ledger) Confirm(fileRef, filename string) bool {
	return l.signal(fileRef, filename, Confirmed)
}

// Reject resolves an entry as Rejected (keep the source).
func (l *Ledger) Reject(fileRef, filename string) bool {
	return l.signal(fileRef, filename, Rejected)
}

func (l *Ledger) signal(fileRef, filename string, outcome Outcome) bool {
	e := l.lookup(fileRef, filename)
	if e == nil {
		return false
	}
	e.timer.Stop()
	l.finish(e, outcome)
	return true
}

func (l *Ledger) lookup(fileRef, filename string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if fileRef != "" {
		if e, ok := l.entries[fileRef]; ok {
			return e
		}
	}
	if filename != "" {
		for _, e := range l.entries {
			if e.filename == filename {
				return e
			}
		}
	}
	return nil
}

// finish removes the entry and fires its resolution. The sync.Once makes
// "ack wins" and "timeout wins" structurally mutually exclusive: whichever
// path gets here second finds the once already spent.
func (l *Ledger) finish(e *entry, outcome Outcome) {
	e.once.Do(func() {
		l.mu.Lock()
		delete(l.entries, e.fileID)
		pending := len(l.entries)
		l.mu.Unlock()
		metrics.SetLedgerPending(pending)
		metrics.RecordLedgerOutcome(outcome.String())

		logging.Debug("ledger: resolved",
			zap.String("fileId", e.fileID),
			zap.String("filename", e.filename),
			zap.String("outcome", outcome.String()),
			zap.Duration("age", time.Since(e.enqueuedAt)))

		e.resolve(e.fileID, e.filename, outcome)
	})
}

// Pending returns the number of unresolved entries.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Tracked reports whether a file ID currently has an unresolved entry.
func (l *Ledger) Tracked(fileID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[fileID]
	return ok
}
