package engine

import (
	"time"

	"github.com/sasha-s/go-deadlock"
)

// echoLedger is the per-repository "path -> timestamp" record of the last
// time the engine itself mutated that path. Not consulted by the manifest
// directly — the observers read it when deciding whether an incoming event
// is the engine's own echo.
type echoLedger struct {
	mu      deadlock.Mutex
	entries map[string]time.Time
}

func newEchoLedger() *echoLedger {
	return &echoLedger{entries: make(map[string]time.Time)}
}

// record stamps path with the current time, called by a repository
// immediately after it performs its own write.
func (l *echoLedger) record(path string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[path] = at
}

// recentlyWritten reports whether path was mutated by this repository
// within window of now.
func (l *echoLedger) recentlyWritten(path string, now time.Time, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok := l.entries[path]
	if !ok {
		return false
	}

	return now.Sub(at) < window
}

// prune discards entries older than window, called periodically so the
// ledger does not grow unbounded across a long-running process.
func (l *echoLedger) prune(now time.Time, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for path, at := range l.entries {
		if now.Sub(at) >= window {
			delete(l.entries, path)
		}
	}
}
