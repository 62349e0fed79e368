// Package dedupe guards against double-submitted requests with a bounded,
// time-windowed set of fingerprints.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxEntries caps the set when no limit is given.
const DefaultMaxEntries = 10000

// Window remembers fingerprints for ttl, dropping the least recently
// recorded once maxEntries is reached. It is safe for concurrent use.
type Window struct {
	// mu makes the check-and-record in Seen atomic.
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewWindow creates a window. A ttl of zero disables deduplication: Seen
// always reports false.
func NewWindow(ttl time.Duration, maxEntries int) *Window {
	if ttl <= 0 {
		return &Window{}
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Window{seen: expirable.NewLRU[string, struct{}](maxEntries, nil, ttl)}
}

// Seen reports whether key was already recorded within the window. A key that
// was not seen is recorded, so exactly one of two concurrent callers gets false.
func (w *Window) Seen(key string) bool {
	if w.seen == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.seen.Peek(key); ok {
		return true
	}
	w.seen.Add(key, struct{}{})
	return false
}

// Forget removes key, letting a retry through after a failed request.
func (w *Window) Forget(key string) {
	if w.seen == nil {
		return
	}
	w.mu.Lock()
	w.seen.Remove(key)
	w.mu.Unlock()
}

// Len returns the number of fingerprints currently held.
func (w *Window) Len() int {
	if w.seen == nil {
		return 0
	}
	return w.seen.Len()
}

// Close drops every fingerprint. It is safe to call more than once.
func (w *Window) Close() {
	if w.seen != nil {
		w.seen.Purge()
	}
}

// Fingerprint hashes the parts into a fixed-size key. Parts are separated so
// ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
