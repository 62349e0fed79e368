package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSeen_WithinWindow(t *testing.T) {
	w := NewWindow(100*time.Millisecond, 0)
	defer w.Close()

	if w.Seen("a") {
		t.Fatal("first Seen(a) = true, want false")
	}
	if !w.Seen("a") {
		t.Fatal("second Seen(a) = false, want true")
	}

	time.Sleep(150 * time.Millisecond)
	if w.Seen("a") {
		t.Error("Seen(a) after the window = true, want false")
	}
}

func TestSeen_Disabled(t *testing.T) {
	w := NewWindow(0, 0)
	defer w.Close()
	if w.Seen("a") || w.Seen("a") {
		t.Error("a zero window should never report duplicates")
	}
}

func TestSeen_ConcurrentCallersOneWins(t *testing.T) {
	w := NewWindow(time.Minute, 0)
	defer w.Close()

	var fresh int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !w.Seen("same") {
				atomic.AddInt32(&fresh, 1)
			}
		}()
	}
	wg.Wait()
	if fresh != 1 {
		t.Errorf("callers that saw a fresh key = %d, want 1", fresh)
	}
}

func TestSeen_Bounded(t *testing.T) {
	w := NewWindow(time.Hour, 3)
	defer w.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		w.Seen(k)
	}
	if w.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", w.Len())
	}
	if w.Seen("a") {
		t.Error("oldest key should have been dropped")
	}
}

func TestForget(t *testing.T) {
	w := NewWindow(time.Minute, 0)
	defer w.Close()
	w.Seen("a")
	w.Forget("a")
	if w.Seen("a") {
		t.Error("Seen(a) after Forget = true, want false")
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Error("fingerprints of differently split parts collide")
	}
	if Fingerprint("x", "y") != Fingerprint("x", "y") {
		t.Error("Fingerprint is not deterministic")
	}
}

func TestClose_Idempotent(t *testing.T) {
	w := NewWindow(time.Second, 0)
	w.Seen("a")
	w.Close()
	w.Close()
	if w.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", w.Len())
	}
}
