package builddb

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStripedLocksDefaultCount(t *testing.T) {
	for _, n := range []int{0, -1} {
		if locks := NewStripedLocks(n); locks.count != 32 {
			t.Errorf("NewStripedLocks(%d) stripe count = %d, want 32", n, locks.count)
		}
	}
}

func TestStripedLocksSameKeySameStripe(t *testing.T) {
	locks := NewStripedLocks(4)
	key := BuildKey("couchbase-server", "7.0.0", "1234")

	idx := locks.stripe(key)
	for i := 0; i < 3; i++ {
		if got := locks.stripe(key); got != idx {
			t.Fatalf("key moved from stripe %d to %d", idx, got)
		}
	}
	if idx >= locks.count {
		t.Errorf("stripe index %d out of range [0, %d)", idx, locks.count)
	}
}

func TestStripedLocksExclusiveBlocking(t *testing.T) {
	locks := NewStripedLocks(32)
	key := CommitKey("tlm", "0a1b2c")
	var counter int32

	unlock := locks.Lock(key)

	done := make(chan struct{})
	go func() {
		release := locks.Lock(key)
		atomic.AddInt32(&counter, 1)
		release()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&counter) != 0 {
		t.Error("second writer should be blocked")
	}

	unlock()
	<-done
	if atomic.LoadInt32(&counter) != 1 {
		t.Errorf("counter = %d, want 1", atomic.LoadInt32(&counter))
	}
}

func TestStripedLocksConcurrentReaders(t *testing.T) {
	locks := NewStripedLocks(32)
	key := ProductVersionIndexKey

	var wg sync.WaitGroup
	var active, peak int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.RLock(key)
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&peak) < 2 {
		t.Errorf("readers should overlap, peak concurrency = %d", peak)
	}
}
