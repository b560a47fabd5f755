package convo

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyLockSerialisesSameKey(t *testing.T) {
	l := NewKeyLock()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, ContactKey("store", "911"))
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
	if l.Len() != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", l.Len())
	}
}

func TestKeyLockDifferentKeysDoNotBlock(t *testing.T) {
	l := NewKeyLock()
	unlockA, err := l.Lock(context.Background(), ContactKey("store", "1"))
	if err != nil {
		t.Fatalf("Lock A: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, ContactKey("store", "2"))
	if err != nil {
		t.Fatalf("Lock B blocked: %v", err)
	}
	unlockB()
}

func TestKeyLockHonoursContext(t *testing.T) {
	l := NewKeyLock()
	key := ContactKey("store", "911")
	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, key); err == nil {
		t.Fatal("expected context error while key is held")
	}

	if _, ok := l.TryLock(key); ok {
		t.Fatal("TryLock should fail while key is held")
	}
	unlock()
	unlock()

	again, ok := l.TryLock(key)
	if !ok {
		t.Fatal("TryLock should succeed after unlock")
	}
	again()
	if l.Len() != 0 {
		t.Fatalf("expected empty lock table, got %d", l.Len())
	}
}
