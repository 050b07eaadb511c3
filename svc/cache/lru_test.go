package cache

import (
	"sync"
	"testing"
	"time"

	"binpastes/pkg/domain"
)

func TestLRUSetGetDelete(t *testing.T) {
	l, err := NewLRU(2)
	if err != nil {
		t.Fatal(err)
	}
	l.Set(&domain.Paste{ID: "a"}, time.Minute)
	if l.Get("a") == nil {
		t.Fatal("expected hit")
	}
	l.Delete("a")
	if l.Get("a") != nil {
		t.Fatal("expected miss after delete")
	}
}

func TestLRUDeadline(t *testing.T) {
	l, _ := NewLRU(4)
	now := time.Now()
	l.now = func() time.Time { return now }
	l.Set(&domain.Paste{ID: "a"}, time.Second)
	now = now.Add(time.Second)
	if l.Get("a") != nil {
		t.Error("entry served past its deadline")
	}
	if l.Len() != 0 {
		t.Errorf("stale entry not evicted, len=%d", l.Len())
	}
	l.Set(&domain.Paste{ID: "b"}, 0)
	if l.Get("b") != nil {
		t.Error("zero ttl should not be cached")
	}
}

func TestLRUEviction(t *testing.T) {
	l, _ := NewLRU(2)
	l.Set(&domain.Paste{ID: "a"}, time.Minute)
	l.Set(&domain.Paste{ID: "b"}, time.Minute)
	l.Set(&domain.Paste{ID: "c"}, time.Minute)
	if l.Get("a") != nil {
		t.Error("oldest entry should be evicted")
	}
}

func TestLRUSizeBounds(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("expected error for zero size")
	}
	if _, err := NewLRU(maxEntries + 1); err == nil {
		t.Error("expected error for oversized cache")
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	l, _ := NewLRU(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); l.Set(&domain.Paste{ID: "key"}, time.Minute) }()
		go func() { defer wg.Done(); l.Get("key") }()
		go func() { defer wg.Done(); l.Delete("key") }()
	}
	wg.Wait()
}
