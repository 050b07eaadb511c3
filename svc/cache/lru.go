package cache

import (
	"errors"
	"time"

	"binpastes/pkg/domain"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxEntries = 100000

// LRU holds recently viewed cacheable pastes for this process only. Entries
// carry their own deadline, which callers bound by the paste's expiry.
type LRU struct {
	c   *lru.Cache[string, entry]
	now func() time.Time
}
type entry struct {
	paste    *domain.Paste
	deadline time.Time
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > maxEntries {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &LRU{c: c, now: time.Now}, nil
}
func (l *LRU) Get(id string) *domain.Paste {
	e, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if !l.now().Before(e.deadline) {
		l.c.Remove(id)
		return nil
	}
	return e.paste
}
func (l *LRU) Set(p *domain.Paste, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	l.c.Add(p.ID, entry{paste: p, deadline: l.now().Add(ttl)})
}
func (l *LRU) Delete(id string) {
	l.c.Remove(id)
}
func (l *LRU) Len() int {
	return l.c.Len()
}
