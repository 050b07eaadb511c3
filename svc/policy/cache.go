package policy

import (
	"strconv"
	"time"

	"binpastes/pkg/domain"
)

const (
	MaxAge       = time.Hour
	SearchMaxAge = time.Minute

	NoStore = "no-store, no-cache"
)

// CacheControl returns the Cache-Control value for a successful view of
// paste. Expiring public pastes are never cached past their expiry.
func (p *Policy) CacheControl(paste *domain.Paste) string {
	if !rules[paste.Exposure].sharedCacheable {
		return NoStore
	}
	if paste.DateOfExpiry == nil {
		return maxAge(MaxAge)
	}
	remaining := paste.DateOfExpiry.Sub(p.now())
	if remaining >= MaxAge {
		return maxAge(MaxAge)
	}
	if remaining < 0 {
		remaining = 0
	}
	return maxAge(remaining) + ", must-revalidate"
}

// CacheTTL is how long this process may keep paste in its own caches.
// Zero means not at all.
func (p *Policy) CacheTTL(paste *domain.Paste, ceiling time.Duration) time.Duration {
	if !rules[paste.Exposure].sharedCacheable {
		return 0
	}
	ttl := ceiling
	if paste.DateOfExpiry != nil {
		if remaining := paste.DateOfExpiry.Sub(p.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}

func SearchCacheControl() string {
	return maxAge(SearchMaxAge)
}

func maxAge(d time.Duration) string {
	return "max-age=" + strconv.FormatInt(int64(d/time.Second), 10)
}
