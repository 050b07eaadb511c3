// Package policy decides what may be done with a paste at a given moment:
// its lifecycle state, whether it is listed, whether a view must consume it,
// and how long a response carrying it may be cached.
package policy

import (
	"context"
	"time"

	"binpastes/pkg/domain"
)

type State int

const (
	StateActive State = iota
	StateConsumed
	StateExpired
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateConsumed:
		return "CONSUMED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "DELETED"
	}
}

type rule struct {
	listed          bool
	consumedOnView  bool
	sharedCacheable bool
}

// rules has exactly one entry per exposure. An exposure missing here is
// treated as neither listed nor viewable.
var rules = map[domain.Exposure]rule{
	domain.ExposurePublic:   {listed: true, sharedCacheable: true},
	domain.ExposureUnlisted: {},
	domain.ExposureOnce:     {consumedOnView: true},
}

// Consumer performs the ACTIVE to CONSUMED transition as one conditional
// write and reports whether this call made it.
type Consumer interface {
	MarkConsumed(ctx context.Context, id string) (bool, error)
}

type Policy struct {
	now func() time.Time
}

func New(now func() time.Time) *Policy {
	if now == nil {
		now = time.Now
	}
	return &Policy{now: now}
}
func (p *Policy) Now() time.Time {
	return p.now()
}

// State reports the lifecycle state of paste; a nil paste is DELETED.
// Expiry wins over consumption.
func (p *Policy) State(paste *domain.Paste) State {
	switch {
	case paste == nil:
		return StateDeleted
	case paste.IsExpiredAt(p.now()):
		return StateExpired
	case paste.Consumed && rules[paste.Exposure].consumedOnView:
		return StateConsumed
	default:
		return StateActive
	}
}

// Viewable reports whether paste can be fetched by id right now.
func (p *Policy) Viewable(paste *domain.Paste) bool {
	if paste == nil {
		return false
	}
	if _, known := rules[paste.Exposure]; !known {
		return false
	}
	return p.State(paste) == StateActive
}

// Visible is the listing and search predicate.
func (p *Policy) Visible(paste *domain.Paste) bool {
	return p.Viewable(paste) && rules[paste.Exposure].listed
}

// ConsumedOnView reports whether a successful view burns the paste.
func ConsumedOnView(e domain.Exposure) bool {
	return rules[e].consumedOnView
}

// Grant decides whether this caller may see paste's content. For exposures
// consumed on view only the caller whose conditional update succeeds is
// granted; everyone else sees the paste as absent.
func (p *Policy) Grant(ctx context.Context, c Consumer, paste *domain.Paste) (bool, error) {
	if !p.Viewable(paste) {
		return false, nil
	}
	if !rules[paste.Exposure].consumedOnView {
		return true, nil
	}
	granted, err := c.MarkConsumed(ctx, paste.ID)
	if err != nil {
		return false, err
	}
	if granted {
		paste.Consumed = true
	}
	return granted, nil
}
