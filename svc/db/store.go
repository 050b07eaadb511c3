package db

import (
	"context"
	"strings"
	"time"
	"unicode"

	"binpastes/pkg/domain"
)

// Store is the persistence contract the paste service relies on. MarkConsumed
// and DeleteOwned must each be a single conditional write: the boolean result
// reports whether this call changed the record.
type Store interface {
	Create(ctx context.Context, p *domain.Paste) error
	Get(ctx context.Context, id string) (*domain.Paste, error)
	Exists(ctx context.Context, id string) (bool, error)
	MarkConsumed(ctx context.Context, id string) (bool, error)
	DeleteOwned(ctx context.Context, id, remoteAddress string) (bool, error)
	ListPublic(ctx context.Context, now time.Time, limit int) ([]*domain.Paste, error)
	SearchPublic(ctx context.Context, term string, now time.Time, limit int) ([]*domain.Paste, error)
	Reap(ctx context.Context, now time.Time) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Bolt)(nil)
)

// foldCase applies Unicode simple lower-casing rune by rune. Both stores
// filter search candidates with it so they agree on what matches.
func foldCase(s string) string {
	return strings.Map(unicode.ToLower, s)
}
