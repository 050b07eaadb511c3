package db

import (
	"context"
	"sort"
	"strings"
	"time"

	"binpastes/pkg/domain"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var pasteBucket = []byte("pastes")

// Bolt is a single-file Store. Writers are serialised by bbolt, so the
// check-and-set operations run inside one Update transaction.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open bolt db")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(pasteBucket)
		return errors.Wrap(err, "create paste bucket")
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
func (b *Bolt) Create(ctx context.Context, p *domain.Paste) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	data, err := encodePaste(p)
	if err != nil {
		return errors.Wrap(err, "marshal paste")
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		if bucket.Get([]byte(p.ID)) != nil {
			return errors.Errorf("paste %s already exists", p.ID)
		}
		return errors.Wrap(bucket.Put([]byte(p.ID), data), "save paste")
	})
}
func (b *Bolt) Get(ctx context.Context, id string) (*domain.Paste, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out *domain.Paste
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(pasteBucket).Get([]byte(id))
		if raw == nil {
			return domain.ErrPasteNotFound
		}
		p, err := decodePaste(raw)
		if err != nil {
			return errors.Wrap(err, "unmarshal paste")
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
func (b *Bolt) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := b.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(pasteBucket).Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}
func (b *Bolt) MarkConsumed(ctx context.Context, id string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	var granted bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return nil
		}
		p, err := decodePaste(raw)
		if err != nil {
			return errors.Wrap(err, "unmarshal paste")
		}
		if p.Consumed {
			return nil
		}
		p.Consumed = true
		data, err := encodePaste(p)
		if err != nil {
			return errors.Wrap(err, "marshal paste")
		}
		if err := bucket.Put([]byte(id), data); err != nil {
			return errors.Wrap(err, "save paste")
		}
		granted = true
		return nil
	})
	return granted, err
}
func (b *Bolt) DeleteOwned(ctx context.Context, id, remoteAddress string) (bool, error) {
	if err := ctxErr(ctx); err != nil {
		return false, err
	}
	var deleted bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return nil
		}
		p, err := decodePaste(raw)
		if err != nil {
			return errors.Wrap(err, "unmarshal paste")
		}
		if p.RemoteAddress != remoteAddress {
			return nil
		}
		deleted = true
		return errors.Wrap(bucket.Delete([]byte(id)), "delete paste")
	})
	return deleted, err
}
func eligibleAt(p *domain.Paste, now time.Time) bool {
	return p.Exposure == domain.ExposurePublic && !p.Consumed && !p.IsExpiredAt(now)
}

// scan walks every record; fine for the sizes a single-file store is meant for.
func (b *Bolt) scan(ctx context.Context, keep func(*domain.Paste) bool, limit int) ([]*domain.Paste, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var out []*domain.Paste
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(pasteBucket).ForEach(func(_, v []byte) error {
			p, err := decodePaste(v)
			if err != nil {
				return errors.Wrap(err, "unmarshal paste")
			}
			if keep(p) {
				out = append(out, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateCreated.Equal(out[j].DateCreated) {
			return out[i].DateCreated.After(out[j].DateCreated)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
func (b *Bolt) ListPublic(ctx context.Context, now time.Time, limit int) ([]*domain.Paste, error) {
	return b.scan(ctx, func(p *domain.Paste) bool { return eligibleAt(p, now) }, limit)
}
func (b *Bolt) SearchPublic(ctx context.Context, term string, now time.Time, limit int) ([]*domain.Paste, error) {
	needle := foldCase(term)
	return b.scan(ctx, func(p *domain.Paste) bool {
		if !eligibleAt(p, now) {
			return false
		}
		return strings.Contains(foldCase(p.Title), needle) || strings.Contains(foldCase(p.Content), needle)
	}, limit)
}
func (b *Bolt) Reap(ctx context.Context, now time.Time) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, err
	}
	var removed int
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(pasteBucket)
		var dead [][]byte
		if err := bucket.ForEach(func(k, v []byte) error {
			p, err := decodePaste(v)
			if err != nil {
				return errors.Wrap(err, "unmarshal paste")
			}
			if p.Consumed || p.IsExpiredAt(now) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range dead {
			if err := bucket.Delete(k); err != nil {
				return errors.Wrap(err, "delete paste")
			}
		}
		removed = len(dead)
		return nil
	})
	return removed, err
}
func (b *Bolt) Ping(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(pasteBucket) == nil {
			return errors.New("pastes bucket missing")
		}
		return nil
	})
}
func (b *Bolt) Close() error {
	return b.db.Close()
}
