package svc

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"binpastes/cfg"
	"binpastes/metrics"
	"binpastes/pkg/domain"
	"binpastes/svc/cache"
	"binpastes/svc/db"
	"binpastes/svc/policy"
	"binpastes/svc/search"
	"binpastes/svc/util"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const (
	MinSearchTermLength = 3
	searchOverfetch     = 4

	fillStripes   = 64
	tombstoneSize = 10000
	tombstoneTTL  = 10 * time.Minute
)

// SharedCache is the cross-instance cache tier; *db.Redis satisfies it.
type SharedCache interface {
	CachePaste(ctx context.Context, p *domain.Paste, ttl time.Duration) error
	GetPaste(ctx context.Context, id string) (*domain.Paste, error)
	Delete(ctx context.Context, id string) error
}

type Paste struct {
	store    db.Store
	lru      *cache.LRU
	shared   SharedCache
	pol      *policy.Policy
	cfg      *cfg.Cfg
	list     singleflight.Group
	shutdown atomic.Bool
	opWg     sync.WaitGroup

	// tombstones holds ids deleted here recently. A view that read the row
	// before the delete must not put it back into a cache tier.
	tombstones *expirable.LRU[string, struct{}]
	fills      [fillStripes]sync.Mutex
}

// NewPaste wires the lifecycle service. lru and shared are optional.
func NewPaste(store db.Store, lru *cache.LRU, shared SharedCache, pol *policy.Policy, c *cfg.Cfg) *Paste {
	if store == nil || pol == nil || c == nil {
		panic("paste service: nil dependency (store, policy, or cfg)")
	}
	return &Paste{
		store:      store,
		lru:        lru,
		shared:     shared,
		pol:        pol,
		cfg:        c,
		tombstones: expirable.NewLRU[string, struct{}](tombstoneSize, nil, tombstoneTTL),
	}
}

// Shutdown refuses new mutations and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		p.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		util.Warn().Msg("paste operations didn't finish in time")
	}
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) enter() error {
	if p.shutdown.Load() {
		return domain.ErrShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*domain.Paste, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if err := params.Normalize(); err != nil {
		return nil, err
	}
	id, err := util.GenID(func(id string) (bool, error) {
		return p.store.Exists(ctx, id)
	})
	if err != nil {
		return nil, errors.Wrap(err, "gen id")
	}
	now := p.pol.Now().UTC()
	paste := &domain.Paste{
		ID:            id,
		Title:         params.Title,
		Content:       params.Content,
		Exposure:      params.Exposure,
		IsEncrypted:   params.IsEncrypted,
		DateCreated:   now,
		DateOfExpiry:  params.Expiry.From(now),
		RemoteAddress: params.RemoteAddress,
	}
	if err := p.store.Create(ctx, paste); err != nil {
		return nil, errors.Wrap(err, "create paste")
	}
	metrics.PasteCreated.WithLabelValues(string(paste.Exposure)).Inc()
	util.Debug().
		Str("id", id).
		Str("exposure", string(paste.Exposure)).
		Bool("permanent", paste.IsPermanent()).
		Msg("paste created")
	return paste, nil
}

// View returns the paste for caller, or domain.ErrPasteNotFound when it is
// missing, expired or already consumed.
func (p *Paste) View(ctx context.Context, id, caller string) (*domain.View, error) {
	if !util.ValidID(id) {
		return nil, domain.ErrPasteNotFound
	}
	if paste := p.cached(ctx, id); paste != nil {
		if !p.pol.Viewable(paste) {
			p.evict(ctx, id)
			return nil, domain.ErrPasteNotFound
		}
		return p.served(paste, caller), nil
	}
	metrics.CacheMisses.Inc()
	paste, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPasteNotFound) {
			return nil, domain.ErrPasteNotFound
		}
		return nil, errors.Wrap(err, "get paste")
	}
	contested := policy.ConsumedOnView(paste.Exposure) && p.pol.State(paste) == policy.StateActive
	granted, err := p.pol.Grant(ctx, p.store, paste)
	if err != nil {
		return nil, errors.Wrap(err, "consume paste")
	}
	if !granted {
		if contested {
			metrics.ConsumeConflicts.Inc()
		}
		return nil, domain.ErrPasteNotFound
	}
	if policy.ConsumedOnView(paste.Exposure) {
		metrics.OnceConsumed.Inc()
		util.Debug().Str("id", id).Msg("one-time paste consumed")
	}
	p.remember(ctx, paste)
	return p.served(paste, caller), nil
}
func (p *Paste) served(paste *domain.Paste, caller string) *domain.View {
	metrics.PasteViewed.WithLabelValues(string(paste.Exposure)).Inc()
	cp := *paste
	return &domain.View{
		Paste:      &cp,
		IsErasable: caller != "" && cp.RemoteAddress == caller,
	}
}
func (p *Paste) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &p.fills[h.Sum32()%fillStripes]
}
func (p *Paste) cached(ctx context.Context, id string) *domain.Paste {
	if p.tombstones.Contains(id) {
		return nil
	}
	if p.lru != nil {
		if paste := p.lru.Get(id); paste != nil {
			metrics.CacheHits.WithLabelValues("lru").Inc()
			return paste
		}
	}
	if p.shared == nil {
		return nil
	}
	paste, err := p.shared.GetPaste(ctx, id)
	if err != nil {
		util.Warn().Err(err).Str("id", id).Msg("shared cache read failed")
		return nil
	}
	if paste == nil {
		return nil
	}
	if p.lru != nil {
		mu := p.stripe(id)
		mu.Lock()
		dead := p.tombstones.Contains(id)
		if !dead {
			p.lru.Set(paste, p.pol.CacheTTL(paste, p.cfg.CacheTTL))
		}
		mu.Unlock()
		if dead {
			return nil
		}
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return paste
}

// remember fills both cache tiers unless the id was deleted meanwhile. Deletes
// on other instances leave no local tombstone, so a shared-tier write is
// re-checked against the store.
func (p *Paste) remember(ctx context.Context, paste *domain.Paste) {
	ttl := p.pol.CacheTTL(paste, p.cfg.CacheTTL)
	if ttl <= 0 {
		return
	}
	mu := p.stripe(paste.ID)
	mu.Lock()
	defer mu.Unlock()
	if p.tombstones.Contains(paste.ID) {
		return
	}
	if p.lru != nil {
		p.lru.Set(paste, ttl)
	}
	if p.shared == nil {
		return
	}
	if err := p.shared.CachePaste(ctx, paste, ttl); err != nil {
		util.Warn().Err(err).Str("id", paste.ID).Msg("failed to cache in redis")
		return
	}
	exists, err := p.store.Exists(ctx, paste.ID)
	if err != nil || !exists {
		p.evict(ctx, paste.ID)
	}
}
func (p *Paste) evict(ctx context.Context, id string) {
	if p.lru != nil {
		p.lru.Delete(id)
	}
	if p.shared != nil {
		if err := p.shared.Delete(ctx, id); err != nil {
			util.Warn().Err(err).Str("id", id).Msg("failed to delete from redis")
		}
	}
}

// Delete removes the paste when caller created it. Unknown ids and other
// callers get the same nil result.
func (p *Paste) Delete(ctx context.Context, id, caller string) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.opWg.Done()
	if !util.ValidID(id) || caller == "" {
		return nil
	}
	deleted, err := p.store.DeleteOwned(ctx, id, caller)
	if err != nil {
		return errors.Wrap(err, "delete paste")
	}
	if !deleted {
		return nil
	}
	mu := p.stripe(id)
	mu.Lock()
	p.tombstones.Add(id, struct{}{})
	p.evict(ctx, id)
	mu.Unlock()
	metrics.PasteDeleted.Inc()
	util.Info().Str("id", id).Msg("paste deleted by creator")
	return nil
}

// ViewAll lists the newest listed pastes. Identical concurrent calls share
// one store query.
func (p *Paste) ViewAll(ctx context.Context) ([]*domain.Paste, error) {
	v, err, _ := p.list.Do("list", func() (interface{}, error) {
		return p.store.ListPublic(ctx, p.pol.Now(), p.cfg.ListLimit)
	})
	if err != nil {
		return nil, errors.Wrap(err, "list pastes")
	}
	rows := v.([]*domain.Paste)
	out := make([]*domain.Paste, 0, len(rows))
	for _, r := range rows {
		if p.pol.Visible(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (p *Paste) Search(ctx context.Context, term string) ([]search.Hit, error) {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) < MinSearchTermLength {
		return []search.Hit{}, nil
	}
	metrics.Searches.Inc()
	candidates, err := p.store.SearchPublic(ctx, term, p.pol.Now(), p.cfg.SearchLimit*searchOverfetch)
	if err != nil {
		return nil, errors.Wrap(err, "search pastes")
	}
	m := &search.Matcher{Eligible: p.pol.Visible, Limit: p.cfg.SearchLimit}
	hits := m.Match(term, candidates)
	if hits == nil {
		hits = []search.Hit{}
	}
	return hits, nil
}
