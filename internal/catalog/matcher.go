package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"tripc-agent/internal/domain"
)

const (
	DefaultTTL          = time.Hour
	DefaultTopK         = 3
	defaultFetchTimeout = 10 * time.Second
	defaultRetryBackoff = 30 * time.Second
)

var (
	ErrEmptyCatalog = errors.New("catalog: upstream returned no categories")
	ErrNoSnapshot   = errors.New("catalog: no persisted snapshot")
)

// Fetcher loads the full category list from upstream.
type Fetcher interface {
	FetchCategories(ctx context.Context) ([]domain.Category, error)
}

// SnapshotStore keeps the last good Index across restarts.
type SnapshotStore interface {
	Save(ctx context.Context, ix *Index) error
	Load(ctx context.Context) (*Index, error)
}

type snapshot struct {
	index     *Index
	expiresAt time.Time
}

// Matcher maps keyword sets to category identifiers over a lazily refreshed
// Index. Concurrent refreshes are coalesced into one upstream fetch.
type Matcher struct {
	fetcher      Fetcher
	store        SnapshotStore
	ttl          time.Duration
	topK         int
	fetchTimeout time.Duration
	retryBackoff time.Duration
	now          func() time.Time
	logger       *slog.Logger

	current atomic.Pointer[snapshot]
	version atomic.Uint64
	group   singleflight.Group
}

type Option func(*Matcher)

func WithTTL(ttl time.Duration) Option {
	return func(m *Matcher) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithTopK(k int) Option {
	return func(m *Matcher) {
		if k > 0 {
			m.topK = k
		}
	}
}

func WithSnapshotStore(s SnapshotStore) Option {
	return func(m *Matcher) {
		m.store = s
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(m *Matcher) {
		if d > 0 {
			m.fetchTimeout = d
		}
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(m *Matcher) {
		if d > 0 {
			m.retryBackoff = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

func NewMatcher(f Fetcher, opts ...Option) (*Matcher, error) {
	if f == nil {
		return nil, errors.New("catalog: fetcher must not be nil")
	}
	m := &Matcher{
		fetcher:      f,
		ttl:          DefaultTTL,
		topK:         DefaultTopK,
		fetchTimeout: defaultFetchTimeout,
		retryBackoff: defaultRetryBackoff,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Match returns up to topK category identifiers ranked by confidence. An
// empty keyword set never touches the index.
func (m *Matcher) Match(ctx context.Context, kw domain.KeywordSet) ([]int, error) {
	if kw.IsEmpty() {
		return nil, nil
	}
	ix, err := m.Index(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Match(kw, m.topK), nil
}

// Index returns the current snapshot, refreshing it first when it has expired
// or was invalidated.
func (m *Matcher) Index(ctx context.Context) (*Index, error) {
	if s := m.current.Load(); s != nil && m.now().Before(s.expiresAt) {
		return s.index, nil
	}

	ch := m.group.DoChan("categories", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.fetchTimeout)
		defer cancel()
		return m.reload(fctx)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("catalog: Index: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	}
}

// Current returns the installed snapshot without refreshing, or nil.
func (m *Matcher) Current() *Index {
	if s := m.current.Load(); s != nil {
		return s.index
	}
	return nil
}

// Invalidate forces the next lookup to refresh. The existing snapshot keeps
// serving as a fallback if that refresh fails.
func (m *Matcher) Invalidate() {
	for {
		s := m.current.Load()
		if s == nil {
			return
		}
		if m.current.CompareAndSwap(s, &snapshot{index: s.index}) {
			return
		}
	}
}

func (m *Matcher) reload(ctx context.Context) (*Index, error) {
	prev := m.current.Load()
	if prev != nil && m.now().Before(prev.expiresAt) {
		return prev.index, nil
	}

	categories, err := m.fetcher.FetchCategories(ctx)
	if err == nil && len(categories) == 0 {
		err = ErrEmptyCatalog
	}
	if err != nil {
		return m.fallback(ctx, prev, err)
	}

	ix := NewIndex(m.version.Add(1), m.now(), categories)
	m.current.Store(&snapshot{index: ix, expiresAt: ix.FetchedAt.Add(m.ttl)})
	m.logger.Info("category index refreshed", "version", ix.Version, "categories", ix.Len())

	if m.store != nil {
		if err := m.store.Save(ctx, ix); err != nil {
			m.logger.Warn("persist category snapshot", "err", err)
		}
	}
	return ix, nil
}

func (m *Matcher) fallback(ctx context.Context, prev *snapshot, cause error) (*Index, error) {
	var ix *Index
	if prev != nil {
		ix = prev.index
	} else if m.store != nil {
		loaded, err := m.store.Load(ctx)
		switch {
		case err == nil:
			ix = loaded
			if ix.Version > m.version.Load() {
				m.version.Store(ix.Version)
			}
		case !errors.Is(err, ErrNoSnapshot):
			m.logger.Warn("load category snapshot", "err", err)
		}
	}
	if ix == nil {
		return nil, fmt.Errorf("catalog: refresh: %w", cause)
	}

	m.logger.Warn("category refresh failed, serving previous snapshot", "err", cause, "version", ix.Version)
	m.current.Store(&snapshot{index: ix, expiresAt: m.now().Add(m.retryBackoff)})
	return ix, nil
}
