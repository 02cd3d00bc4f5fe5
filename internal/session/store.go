package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tripc-agent/internal/domain"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultMaxTurns = 8

	maxExplicitKeyLen = 128
)

var (
	ErrSessionConflict      = errors.New("session: conversation key is owned by another identity")
	ErrInvalidKey           = errors.New("session: explicit conversation key is malformed")
	ErrConversationNotFound = errors.New("session: conversation not found")
	ErrEmptyIdentity        = errors.New("session: identity must not be empty")
)

// Identity distinguishes one caller from another across requests.
type Identity string

// DeriveIdentity prefers an explicit caller identifier and otherwise
// fingerprints the network origin and client signature.
func DeriveIdentity(callerID, origin, clientSignature string) Identity {
	if id := strings.TrimSpace(callerID); id != "" {
		return Identity("uid:" + id)
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(origin) + "|" + strings.TrimSpace(clientSignature)))
	return Identity("fp:" + hex.EncodeToString(sum[:16]))
}

// Handle is a borrowed reference to a live conversation, valid for one
// pipeline run.
type Handle struct {
	Key      string
	Identity Identity
	Created  bool
}

// Snapshot is a copy of the conversation state handed to the pipeline.
type Snapshot struct {
	Entities map[string]string
	Recent   []domain.Turn
}

type conversation struct {
	key          string
	owner        Identity
	createdAt    time.Time
	lastActivity atomic.Int64

	// mu serializes mutation of one conversation. Lock order is Store.mu
	// before conversation.mu.
	mu       sync.Mutex
	turns    []domain.Turn
	entities map[string]string
	evicted  bool
}

// Store is the in-memory conversation registry. Map membership is guarded by
// a short-lived registry lock; turn mutation is serialized per conversation.
type Store struct {
	ttl      time.Duration
	maxTurns int
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.RWMutex
	byKey   map[string]*conversation
	byOwner map[Identity]string
}

type Option func(*Store)

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxTurns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:      DefaultTTL,
		maxTurns: DefaultMaxTurns,
		now:      time.Now,
		logger:   slog.Default(),
		byKey:    make(map[string]*conversation),
		byOwner:  make(map[Identity]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the identity's live conversation or allocates a new one.
//
// An explicit key is honoured when it is unknown or already owned by the same
// identity. When it belongs to another identity, or is malformed, Resolve
// falls back to identity-derived resolution and returns the fallback handle
// together with ErrSessionConflict or ErrInvalidKey.
func (s *Store) Resolve(identity Identity, explicitKey string) (Handle, error) {
	if strings.TrimSpace(string(identity)) == "" {
		return Handle{}, ErrEmptyIdentity
	}
	explicitKey = strings.TrimSpace(explicitKey)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var fallbackErr error
	if explicitKey != "" {
		if !validKey(explicitKey) {
			fallbackErr = ErrInvalidKey
		} else if c, ok := s.byKey[explicitKey]; ok && !s.expireLocked(c, now) {
			if c.owner != identity {
				fallbackErr = ErrSessionConflict
			} else {
				s.byOwner[identity] = c.key
				return Handle{Key: c.key, Identity: identity}, nil
			}
		} else {
			c := s.insertLocked(explicitKey, identity, now)
			return Handle{Key: c.key, Identity: identity, Created: true}, nil
		}
	}

	if key, ok := s.byOwner[identity]; ok {
		if c, ok := s.byKey[key]; ok && !s.expireLocked(c, now) {
			return Handle{Key: c.key, Identity: identity}, fallbackErr
		}
	}

	key := s.newKey(identity, now)
	for _, taken := s.byKey[key]; taken; _, taken = s.byKey[key] {
		key = s.newKey(identity, now)
	}
	c := s.insertLocked(key, identity, now)
	return Handle{Key: c.key, Identity: identity, Created: true}, fallbackErr
}

// AppendTurn appends t to the conversation, refreshes its activity time and
// folds t.Meta into the entity map. An empty metadata value removes the
// entity.
func (s *Store) AppendTurn(h Handle, t domain.Turn) error {
	return s.AppendTurns(h, t)
}

// AppendTurns appends turns as one unit: no other writer to the same
// conversation can land between them.
func (s *Store) AppendTurns(h Handle, turns ...domain.Turn) error {
	c, err := s.lookup(h)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return fmt.Errorf("session: AppendTurns %s: %w", h.Key, ErrConversationNotFound)
	}

	now := s.now()
	for _, t := range turns {
		if t.At.IsZero() {
			t.At = now
		}
		if n := len(c.turns); n > 0 && !t.At.After(c.turns[n-1].At) {
			t.At = c.turns[n-1].At.Add(time.Nanosecond)
		}
		t.Meta = maps.Clone(t.Meta)

		c.turns = append(c.turns, t)
		for name, value := range t.Meta {
			if value == "" {
				delete(c.entities, name)
				continue
			}
			c.entities[name] = value
		}
	}
	if over := len(c.turns) - s.maxTurns; over > 0 {
		c.turns = append([]domain.Turn(nil), c.turns[over:]...)
	}
	c.lastActivity.Store(now.UnixNano())
	return nil
}

// Context returns the entity map and up to limit of the most recent turns.
// A non-positive limit returns every retained turn.
func (s *Store) Context(h Handle, limit int) (Snapshot, error) {
	c, err := s.lookup(h)
	if err != nil {
		return Snapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evicted {
		return Snapshot{}, fmt.Errorf("session: Context %s: %w", h.Key, ErrConversationNotFound)
	}

	turns := c.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	recent := make([]domain.Turn, len(turns))
	for i, t := range turns {
		t.Meta = maps.Clone(t.Meta)
		recent[i] = t
	}
	return Snapshot{Entities: maps.Clone(c.entities), Recent: recent}, nil
}

// SweepExpired evicts every conversation whose last activity is older than
// the inactivity window and reports how many were removed.
func (s *Store) SweepExpired() int {
	now := s.now()

	s.mu.RLock()
	var candidates []*conversation
	for _, c := range s.byKey {
		if s.expired(c, now) {
			candidates = append(candidates, c)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, c := range candidates {
		s.mu.Lock()
		if cur, ok := s.byKey[c.key]; ok && cur == c && s.expireLocked(c, now) {
			removed++
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		s.logger.Debug("session sweep", "evicted", removed)
	}
	return removed
}

// Len reports the number of conversations currently registered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func (s *Store) lookup(h Handle) (*conversation, error) {
	s.mu.RLock()
	c, ok := s.byKey[h.Key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session: %s: %w", h.Key, ErrConversationNotFound)
	}
	if c.owner != h.Identity {
		return nil, fmt.Errorf("session: %s: %w", h.Key, ErrSessionConflict)
	}
	return c, nil
}

// insertLocked registers a new conversation. s.mu must be held for writing.
func (s *Store) insertLocked(key string, owner Identity, now time.Time) *conversation {
	c := &conversation{
		key:       key,
		owner:     owner,
		createdAt: now,
		entities:  make(map[string]string),
	}
	c.lastActivity.Store(now.UnixNano())
	s.byKey[key] = c
	s.byOwner[owner] = key
	return c
}

// expireLocked evicts c when it is past the inactivity window and reports
// whether it did. The expiry check is repeated under the conversation lock so
// an append that finished first keeps the conversation alive. s.mu must be
// held for writing.
func (s *Store) expireLocked(c *conversation, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.expired(c, now) {
		return false
	}
	c.evicted = true
	delete(s.byKey, c.key)
	if s.byOwner[c.owner] == c.key {
		delete(s.byOwner, c.owner)
	}
	return true
}

func (s *Store) expired(c *conversation, now time.Time) bool {
	return now.Sub(time.Unix(0, c.lastActivity.Load())) > s.ttl
}

func (s *Store) newKey(identity Identity, now time.Time) string {
	sum := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:6]) + "-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + newDisambiguator()
}

var newDisambiguator = func() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func validKey(key string) bool {
	if len(key) > maxExplicitKeyLen {
		return false
	}
	for _, r := range key {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}
