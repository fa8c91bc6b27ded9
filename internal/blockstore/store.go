// Package blockstore tracks currently enforced mitigations and their
// expiry. State is held in memory for decisions and written through to a
// durable persister so a restart can rebuild it.
package blockstore

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"astra-responder/internal/schema"
)

// ActiveBlock is one currently enforced mitigation against a target.
type ActiveBlock struct {
	Target     string            `json:"target"`
	ActionType schema.ActionType `json:"action_type"`
	AlertType  schema.AlertType  `json:"alert_type"`
	CreatedAt  time.Time         `json:"created_at"`
	// ExpiresAt is nil for an indefinite block.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Key identifies a block by its dedup pair.
func (b *ActiveBlock) Key() string {
	return b.Target + "|" + string(b.ActionType)
}

// Expired reports whether the block has passed its expiry.
func (b *ActiveBlock) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// Persister is the durability collaborator. All calls are best effort from
// the store's point of view: a persistence failure is logged, never fatal
// to the in-memory invariant.
type Persister interface {
	Save(ctx context.Context, block ActiveBlock) error
	Delete(ctx context.Context, target string, actionType schema.ActionType) error
	Load(ctx context.Context) ([]ActiveBlock, error)
}

// ExpiryHandler is invoked for each block removed by a sweep.
type ExpiryHandler func(block ActiveBlock)

const shardCount = 64

// shard guards a slice of the key space so alerts for unrelated targets do
// not serialize on one lock.
type shard struct {
	mu     sync.RWMutex
	blocks map[string]*ActiveBlock
}

// Store is the time-indexed set of active blocks.
type Store struct {
	shards    [shardCount]*shard
	persister Persister
	onExpire  ExpiryHandler
	logger    *slog.Logger
	now       func() time.Time

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets the durability collaborator.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithExpiryHandler sets the callback invoked when a sweep removes a block.
func WithExpiryHandler(h ExpiryHandler) Option {
	return func(s *Store) { s.onExpire = h }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger: logger,
		now:    time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{blocks: make(map[string]*ActiveBlock)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shardFor(target string) *shard {
	h := fnv.New32a()
	h.Write([]byte(target))
	return s.shards[h.Sum32()%shardCount]
}

// Upsert records a mitigation for (target, actionType). If one is already
// active the existing entry is extended - the later expiry wins, so a
// shorter TTL can never shrink a protection window. A zero ttl means the
// block is permanent. Returns the resulting block and whether an existing
// entry was extended rather than created.
func (s *Store) Upsert(target string, actionType schema.ActionType, ttl time.Duration, alertType schema.AlertType) (ActiveBlock, bool) {
	now := s.now().UTC()
	var expires *time.Time
	if ttl > 0 {
		t := now.Add(ttl)
		expires = &t
	}

	sh := s.shardFor(target)
	sh.mu.Lock()

	key := target + "|" + string(actionType)
	existing, found := sh.blocks[key]
	if found {
		// Extend, never shrink. A nil expiry (permanent) always wins.
		if existing.ExpiresAt != nil && (expires == nil || expires.After(*existing.ExpiresAt)) {
			existing.ExpiresAt = expires
		}
		existing.AlertType = alertType
		result := *existing
		sh.mu.Unlock()
		s.persist(result)
		return result, true
	}

	block := &ActiveBlock{
		Target:     target,
		ActionType: actionType,
		AlertType:  alertType,
		CreatedAt:  now,
		ExpiresAt:  expires,
	}
	sh.blocks[key] = block
	result := *block
	sh.mu.Unlock()

	s.persist(result)
	return result, false
}

// Remove drops every block for the target, regardless of action type. It is
// an idempotent no-op when nothing is blocked; the caller still records the
// attempt.
func (s *Store) Remove(target string) bool {
	sh := s.shardFor(target)
	sh.mu.Lock()

	var removed []ActiveBlock
	for key, block := range sh.blocks {
		if block.Target == target {
			removed = append(removed, *block)
			delete(sh.blocks, key)
		}
	}
	sh.mu.Unlock()

	for _, block := range removed {
		s.unpersist(block)
	}
	return len(removed) > 0
}

// Get returns the active block for (target, actionType), if any.
func (s *Store) Get(target string, actionType schema.ActionType) (ActiveBlock, bool) {
	sh := s.shardFor(target)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	block, ok := sh.blocks[target+"|"+string(actionType)]
	if !ok {
		return ActiveBlock{}, false
	}
	return *block, true
}

// List returns all active blocks ordered by creation time.
func (s *Store) List() []ActiveBlock {
	var out []ActiveBlock
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, block := range sh.blocks {
			out = append(out, *block)
		}
		sh.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key() < out[j].Key()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SweepExpired removes every block whose expiry has passed and reports how
// many were removed. Each removal is surfaced through the expiry handler so
// the audit trail stays complete.
func (s *Store) SweepExpired() int {
	now := s.now().UTC()
	var expired []ActiveBlock

	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, block := range sh.blocks {
			if block.Expired(now) {
				expired = append(expired, *block)
				delete(sh.blocks, key)
			}
		}
		sh.mu.Unlock()
	}

	for _, block := range expired {
		s.unpersist(block)
		if s.onExpire != nil {
			s.onExpire(block)
		}
	}
	return len(expired)
}

// Recover rebuilds in-memory state from the persister, dropping anything
// that expired while the service was down.
func (s *Store) Recover(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}

	blocks, err := s.persister.Load(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, block := range blocks {
		b := block
		sh := s.shardFor(b.Target)
		sh.mu.Lock()
		sh.blocks[b.Key()] = &b
		sh.mu.Unlock()
		recovered++
	}

	// Anything that expired during downtime is swept immediately so the
	// expiry handlers still fire for it.
	swept := s.SweepExpired()
	s.logger.Info("block store recovered",
		"blocks", recovered,
		"expired_during_downtime", swept,
	)
	return recovered - swept, nil
}

// StartSweeper runs SweepExpired on a fixed interval until the context is
// cancelled or StopSweeper is called.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})

	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.SweepExpired(); n > 0 {
					s.logger.Info("expired blocks swept", "count", n)
				}
			}
		}
	}()
}

// StopSweeper stops the periodic sweep and waits for it to exit.
func (s *Store) StopSweeper() {
	if s.sweepCancel != nil {
		s.sweepCancel()
		<-s.sweepDone
	}
}

func (s *Store) persist(block ActiveBlock) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persister.Save(ctx, block); err != nil {
		s.logger.Error("failed to persist block",
			"target", block.Target,
			"action_type", block.ActionType,
			"error", err,
		)
	}
}

func (s *Store) unpersist(block ActiveBlock) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persister.Delete(ctx, block.Target, block.ActionType); err != nil {
		s.logger.Error("failed to delete persisted block",
			"target", block.Target,
			"action_type", block.ActionType,
			"error", err,
		)
	}
}
