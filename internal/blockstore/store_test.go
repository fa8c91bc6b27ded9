package blockstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"astra-responder/internal/schema"
)

// fakePersister records persistence calls in memory.
type fakePersister struct {
	mu     sync.Mutex
	blocks map[string]ActiveBlock
}

func newFakePersister() *fakePersister {
	return &fakePersister{blocks: make(map[string]ActiveBlock)}
}

func (f *fakePersister) Save(_ context.Context, block ActiveBlock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[block.Key()] = block
	return nil
}

func (f *fakePersister) Delete(_ context.Context, target string, actionType schema.ActionType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blocks, target+"|"+string(actionType))
	return nil
}

func (f *fakePersister) Load(_ context.Context) ([]ActiveBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ActiveBlock, 0, len(f.blocks))
	for _, b := range f.blocks {
		out = append(out, b)
	}
	return out, nil
}

func TestStore_UpsertExtendsNeverShrinks(t *testing.T) {
	s := New(nil)

	first, extended := s.Upsert("203.0.113.9", schema.ActionBlockIP, 60*time.Minute, schema.AlertPortScan)
	if extended {
		t.Fatal("first Upsert should create, not extend")
	}
	if first.ExpiresAt == nil {
		t.Fatal("60m block should carry an expiry")
	}

	// A shorter TTL for the same pair must not shrink the window.
	second, extended := s.Upsert("203.0.113.9", schema.ActionBlockIP, 30*time.Minute, schema.AlertPortScan)
	if !extended {
		t.Fatal("second Upsert for the same pair should extend")
	}
	if second.ExpiresAt.Before(*first.ExpiresAt) {
		t.Errorf("expiry shrank: %v -> %v", first.ExpiresAt, second.ExpiresAt)
	}

	// Still exactly one block for the pair.
	blocks := s.List()
	if len(blocks) != 1 {
		t.Fatalf("List() = %d blocks, want 1", len(blocks))
	}

	// A longer TTL extends.
	third, _ := s.Upsert("203.0.113.9", schema.ActionBlockIP, 120*time.Minute, schema.AlertPortScan)
	if !third.ExpiresAt.After(*second.ExpiresAt) {
		t.Error("longer TTL should extend the expiry")
	}

	// Zero TTL makes the block permanent, which wins over any window.
	fourth, _ := s.Upsert("203.0.113.9", schema.ActionBlockIP, 0, schema.AlertPortScan)
	if fourth.ExpiresAt != nil {
		t.Error("zero TTL should make the block permanent")
	}
	fifth, _ := s.Upsert("203.0.113.9", schema.ActionBlockIP, 10*time.Minute, schema.AlertPortScan)
	if fifth.ExpiresAt != nil {
		t.Error("a finite TTL must not shrink a permanent block")
	}
}

func TestStore_SeparatePairsDoNotCollide(t *testing.T) {
	s := New(nil)

	s.Upsert("203.0.113.9", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)
	s.Upsert("203.0.113.9", schema.ActionRateLimit, time.Hour, schema.AlertDDoSSynFlood)
	s.Upsert("198.51.100.7", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)

	if len(s.List()) != 3 {
		t.Errorf("List() = %d blocks, want 3", len(s.List()))
	}
}

func TestStore_Remove(t *testing.T) {
	p := newFakePersister()
	s := New(nil, WithPersister(p))

	s.Upsert("203.0.113.9", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)
	s.Upsert("203.0.113.9", schema.ActionRateLimit, time.Hour, schema.AlertDDoSSynFlood)

	if !s.Remove("203.0.113.9") {
		t.Error("Remove() = false for blocked target")
	}
	if len(s.List()) != 0 {
		t.Error("Remove should drop every block for the target")
	}
	if len(p.blocks) != 0 {
		t.Error("Remove should delete persisted state")
	}

	// Idempotent on absence.
	if s.Remove("203.0.113.9") {
		t.Error("Remove() = true for absent target")
	}
}

func TestStore_SweepExpired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	var expired []ActiveBlock
	s := New(nil,
		WithClock(clock),
		WithExpiryHandler(func(b ActiveBlock) { expired = append(expired, b) }),
	)

	s.Upsert("203.0.113.9", schema.ActionBlockIP, 10*time.Minute, schema.AlertPortScan)
	s.Upsert("198.51.100.7", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)
	s.Upsert("192.0.2.1", schema.ActionIsolateHost, 0, schema.AlertARPSpoof) // permanent

	now = now.Add(30 * time.Minute)

	if n := s.SweepExpired(); n != 1 {
		t.Fatalf("SweepExpired() = %d, want 1", n)
	}
	if len(expired) != 1 || expired[0].Target != "203.0.113.9" {
		t.Errorf("expiry handler saw %+v", expired)
	}
	if len(s.List()) != 2 {
		t.Errorf("List() = %d blocks after sweep, want 2", len(s.List()))
	}

	// Second sweep before any new expiry is a no-op.
	if n := s.SweepExpired(); n != 0 {
		t.Errorf("second SweepExpired() = %d, want 0", n)
	}
}

func TestStore_Recover(t *testing.T) {
	p := newFakePersister()

	// Populate through one store instance.
	s1 := New(nil, WithPersister(p))
	s1.Upsert("203.0.113.9", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)
	s1.Upsert("198.51.100.7", schema.ActionRateLimit, time.Hour, schema.AlertDDoSSynFlood)

	// A fresh instance (post-crash) rebuilds from the persister.
	var expired []ActiveBlock
	s2 := New(nil,
		WithPersister(p),
		WithExpiryHandler(func(b ActiveBlock) { expired = append(expired, b) }),
	)

	n, err := s2.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Recover() = %d live blocks, want 2", n)
	}
	if len(s2.List()) != 2 {
		t.Errorf("List() = %d blocks after recovery, want 2", len(s2.List()))
	}
	if len(expired) != 0 {
		t.Errorf("no blocks should have expired during downtime, got %d", len(expired))
	}

	// Upsert after recovery still dedups against recovered state.
	_, extended := s2.Upsert("203.0.113.9", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)
	if !extended {
		t.Error("Upsert after recovery should extend the recovered block")
	}
}

func TestStore_ConcurrentUpsertSingleBlock(t *testing.T) {
	s := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert("203.0.113.9", schema.ActionBlockIP, time.Hour, schema.AlertPortScan)
		}()
	}
	wg.Wait()

	if len(s.List()) != 1 {
		t.Errorf("concurrent upserts produced %d blocks, want 1", len(s.List()))
	}
}
