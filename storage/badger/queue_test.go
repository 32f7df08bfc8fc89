package badger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/storage"
)

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	stores, err := NewMemoryStores()
	if err != nil {
		t.Fatalf("Failed to create stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return stores
}

func TestEnqueueIdempotent(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	key := core.SourceKey{"42"}

	created, err := stores.Queue.Enqueue(ctx, pid, key)
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if !created {
		t.Fatal("Expected first enqueue to create an item")
	}

	// Second enqueue for the same key merges into the pending item
	created, err = stores.Queue.Enqueue(ctx, pid, key)
	if err != nil {
		t.Fatalf("Failed to re-enqueue: %v", err)
	}
	if created {
		t.Fatal("Expected second enqueue to merge, not create")
	}

	count, err := stores.Queue.PendingCount(ctx, pid, 100)
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 1 {
		t.Fatalf("Expected 1 pending item, got %d", count)
	}
}

func TestEnqueuePreservesAttempts(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	key := core.SourceKey{"42"}

	if _, err := stores.Queue.Enqueue(ctx, pid, key); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	items, err := stores.Queue.Claim(ctx, pid, 1, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Failed to claim: %v", err)
	}
	if err := stores.Queue.Retry(ctx, items[0], 0); err != nil {
		t.Fatalf("Failed to retry: %v", err)
	}

	// A capture event while the item is pending must not reset the count
	if _, err := stores.Queue.Enqueue(ctx, pid, key); err != nil {
		t.Fatalf("Failed to re-enqueue: %v", err)
	}

	item, err := stores.Queue.Get(ctx, pid, key)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if item.Attempts != 1 {
		t.Fatalf("Expected 1 attempt after merge, got %d", item.Attempts)
	}
}

func TestClaimExclusivity(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	for i := 0; i < 20; i++ {
		key := core.SourceKey{string(rune('a' + i))}
		if _, err := stores.Queue.Enqueue(ctx, pid, key); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	// Four workers race for the whole queue. Every item must be claimed by
	// exactly one of them.
	var mu sync.Mutex
	owners := make(map[string]string)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		owner := string(rune('A' + w))
		go func() {
			defer wg.Done()
			for {
				items, err := stores.Queue.Claim(ctx, pid, 3, owner, time.Minute)
				if err != nil && !errors.Is(err, storage.ErrClaimContention) {
					t.Errorf("Claim failed: %v", err)
					return
				}
				if len(items) == 0 && err == nil {
					return
				}
				mu.Lock()
				for _, item := range items {
					keyStr := item.Key.String()
					if prev, taken := owners[keyStr]; taken {
						t.Errorf("Item %s claimed by both %s and %s", keyStr, prev, owner)
					}
					owners[keyStr] = owner
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(owners) != 20 {
		t.Fatalf("Expected all 20 items claimed, got %d", len(owners))
	}
}

func TestClaimStressAllDistinct(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	const total = 200
	for i := 0; i < total; i++ {
		if _, err := stores.Queue.Enqueue(ctx, pid, core.SourceKey{strconv.Itoa(i)}); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	// Eight workers hammer the queue with small batches. High contention
	// drives the conflict-retry path hard; the union of all claims must
	// still be exactly the queue with no duplicates.
	var mu sync.Mutex
	owners := make(map[string]string)
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		owner := "w" + strconv.Itoa(w)
		go func() {
			defer wg.Done()
			for {
				items, err := stores.Queue.Claim(ctx, pid, 7, owner, time.Minute)
				if err != nil {
					if errors.Is(err, storage.ErrClaimContention) {
						continue
					}
					t.Errorf("Claim failed: %v", err)
					return
				}
				if len(items) == 0 {
					return
				}
				mu.Lock()
				for _, item := range items {
					keyStr := item.Key.String()
					if prev, taken := owners[keyStr]; taken {
						t.Errorf("Item %s claimed by both %s and %s", keyStr, prev, owner)
					}
					owners[keyStr] = owner
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(owners) != total {
		t.Fatalf("Expected all %d items claimed, got %d", total, len(owners))
	}
}

func TestClaimCancelledContext(t *testing.T) {
	stores := newTestStores(t)

	pid := core.ID(1)
	if _, err := stores.Queue.Enqueue(context.Background(), pid, core.SourceKey{"1"}); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := stores.Queue.Claim(ctx, pid, 10, "w1", time.Minute); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestClaimSkipsLeased(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	if _, err := stores.Queue.Enqueue(ctx, pid, core.SourceKey{"1"}); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	first, err := stores.Queue.Claim(ctx, pid, 10, "w1", time.Minute)
	if err != nil {
		t.Fatalf("First claim failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(first))
	}

	second, err := stores.Queue.Claim(ctx, pid, 10, "w2", time.Minute)
	if err != nil {
		t.Fatalf("Second claim failed: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("Expected no items under a live lease, got %d", len(second))
	}
}

func TestClaimReclaimsExpiredLease(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	if _, err := stores.Queue.Enqueue(ctx, pid, core.SourceKey{"1"}); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	// Lease that expires immediately, simulating a crashed worker
	if _, err := stores.Queue.Claim(ctx, pid, 10, "crashed", -time.Second); err != nil {
		t.Fatalf("First claim failed: %v", err)
	}

	items, err := stores.Queue.Claim(ctx, pid, 10, "w2", time.Minute)
	if err != nil {
		t.Fatalf("Reclaim failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected expired lease to be reclaimable, got %d items", len(items))
	}
	if items[0].ClaimOwner != "w2" {
		t.Fatalf("Expected owner w2, got %s", items[0].ClaimOwner)
	}
}

func TestRetrySchedulesBackoff(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	key := core.SourceKey{"1"}
	if _, err := stores.Queue.Enqueue(ctx, pid, key); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	items, err := stores.Queue.Claim(ctx, pid, 1, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	if err := stores.Queue.Retry(ctx, items[0], time.Hour); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}

	// Item is pending but not yet eligible
	claimed, err := stores.Queue.Claim(ctx, pid, 10, "w2", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatal("Expected item in backoff to be ineligible")
	}

	item, err := stores.Queue.Get(ctx, pid, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Attempts != 1 {
		t.Fatalf("Expected 1 attempt, got %d", item.Attempts)
	}
	if item.ClaimOwner != "" {
		t.Fatal("Expected claim to be released on retry")
	}
}

func TestEscalateMovesToDeadLetters(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	key := core.SourceKey{"1"}
	if _, err := stores.Queue.Enqueue(ctx, pid, key); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	items, err := stores.Queue.Claim(ctx, pid, 1, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	items[0].Attempts = 3

	if err := stores.Queue.Escalate(ctx, items[0], core.StageEmbedding); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	if _, err := stores.Queue.Get(ctx, pid, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected item gone from queue, got %v", err)
	}

	dead, err := stores.DeadLetters.List(ctx, pid, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("Expected 1 dead-letter item, got %d", len(dead))
	}
	if dead[0].Stage != core.StageEmbedding {
		t.Fatalf("Expected stage %s, got %s", core.StageEmbedding, dead[0].Stage)
	}
	if dead[0].Attempts != 3 {
		t.Fatalf("Expected 3 attempts, got %d", dead[0].Attempts)
	}
}

func TestDeadLetterRequeue(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	key := core.SourceKey{"1"}
	if _, err := stores.Queue.Enqueue(ctx, pid, key); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	items, _ := stores.Queue.Claim(ctx, pid, 1, "w1", time.Minute)
	items[0].Attempts = 5
	if err := stores.Queue.Escalate(ctx, items[0], core.StageLoading); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}

	if err := stores.DeadLetters.Requeue(ctx, pid, key); err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}

	// Back in the queue with the attempt count reset
	item, err := stores.Queue.Get(ctx, pid, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if item.Attempts != 0 {
		t.Fatalf("Expected attempts reset to 0, got %d", item.Attempts)
	}

	count, err := stores.DeadLetters.Count(ctx, pid, 10)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected empty dead-letter store, got %d", count)
	}

	// Requeueing a key that is not dead-lettered
	if err := stores.DeadLetters.Requeue(ctx, pid, core.SourceKey{"missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeadLetterRequeueAll(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	for i := 0; i < 3; i++ {
		key := core.SourceKey{string(rune('a' + i))}
		if _, err := stores.Queue.Enqueue(ctx, pid, key); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}
	items, err := stores.Queue.Claim(ctx, pid, 10, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	for _, item := range items {
		if err := stores.Queue.Escalate(ctx, item, core.StageTransforming); err != nil {
			t.Fatalf("Escalate failed: %v", err)
		}
	}

	moved, err := stores.DeadLetters.RequeueAll(ctx, pid)
	if err != nil {
		t.Fatalf("RequeueAll failed: %v", err)
	}
	if moved != 3 {
		t.Fatalf("Expected 3 items moved, got %d", moved)
	}

	pending, err := stores.Queue.PendingCount(ctx, pid, 10)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if pending != 3 {
		t.Fatalf("Expected 3 pending items, got %d", pending)
	}
}
