package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/storage"
)

func createSourcePipelines(t *testing.T, stores *Stores, source string, names ...string) []*core.Pipeline {
	t.Helper()
	ctx := context.Background()
	var created []*core.Pipeline
	for _, name := range names {
		p, err := stores.Pipelines.CreatePipeline(ctx, testPipeline(name, source))
		if err != nil {
			t.Fatalf("Failed to create pipeline %s: %v", name, err)
		}
		created = append(created, p)
	}
	return created
}

func TestPutRowEnqueuesAllPipelines(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pipelines := createSourcePipelines(t, stores, "documents", "docs-a", "docs-b")
	createSourcePipelines(t, stores, "tickets", "tickets")

	row := &core.SourceRow{Key: core.SourceKey{"42"}, Content: "hello world"}
	if err := stores.Source.PutRow(ctx, "documents", row); err != nil {
		t.Fatalf("PutRow failed: %v", err)
	}

	// Both document pipelines see the key, the ticket pipeline does not
	for _, p := range pipelines {
		item, err := stores.Queue.Get(ctx, p.Id, row.Key)
		if err != nil {
			t.Fatalf("Expected pending item on %s: %v", p.Name, err)
		}
		if !item.Key.Equal(row.Key) {
			t.Fatalf("Expected key %v, got %v", row.Key, item.Key)
		}
	}

	ticket, err := stores.Pipelines.GetPipelineByName(ctx, "tickets")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	count, err := stores.Queue.PendingCount(ctx, ticket.Id, 10)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("Expected empty ticket queue, got %d", count)
	}
}

func TestPutRowRoundTrip(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	row := &core.SourceRow{
		Key:      core.SourceKey{"42"},
		Content:  "body text",
		Metadata: map[string]string{"title": "Answer"},
	}
	if err := stores.Source.PutRow(ctx, "documents", row); err != nil {
		t.Fatalf("PutRow failed: %v", err)
	}

	got, err := stores.Source.GetRow(ctx, "documents", row.Key)
	if err != nil {
		t.Fatalf("GetRow failed: %v", err)
	}
	if got.Content != "body text" || got.Metadata["title"] != "Answer" {
		t.Fatalf("Row did not round-trip: %+v", got)
	}

	if _, err := stores.Source.GetRow(ctx, "documents", core.SourceKey{"missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestPutRowKeyArity(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	p := testPipeline("docs", "documents")
	p.KeyColumns = []string{"tenant", "id"}
	if _, err := stores.Pipelines.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	row := &core.SourceRow{Key: core.SourceKey{"42"}, Content: "x"}
	if err := stores.Source.PutRow(ctx, "documents", row); !errors.Is(err, core.ErrKeyArity) {
		t.Fatalf("Expected ErrKeyArity, got %v", err)
	}
}

func TestDeleteRowRemovesDerivedState(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pipelines := createSourcePipelines(t, stores, "documents", "docs")
	pid := pipelines[0].Id
	key := core.SourceKey{"42"}

	row := &core.SourceRow{Key: key, Content: "hello"}
	if err := stores.Source.PutRow(ctx, "documents", row); err != nil {
		t.Fatalf("PutRow failed: %v", err)
	}

	// Process the item so chunks exist
	items, err := stores.Queue.Claim(ctx, pid, 1, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	chunks := []*core.DerivedChunk{{Text: "hello", Vector: []float32{0.1}}}
	if err := stores.Chunks.Commit(ctx, items[0], chunks); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := stores.Source.DeleteRow(ctx, "documents", key); err != nil {
		t.Fatalf("DeleteRow failed: %v", err)
	}

	if _, err := stores.Source.GetRow(ctx, "documents", key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected row gone, got %v", err)
	}
	remaining, err := stores.Chunks.GetChunks(ctx, pid, key)
	if err != nil {
		t.Fatalf("GetChunks failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("Expected chunks removed, got %d", len(remaining))
	}
	if _, err := stores.Queue.Get(ctx, pid, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected no pending work, got %v", err)
	}

	// Deleting an absent row is a no-op
	if err := stores.Source.DeleteRow(ctx, "documents", core.SourceKey{"missing"}); err != nil {
		t.Fatalf("Expected no-op delete, got %v", err)
	}
}

func TestRowUpdatedKeyChange(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pipelines := createSourcePipelines(t, stores, "documents", "docs")
	pid := pipelines[0].Id

	oldKey := core.SourceKey{"42"}
	newKey := core.SourceKey{"43"}

	// Old identity has committed chunks
	if _, err := stores.Queue.Enqueue(ctx, pid, oldKey); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	items, err := stores.Queue.Claim(ctx, pid, 1, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := stores.Chunks.Commit(ctx, items[0], []*core.DerivedChunk{{Text: "old", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := stores.Source.RowUpdated(ctx, "documents", oldKey, newKey); err != nil {
		t.Fatalf("RowUpdated failed: %v", err)
	}

	// Old identity fully cleaned, new identity enqueued
	oldChunks, err := stores.Chunks.GetChunks(ctx, pid, oldKey)
	if err != nil {
		t.Fatalf("GetChunks failed: %v", err)
	}
	if len(oldChunks) != 0 {
		t.Fatalf("Expected old identity chunks removed, got %d", len(oldChunks))
	}
	if _, err := stores.Queue.Get(ctx, pid, newKey); err != nil {
		t.Fatalf("Expected new key enqueued: %v", err)
	}
}

func TestRowUpdatedSameKey(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pipelines := createSourcePipelines(t, stores, "documents", "docs")
	pid := pipelines[0].Id
	key := core.SourceKey{"42"}

	// Capture fires even when only non-key columns changed
	if err := stores.Source.RowUpdated(ctx, "documents", key, key); err != nil {
		t.Fatalf("RowUpdated failed: %v", err)
	}
	if _, err := stores.Queue.Get(ctx, pid, key); err != nil {
		t.Fatalf("Expected key enqueued: %v", err)
	}
}

func TestTruncateSource(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pipelines := createSourcePipelines(t, stores, "documents", "docs")
	pid := pipelines[0].Id

	for _, id := range []string{"1", "2", "3"} {
		row := &core.SourceRow{Key: core.SourceKey{id}, Content: "text " + id}
		if err := stores.Source.PutRow(ctx, "documents", row); err != nil {
			t.Fatalf("PutRow failed: %v", err)
		}
	}

	// Commit one so chunks exist alongside pending work
	items, err := stores.Queue.Claim(ctx, pid, 1, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := stores.Chunks.Commit(ctx, items[0], []*core.DerivedChunk{{Text: "x", Vector: []float32{1}}}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := stores.Source.TruncateSource(ctx, "documents"); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	pending, err := stores.Queue.PendingCount(ctx, pid, 10)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if pending != 0 {
		t.Fatalf("Expected empty queue after truncate, got %d", pending)
	}

	rows := 0
	err = stores.Source.ForEachRow(ctx, "documents", func(*core.SourceRow) error {
		rows++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachRow failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("Expected no rows after truncate, got %d", rows)
	}
}

func TestForEachRow(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		row := &core.SourceRow{Key: core.SourceKey{id}, Content: "text " + id}
		if err := stores.Source.PutRow(ctx, "documents", row); err != nil {
			t.Fatalf("PutRow failed: %v", err)
		}
	}

	seen := 0
	err := stores.Source.ForEachRow(ctx, "documents", func(row *core.SourceRow) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachRow failed: %v", err)
	}
	if seen != 3 {
		t.Fatalf("Expected 3 rows, got %d", seen)
	}

	// Iteration stops at the first error
	stop := errors.New("stop")
	seen = 0
	err = stores.Source.ForEachRow(ctx, "documents", func(*core.SourceRow) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Expected stop error, got %v", err)
	}
	if seen != 1 {
		t.Fatalf("Expected iteration to stop after 1 row, got %d", seen)
	}
}
