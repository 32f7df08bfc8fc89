package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/poiesic/vectorsync/core"
)

func TestRecordAndListErrors(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	pid := core.ID(1)
	for i := 0; i < 5; i++ {
		_, err := stores.Errors.RecordError(ctx, &core.ErrorRecord{
			PipelineId: pid,
			Key:        core.SourceKey{"42"},
			Stage:      core.StageEmbedding,
			Class:      core.ErrorClassTransient,
			Message:    fmt.Sprintf("failure %d", i),
		})
		if err != nil {
			t.Fatalf("RecordError failed: %v", err)
		}
	}

	recent, err := stores.Errors.RecentErrors(ctx, pid, 3)
	if err != nil {
		t.Fatalf("RecentErrors failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recent))
	}
	// Newest first
	if recent[0].Message != "failure 4" {
		t.Fatalf("Expected newest record first, got %q", recent[0].Message)
	}
	if recent[0].Id <= recent[1].Id {
		t.Fatal("Expected descending ids")
	}
	if recent[0].OccurredAt.IsZero() {
		t.Fatal("Expected OccurredAt to be assigned")
	}
}

func TestRecentErrorsIsolatedByPipeline(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	for _, pid := range []core.ID{1, 2} {
		_, err := stores.Errors.RecordError(ctx, &core.ErrorRecord{
			PipelineId: pid,
			Key:        core.SourceKey{"x"},
			Stage:      core.StageLoading,
			Class:      core.ErrorClassPermanent,
			Message:    fmt.Sprintf("pipeline %d", pid),
		})
		if err != nil {
			t.Fatalf("RecordError failed: %v", err)
		}
	}

	recent, err := stores.Errors.RecentErrors(ctx, core.ID(1), 10)
	if err != nil {
		t.Fatalf("RecentErrors failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recent))
	}
	if recent[0].Message != "pipeline 1" {
		t.Fatalf("Got record from wrong pipeline: %q", recent[0].Message)
	}
}
