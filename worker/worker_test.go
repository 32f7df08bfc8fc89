package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/vectorsync/ai/mock"
	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/runner"
	badgerstore "github.com/poiesic/vectorsync/storage/badger"
)

type fixture struct {
	stores   *badgerstore.Stores
	pipeline *core.Pipeline
	embedder *mock.Embedder
	worker   *Worker
}

func newFixture(t *testing.T, tune func(*core.Pipeline)) *fixture {
	t.Helper()

	stores, err := badgerstore.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	p := &core.Pipeline{
		Name:           "docs",
		Source:         "documents",
		KeyColumns:     []string{"id"},
		EmbeddingModel: "mock",
		RetryDelay:     time.Millisecond,
		MaxRetryDelay:  4 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	}
	if tune != nil {
		tune(p)
	}
	p, err = stores.Pipelines.CreatePipeline(context.Background(), p)
	require.NoError(t, err)

	embedder := mock.NewEmbedder()
	r := runner.New(p, runner.Deps{
		Queue:    stores.Queue,
		Chunks:   stores.Chunks,
		Errors:   stores.Errors,
		Source:   stores.Source,
		Embedder: embedder,
	})

	w, err := New(p, stores.Queue, stores.Pipelines, r, WithOwner("test-worker"))
	require.NoError(t, err)
	t.Cleanup(w.Release)

	return &fixture{stores: stores, pipeline: p, embedder: embedder, worker: w}
}

func (f *fixture) putRows(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		row := &core.SourceRow{
			Key:     core.SourceKey{fmt.Sprintf("%d", i)},
			Content: fmt.Sprintf("document body %d", i),
		}
		require.NoError(t, f.stores.Source.PutRow(context.Background(), "documents", row))
	}
}

func TestRunOnceDrainsQueue(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.putRows(t, 10)

	require.NoError(t, f.worker.RunOnce(ctx))

	count, err := f.stores.Queue.PendingCount(ctx, f.pipeline.Id, 100)
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 0; i < 10; i++ {
		chunks, err := f.stores.Chunks.GetChunks(ctx, f.pipeline.Id, core.SourceKey{fmt.Sprintf("%d", i)})
		require.NoError(t, err)
		assert.NotEmpty(t, chunks, "row %d", i)
	}
}

func TestRunOnceEmptyQueue(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.worker.RunOnce(context.Background()))
	assert.Zero(t, f.embedder.CallCount())
}

func TestRunOnceSplitsConcurrencyGroups(t *testing.T) {
	f := newFixture(t, func(p *core.Pipeline) {
		p.BatchSize = 8
		p.Concurrency = 4
	})
	ctx := context.Background()

	f.putRows(t, 8)

	require.NoError(t, f.worker.RunOnce(ctx))

	// 8 items in 4 groups: one coalesced provider call per group
	assert.Equal(t, 4, f.embedder.CallCount())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)

	f.putRows(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	// Wait for the queue to drain, then cancel
	require.Eventually(t, func() bool {
		count, err := f.stores.Queue.PendingCount(context.Background(), f.pipeline.Id, 10)
		return err == nil && count == 0
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}

func TestRunPicksUpLateWork(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	// Enqueue after the worker is already idle-polling
	time.Sleep(20 * time.Millisecond)
	f.putRows(t, 1)

	require.Eventually(t, func() bool {
		chunks, err := f.stores.Chunks.GetChunks(context.Background(), f.pipeline.Id, core.SourceKey{"0"})
		return err == nil && len(chunks) > 0
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestPausedPipelineSkipsWork(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.putRows(t, 3)
	require.NoError(t, f.stores.Pipelines.SetPaused(ctx, f.pipeline.Id, true))

	require.NoError(t, f.worker.RunOnce(ctx))

	// Items stay queued, nothing was embedded
	count, err := f.stores.Queue.PendingCount(ctx, f.pipeline.Id, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Zero(t, f.embedder.CallCount())

	// Resume and drain
	require.NoError(t, f.stores.Pipelines.SetPaused(ctx, f.pipeline.Id, false))
	require.NoError(t, f.worker.RunOnce(ctx))

	count, err = f.stores.Queue.PendingCount(ctx, f.pipeline.Id, 10)
	require.NoError(t, err)
	assert.Zero(t, count)
}
