package storage

import (
	"context"
	"time"

	"github.com/poiesic/vectorsync/core"
)

// Repository provides operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close closes the repository and releases resources.
	Close() error
}

// QueueRepository is the durable, concurrency-safe work backlog for all
// pipelines. Mutual exclusion is per item: many workers may claim disjoint
// batches simultaneously, and no two live claims ever overlap.
type QueueRepository interface {
	Repository

	// Enqueue inserts a work item for the given key if none is pending.
	// Enqueueing a key that already has a pending item is an idempotent
	// merge: the existing item (including its attempt count and claim
	// state) is left untouched. Returns true if a new item was created.
	Enqueue(ctx context.Context, pipelineId core.ID, key core.SourceKey) (bool, error)

	// Claim atomically selects up to max eligible items (retry time
	// reached, no live lease), stamps them with the owner and a lease
	// expiring after leaseDuration, and returns them. Concurrent callers
	// never receive overlapping items.
	Claim(ctx context.Context, pipelineId core.ID, max int, owner string, leaseDuration time.Duration) ([]*core.WorkItem, error)

	// Ack removes a completed item from the queue. Called by ChunkRepository.Commit
	// within the commit transaction; exposed directly for the source-gone no-op path.
	Ack(ctx context.Context, item *core.WorkItem) error

	// Retry increments the attempt count, schedules the item to become
	// eligible again after delay, and releases the claim.
	Retry(ctx context.Context, item *core.WorkItem, delay time.Duration) error

	// Escalate atomically moves the item from the queue to the dead-letter
	// store, recording the stage at which it last failed.
	Escalate(ctx context.Context, item *core.WorkItem, stage core.Stage) error

	// Remove deletes any pending item for the key, claimed or not.
	// Used by change capture when the source row is deleted.
	Remove(ctx context.Context, pipelineId core.ID, key core.SourceKey) error

	// Get retrieves the pending item for a key.
	// Returns ErrNotFound if no item is pending.
	Get(ctx context.Context, pipelineId core.ID, key core.SourceKey) (*core.WorkItem, error)

	// PendingCount reports the number of pending items, scanning at most
	// limit entries. The result is capped, never exact beyond the cap.
	PendingCount(ctx context.Context, pipelineId core.ID, limit int) (int, error)
}

// DeadLetterRepository stores items that could not be completed.
// Append-only from the engine's point of view; items leave only through an
// explicit operator requeue.
type DeadLetterRepository interface {
	Repository

	// List returns up to limit dead-letter items for a pipeline.
	List(ctx context.Context, pipelineId core.ID, limit int) ([]*core.DeadLetterItem, error)

	// Count reports the number of dead-letter items, scanning at most limit entries.
	Count(ctx context.Context, pipelineId core.ID, limit int) (int, error)

	// Requeue moves a dead-letter item back to the work queue with its
	// attempt count reset. Returns ErrNotFound if the key is not dead-lettered.
	Requeue(ctx context.Context, pipelineId core.ID, key core.SourceKey) error

	// RequeueAll moves every dead-letter item of the pipeline back to the
	// work queue. Returns the number of items moved.
	RequeueAll(ctx context.Context, pipelineId core.ID) (int, error)
}

// ChunkRepository stores derived chunks keyed by (pipeline, source key, seq).
// The chunk set for a key changes only through Commit, which replaces it
// atomically, so readers never observe a partial set.
type ChunkRepository interface {
	Repository

	// Commit atomically deletes the previously stored chunks for the
	// item's key, writes the new set, records the pipeline's last
	// successful run time, and acks the work item. chunks may be empty:
	// a row with no content commits to zero chunks.
	Commit(ctx context.Context, item *core.WorkItem, chunks []*core.DerivedChunk) error

	// GetChunks returns the chunk set for a key ordered by sequence
	// number. Returns an empty slice if the key has no chunks.
	GetChunks(ctx context.Context, pipelineId core.ID, key core.SourceKey) ([]*core.DerivedChunk, error)

	// FindSimilar finds chunks similar to the given vector.
	// Returns chunks with similarity >= minSimilarity, up to limit results,
	// ordered by similarity score (highest first).
	FindSimilar(ctx context.Context, pipelineId core.ID, vector []float32, minSimilarity float32, limit int) ([]*ChunkMatch, error)
}

// ChunkMatch is a chunk returned from vector similarity search.
type ChunkMatch struct {
	Chunk *core.DerivedChunk
	Score float32
}

// PipelineRepository stores pipeline definitions.
type PipelineRepository interface {
	Repository

	// CreatePipeline validates and persists a definition. The Id is
	// derived from the pipeline name; creating a second pipeline with the
	// same name returns ErrDuplicateKey.
	CreatePipeline(ctx context.Context, p *core.Pipeline) (*core.Pipeline, error)

	// GetPipeline retrieves a definition by id.
	// Returns ErrNotFound if it doesn't exist.
	GetPipeline(ctx context.Context, id core.ID) (*core.Pipeline, error)

	// GetPipelineByName retrieves a definition by name.
	GetPipelineByName(ctx context.Context, name string) (*core.Pipeline, error)

	// ListPipelines returns all definitions.
	ListPipelines(ctx context.Context) ([]*core.Pipeline, error)

	// ListPipelinesBySource returns the definitions reading from a source
	// relation. Used by change capture to fan a source mutation out to
	// every pipeline that watches it.
	ListPipelinesBySource(ctx context.Context, source string) ([]*core.Pipeline, error)

	// SetPaused flips the only mutable toggle of a definition.
	SetPaused(ctx context.Context, id core.ID, paused bool) error

	// LastSuccess returns the time of the pipeline's most recent
	// successful commit, or the zero time if it has never committed.
	LastSuccess(ctx context.Context, id core.ID) (time.Time, error)
}

// ErrorRepository is the append-only failure log.
type ErrorRepository interface {
	Repository

	// RecordError appends a record, assigning its Id and OccurredAt if unset.
	RecordError(ctx context.Context, rec *core.ErrorRecord) (*core.ErrorRecord, error)

	// RecentErrors returns up to limit records for a pipeline, newest first.
	RecentErrors(ctx context.Context, pipelineId core.ID, limit int) ([]*core.ErrorRecord, error)
}

// SourceStore is a native source relation whose writes run change capture in
// the same transaction as the row mutation. It exists so the system is usable
// end to end without an external database; external sources integrate through
// CaptureHook instead.
type SourceStore interface {
	Repository

	// PutRow inserts or replaces a row and, atomically with the write,
	// enqueues a work item for the row's key on every pipeline reading
	// this source.
	PutRow(ctx context.Context, source string, row *core.SourceRow) error

	// DeleteRow removes a row and, atomically with the delete, removes the
	// derived chunks and any pending work item for its key on every
	// pipeline reading this source. Deleting an absent row is a no-op.
	DeleteRow(ctx context.Context, source string, key core.SourceKey) error

	// GetRow retrieves the current row state.
	// Returns ErrNotFound if the row doesn't exist.
	GetRow(ctx context.Context, source string, key core.SourceKey) (*core.SourceRow, error)

	// TruncateSource removes all rows of the source and, in the same
	// atomic step, truncates the derived chunks and work queues of every
	// pipeline reading it.
	TruncateSource(ctx context.Context, source string) error

	// ForEachRow iterates all rows of the source. Used by full rebuilds.
	// Iteration stops at the first error returned by fn.
	ForEachRow(ctx context.Context, source string, fn func(*core.SourceRow) error) error
}

// CaptureHook is the change-capture contract a source writer invokes from
// inside the same transaction (or equivalent atomic context) as the source
// mutation. Implementations must make the queue and chunk transitions of one
// call atomic.
type CaptureHook interface {
	// RowInserted enqueues work for a newly created key.
	RowInserted(ctx context.Context, source string, key core.SourceKey) error

	// RowUpdated handles an update. If the primary key changed, the old
	// identity's chunks and pending work are removed before the new key is
	// enqueued. Capture is unconditional on any update: content may have
	// changed even when only non-key columns did.
	RowUpdated(ctx context.Context, source string, oldKey, newKey core.SourceKey) error

	// RowDeleted removes the key's chunks and any pending work item.
	RowDeleted(ctx context.Context, source string, key core.SourceKey) error

	// SourceTruncated truncates the chunks and queue of every pipeline
	// reading the source in one atomic step.
	SourceTruncated(ctx context.Context, source string) error
}
