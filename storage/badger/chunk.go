package badger

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/storage"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
type ChunkRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{
		backend: backend,
		logger:  slog.Default().With("component", "chunk-store"),
	}
}

// Close implements storage.Repository.
func (r *ChunkRepository) Close() error {
	return nil
}

// Commit atomically replaces the chunk set for the item's key, records the
// pipeline's last successful run, and removes the work item. Readers never
// observe a partial chunk set: the whole transition is one transaction.
func (r *ChunkRepository) Commit(ctx context.Context, item *core.WorkItem, chunks []*core.DerivedChunk) error {
	now := time.Now().UTC()
	keyHash := item.Key.Hash()

	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := deleteChunksTx(tx, item.PipelineId, keyHash); err != nil {
			return err
		}

		for i, chunk := range chunks {
			chunk.PipelineId = item.PipelineId
			chunk.Key = item.Key
			chunk.Seq = i
			chunk.UpdatedAt = now

			key := makeChunkKey(item.PipelineId, keyHash, i)
			if err := tx.Set(key, storage.MarshalDerivedChunk(chunk)); err != nil {
				return err
			}
		}

		if err := tx.Set(makeLastRunKey(item.PipelineId), storage.MarshalTime(now)); err != nil {
			return err
		}

		if err := removeWorkItemTx(tx, item.PipelineId, keyHash); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetChunks returns the chunk set for a key ordered by sequence number.
func (r *ChunkRepository) GetChunks(ctx context.Context, pipelineId core.ID, key core.SourceKey) ([]*core.DerivedChunk, error) {
	var results []*core.DerivedChunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialChunkKey(pipelineId, key.Hash())
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Seq is BigEndian in the key, so iteration yields sequence order.
		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunk *core.DerivedChunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalDerivedChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, chunk)
		}
		return nil
	}, false)
	return results, err
}

// FindSimilar finds chunks similar to the given vector.
func (r *ChunkRepository) FindSimilar(ctx context.Context, pipelineId core.ID, vector []float32, minSimilarity float32, limit int) ([]*storage.ChunkMatch, error) {
	var results []*storage.ChunkMatch

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePipelineChunkPrefix(pipelineId)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var chunk *core.DerivedChunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalDerivedChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			if chunk == nil || len(chunk.Vector) == 0 {
				continue
			}

			// Cosine similarity (dot product for normalized vectors)
			similarity := dotProduct(vector, chunk.Vector)
			if similarity >= minSimilarity {
				results = append(results, &storage.ChunkMatch{
					Chunk: chunk,
					Score: similarity,
				})
			}
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b *storage.ChunkMatch) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// deleteChunksTx deletes the full chunk set for one key hash.
func deleteChunksTx(tx *badger.Txn, pipelineId, keyHash core.ID) error {
	keys, err := collectKeys(tx, makePartialChunkKey(pipelineId, keyHash))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// truncateChunksTx deletes every chunk of a pipeline.
func truncateChunksTx(tx *badger.Txn, pipelineId core.ID) error {
	keys, err := collectKeys(tx, makePipelineChunkPrefix(pipelineId))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
