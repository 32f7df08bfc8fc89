package badger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/storage"
)

// DeadLetterRepository implements storage.DeadLetterRepository for BadgerDB.
type DeadLetterRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.DeadLetterRepository = (*DeadLetterRepository)(nil)

// NewDeadLetterRepository creates a new DeadLetterRepository.
func NewDeadLetterRepository(backend *Backend) *DeadLetterRepository {
	return &DeadLetterRepository{
		backend: backend,
		logger:  slog.Default().With("component", "dead-letter"),
	}
}

// Close implements storage.Repository.
func (r *DeadLetterRepository) Close() error {
	return nil
}

// List returns up to limit dead-letter items for a pipeline.
func (r *DeadLetterRepository) List(ctx context.Context, pipelineId core.ID, limit int) ([]*core.DeadLetterItem, error) {
	var results []*core.DeadLetterItem
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialDeadLetterKey(pipelineId)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid() && len(results) < limit; iter.Next() {
			var item *core.DeadLetterItem
			err := iter.Item().Value(func(val []byte) error {
				var err error
				item, err = storage.UnmarshalDeadLetterItem(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, item)
		}
		return nil
	}, false)
	return results, err
}

// Count reports the number of dead-letter items, scanning at most limit entries.
func (r *DeadLetterRepository) Count(ctx context.Context, pipelineId core.ID, limit int) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialDeadLetterKey(pipelineId)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid() && count < limit; iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Requeue moves a dead-letter item back to the work queue with its attempt
// count reset. If change capture already re-enqueued the key, the dead-letter
// record is dropped and the pending item is left untouched.
func (r *DeadLetterRepository) Requeue(ctx context.Context, pipelineId core.ID, key core.SourceKey) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		keyHash := key.Hash()
		dlKey := makeDeadLetterKey(pipelineId, keyHash)

		if _, err := tx.Get(dlKey); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}

		if err := tx.Delete(dlKey); err != nil {
			return err
		}
		if _, err := enqueueTx(tx, pipelineId, key, time.Now().UTC()); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RequeueAll moves every dead-letter item of the pipeline back to the queue.
func (r *DeadLetterRepository) RequeueAll(ctx context.Context, pipelineId core.ID) (int, error) {
	moved := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		items, err := collectDeadLetters(tx, pipelineId)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, item := range items {
			if err := tx.Delete(makeDeadLetterKey(pipelineId, item.Key.Hash())); err != nil {
				return err
			}
			if _, err := enqueueTx(tx, pipelineId, item.Key, now); err != nil {
				return err
			}
			moved++
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return 0, err
	}
	return moved, nil
}

// collectDeadLetters gathers all dead-letter items of a pipeline. The
// iterator is closed before the caller mutates the transaction.
func collectDeadLetters(tx *badger.Txn, pipelineId core.ID) ([]*core.DeadLetterItem, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialDeadLetterKey(pipelineId)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var items []*core.DeadLetterItem
	for iter.Rewind(); iter.Valid(); iter.Next() {
		var item *core.DeadLetterItem
		err := iter.Item().Value(func(val []byte) error {
			var err error
			item, err = storage.UnmarshalDeadLetterItem(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
