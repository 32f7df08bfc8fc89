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

// claimMaxAttempts bounds the retries of a claim transaction that keeps
// aborting on conflicts with concurrent claimers.
const claimMaxAttempts = 5

// QueueRepository implements storage.QueueRepository for BadgerDB.
//
// Claim exclusivity relies on Badger's SSI transactions: two claimers racing
// for the same items read the same keys, so the later commit aborts with
// ErrConflict and retries against the now-claimed state.
type QueueRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.QueueRepository = (*QueueRepository)(nil)

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(backend *Backend) *QueueRepository {
	return &QueueRepository{
		backend: backend,
		logger:  slog.Default().With("component", "work-queue"),
	}
}

// Close implements storage.Repository. The queue holds no extra resources.
func (r *QueueRepository) Close() error {
	return nil
}

// Enqueue inserts a work item for the key if none is pending.
func (r *QueueRepository) Enqueue(ctx context.Context, pipelineId core.ID, key core.SourceKey) (bool, error) {
	var created bool
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		created, err = enqueueTx(tx, pipelineId, key, time.Now().UTC())
		if err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return created, err
}

// Claim atomically selects up to max eligible items and leases them to owner.
func (r *QueueRepository) Claim(ctx context.Context, pipelineId core.ID, max int, owner string, leaseDuration time.Duration) ([]*core.WorkItem, error) {
	for attempt := 0; attempt < claimMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := r.claimOnce(pipelineId, max, owner, leaseDuration)
		if errors.Is(err, badger.ErrConflict) {
			r.logger.Debug("claim conflict, retrying", "pipeline", pipelineId, "attempt", attempt+1)
			continue
		}
		return items, err
	}
	return nil, storage.ErrClaimContention
}

func (r *QueueRepository) claimOnce(pipelineId core.ID, max int, owner string, leaseDuration time.Duration) ([]*core.WorkItem, error) {
	if max <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var claimed []*core.WorkItem

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		// The iterator must be closed before any write or the commit:
		// Badger refuses to discard a transaction with open iterators.
		keys, items, err := collectEligible(tx, pipelineId, max, now)
		if err != nil {
			return err
		}

		for i, item := range items {
			item.ClaimOwner = owner
			item.ClaimExpiresAt = now.Add(leaseDuration)

			if err := tx.Set(keys[i], storage.MarshalWorkItem(item)); err != nil {
				return err
			}
			claimed = append(claimed, item)
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// collectEligible gathers up to max eligible items and their storage keys.
// The iterator is closed on return, so the caller is free to write.
func collectEligible(tx *badger.Txn, pipelineId core.ID, max int, now time.Time) ([][]byte, []*core.WorkItem, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makePartialWorkItemKey(pipelineId)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	var items []*core.WorkItem
	for iter.Rewind(); iter.Valid() && len(items) < max; iter.Next() {
		var item *core.WorkItem
		err := iter.Item().Value(func(val []byte) error {
			var err error
			item, err = storage.UnmarshalWorkItem(val)
			return err
		})
		if err != nil {
			return nil, nil, err
		}

		if !item.Eligible(now) {
			continue
		}
		keys = append(keys, iter.Item().KeyCopy(nil))
		items = append(items, item)
	}
	return keys, items, nil
}

// Ack removes a completed item from the queue.
func (r *QueueRepository) Ack(ctx context.Context, item *core.WorkItem) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeWorkItemKey(item.PipelineId, item.Key.Hash())); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Retry schedules the item for another attempt after delay and releases the claim.
func (r *QueueRepository) Retry(ctx context.Context, item *core.WorkItem, delay time.Duration) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		item.Attempts++
		item.RetryAfter = time.Now().UTC().Add(delay)
		item.ClaimOwner = ""
		item.ClaimExpiresAt = time.Time{}

		key := makeWorkItemKey(item.PipelineId, item.Key.Hash())
		if err := tx.Set(key, storage.MarshalWorkItem(item)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Escalate moves the item from the queue to the dead-letter store.
func (r *QueueRepository) Escalate(ctx context.Context, item *core.WorkItem, stage core.Stage) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		keyHash := item.Key.Hash()
		if err := tx.Delete(makeWorkItemKey(item.PipelineId, keyHash)); err != nil {
			return err
		}

		dead := &core.DeadLetterItem{
			PipelineId: item.PipelineId,
			Key:        item.Key,
			EnqueuedAt: item.EnqueuedAt,
			Attempts:   item.Attempts,
			Stage:      stage,
			FailedAt:   time.Now().UTC(),
		}
		dlKey := makeDeadLetterKey(item.PipelineId, keyHash)
		if err := tx.Set(dlKey, storage.MarshalDeadLetterItem(dead)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Remove deletes any pending item for the key.
func (r *QueueRepository) Remove(ctx context.Context, pipelineId core.ID, key core.SourceKey) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := removeWorkItemTx(tx, pipelineId, key.Hash()); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Get retrieves the pending item for a key.
func (r *QueueRepository) Get(ctx context.Context, pipelineId core.ID, key core.SourceKey) (*core.WorkItem, error) {
	var result *core.WorkItem
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readWorkItem(tx, makeWorkItemKey(pipelineId, key.Hash()))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// PendingCount reports the number of pending items, scanning at most limit entries.
func (r *QueueRepository) PendingCount(ctx context.Context, pipelineId core.ID, limit int) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialWorkItemKey(pipelineId)
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

// Transaction-level helpers shared with change capture.

// readWorkItem reads a work item from the transaction. Returns nil if absent.
func readWorkItem(tx *badger.Txn, key []byte) (*core.WorkItem, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var result *core.WorkItem
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		result, unmarshalErr = storage.UnmarshalWorkItem(val)
		return unmarshalErr
	})
	return result, err
}

// enqueueTx inserts a work item if none is pending for the key.
// Re-enqueueing a pending key is an idempotent merge: the existing item keeps
// its attempt count and claim state.
func enqueueTx(tx *badger.Txn, pipelineId core.ID, key core.SourceKey, now time.Time) (bool, error) {
	itemKey := makeWorkItemKey(pipelineId, key.Hash())

	existing, err := readWorkItem(tx, itemKey)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	item := &core.WorkItem{
		PipelineId: pipelineId,
		Key:        key,
		EnqueuedAt: now,
	}
	if err := tx.Set(itemKey, storage.MarshalWorkItem(item)); err != nil {
		return false, err
	}
	return true, nil
}

// removeWorkItemTx deletes any pending work item for the key hash.
func removeWorkItemTx(tx *badger.Txn, pipelineId, keyHash core.ID) error {
	return tx.Delete(makeWorkItemKey(pipelineId, keyHash))
}

// truncateQueueTx deletes every work item of a pipeline.
func truncateQueueTx(tx *badger.Txn, pipelineId core.ID) error {
	keys, err := collectKeys(tx, makePartialWorkItemKey(pipelineId))
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

// collectKeys gathers all keys under a prefix. Used before deleting inside
// the same transaction, so the iterator never observes its own deletes.
func collectKeys(tx *badger.Txn, prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	return keys, nil
}
