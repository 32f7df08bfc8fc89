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

// ErrorRepository implements storage.ErrorRepository for BadgerDB.
type ErrorRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
	logger  *slog.Logger
}

var _ storage.ErrorRepository = (*ErrorRepository)(nil)

// NewErrorRepository creates a new ErrorRepository.
func NewErrorRepository(backend *Backend) (*ErrorRepository, error) {
	idSeq, err := backend.GetSequence(errorRecordIDSeq)
	if err != nil {
		return nil, err
	}

	return &ErrorRepository{
		backend: backend,
		idSeq:   idSeq,
		logger:  slog.Default().With("component", "error-log"),
	}, nil
}

// Close releases the ID sequence.
func (r *ErrorRepository) Close() error {
	return r.idSeq.Release()
}

// RecordError appends a record, assigning its Id and OccurredAt if unset.
func (r *ErrorRepository) RecordError(ctx context.Context, rec *core.ErrorRecord) (*core.ErrorRecord, error) {
	nextID, err := r.idSeq.Next()
	if err != nil {
		return nil, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return nil, err
		}
	}
	rec.Id = core.ID(nextID)

	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}

	err = r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeErrorRecordKey(rec.PipelineId, nextID)
		if err := tx.Set(key, storage.MarshalErrorRecord(rec)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentErrors returns up to limit records for a pipeline, newest first.
func (r *ErrorRepository) RecentErrors(ctx context.Context, pipelineId core.ID, limit int) ([]*core.ErrorRecord, error) {
	var results []*core.ErrorRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		// Reverse iterator from the highest possible sequence for this pipeline.
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		iter := tx.NewIterator(opts)
		defer iter.Close()

		prefix := makePartialErrorRecordKey(pipelineId)
		startKey := makeMaxErrorRecordKey(pipelineId)

		for iter.Seek(startKey); iter.Valid() && len(results) < limit; iter.Next() {
			key := iter.Item().Key()
			if len(key) < len(prefix) || slices.Compare(key[:len(prefix)], prefix) != 0 {
				break
			}

			var rec *core.ErrorRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalErrorRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			results = append(results, rec)
		}
		return nil
	}, false)
	return results, err
}
