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

// PipelineRepository implements storage.PipelineRepository for BadgerDB.
type PipelineRepository struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.PipelineRepository = (*PipelineRepository)(nil)

// NewPipelineRepository creates a new PipelineRepository.
func NewPipelineRepository(backend *Backend) *PipelineRepository {
	return &PipelineRepository{
		backend: backend,
		logger:  slog.Default().With("component", "pipeline-store"),
	}
}

// Close implements storage.Repository.
func (r *PipelineRepository) Close() error {
	return nil
}

// CreatePipeline validates and persists a pipeline definition.
// The Id is derived from the pipeline name with content hashing, so the same
// name always maps to the same id.
func (r *PipelineRepository) CreatePipeline(ctx context.Context, p *core.Pipeline) (*core.Pipeline, error) {
	if err := core.ValidatePipeline(p); err != nil {
		return nil, err
	}
	p.ApplyDefaults()

	p.Id = core.IDFromContent(p.Name)
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		nameKey := makePipelineNameKey(p.Name)
		if _, err := tx.Get(nameKey); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := tx.Set(makePipelineKey(p.Id), storage.MarshalPipeline(p)); err != nil {
			return err
		}
		if err := tx.Set(nameKey, storage.MarshalID(p.Id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPipeline retrieves a definition by id.
func (r *PipelineRepository) GetPipeline(ctx context.Context, id core.ID) (*core.Pipeline, error) {
	var result *core.Pipeline
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readPipeline(tx, makePipelineKey(id))
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

// GetPipelineByName retrieves a definition by name.
func (r *PipelineRepository) GetPipelineByName(ctx context.Context, name string) (*core.Pipeline, error) {
	return r.GetPipeline(ctx, core.IDFromContent(name))
}

// ListPipelines returns all definitions.
func (r *PipelineRepository) ListPipelines(ctx context.Context) ([]*core.Pipeline, error) {
	var results []*core.Pipeline
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		results, err = listPipelinesTx(tx)
		return err
	}, false)
	return results, err
}

// ListPipelinesBySource returns the definitions reading from a source relation.
func (r *PipelineRepository) ListPipelinesBySource(ctx context.Context, source string) ([]*core.Pipeline, error) {
	var results []*core.Pipeline
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		results, err = listPipelinesBySourceTx(tx, source)
		return err
	}, false)
	return results, err
}

// SetPaused flips the pause toggle of a definition.
func (r *PipelineRepository) SetPaused(ctx context.Context, id core.ID, paused bool) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makePipelineKey(id)
		p, err := readPipeline(tx, key)
		if err != nil {
			return err
		}
		if p == nil {
			return storage.ErrNotFound
		}

		p.Paused = paused
		p.UpdatedAt = time.Now().UTC()
		if err := tx.Set(key, storage.MarshalPipeline(p)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LastSuccess returns the time of the pipeline's most recent successful
// commit, or the zero time if it has never committed.
func (r *PipelineRepository) LastSuccess(ctx context.Context, id core.ID) (time.Time, error) {
	var result time.Time
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeLastRunKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			result, err = storage.UnmarshalTime(val)
			return err
		})
	}, false)
	return result, err
}

// Transaction-level helpers shared with change capture.

// readPipeline reads a pipeline from the transaction. Returns nil if absent.
func readPipeline(tx *badger.Txn, key []byte) (*core.Pipeline, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var result *core.Pipeline
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		result, unmarshalErr = storage.UnmarshalPipeline(val)
		return unmarshalErr
	})
	return result, err
}

// listPipelinesTx reads all pipeline definitions within a transaction.
func listPipelinesTx(tx *badger.Txn) ([]*core.Pipeline, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(pipelinePrefix + ":")
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var results []*core.Pipeline
	for iter.Rewind(); iter.Valid(); iter.Next() {
		var p *core.Pipeline
		err := iter.Item().Value(func(val []byte) error {
			var err error
			p, err = storage.UnmarshalPipeline(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, nil
}

// listPipelinesBySourceTx filters pipelines by source relation within a
// transaction. Pipeline counts are small, so a full scan is fine.
func listPipelinesBySourceTx(tx *badger.Txn, source string) ([]*core.Pipeline, error) {
	all, err := listPipelinesTx(tx)
	if err != nil {
		return nil, err
	}

	var results []*core.Pipeline
	for _, p := range all {
		if p.Source == source {
			results = append(results, p)
		}
	}
	return results, nil
}
