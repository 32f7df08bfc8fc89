// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


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

// SourceStore is a native source relation backed by the same BadgerDB as the
// queues and chunks, which is what makes change capture atomic: the row write
// and the queue transition commit in one transaction. It also implements
// storage.CaptureHook for writers that manage rows elsewhere.
type SourceStore struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.SourceStore = (*SourceStore)(nil)
var _ storage.CaptureHook = (*SourceStore)(nil)

// NewSourceStore creates a new SourceStore.
func NewSourceStore(backend *Backend) *SourceStore {
	return &SourceStore{
		backend: backend,
		logger:  slog.Default().With("component", "source-store"),
	}
}

// Close implements storage.Repository.
func (s *SourceStore) Close() error {
	return nil
}

// PutRow inserts or replaces a row and enqueues work for its key on every
// pipeline reading the source, all in one transaction.
func (s *SourceStore) PutRow(ctx context.Context, source string, row *core.SourceRow) error {
	if err := core.ValidateSourceRow(row); err != nil {
		return err
	}

	sourceHash := core.IDFromContent(source)
	return s.backend.WithTx(func(tx *badger.Txn) error {
		key := makeSourceRowKey(sourceHash, row.Key.Hash())
		if err := tx.Set(key, storage.MarshalSourceRow(row)); err != nil {
			return err
		}
		if err := captureUpsertTx(tx, source, row.Key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// DeleteRow removes a row together with its derived chunks and pending work
// on every pipeline reading the source. Deleting an absent row is a no-op.
func (s *SourceStore) DeleteRow(ctx context.Context, source string, key core.SourceKey) error {
	if len(key) == 0 {
		return core.ErrInvalidSourceKey
	}

	sourceHash := core.IDFromContent(source)
	return s.backend.WithTx(func(tx *badger.Txn) error {
		rowKey := makeSourceRowKey(sourceHash, key.Hash())
		if _, err := tx.Get(rowKey); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}

		if err := tx.Delete(rowKey); err != nil {
			return err
		}
		if err := captureDeleteTx(tx, source, key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetRow retrieves the current row state.
func (s *SourceStore) GetRow(ctx context.Context, source string, key core.SourceKey) (*core.SourceRow, error) {
	sourceHash := core.IDFromContent(source)

	var result *core.SourceRow
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeSourceRowKey(sourceHash, key.Hash()))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			result, err = storage.UnmarshalSourceRow(val)
			return err
		})
	}, false)
	return result, err
}

// TruncateSource removes all rows of the source and truncates the derived
// chunks and work queues of every pipeline reading it, atomically.
func (s *SourceStore) TruncateSource(ctx context.Context, source string) error {
	sourceHash := core.IDFromContent(source)
	return s.backend.WithTx(func(tx *badger.Txn) error {
		rowKeys, err := collectKeys(tx, makePartialSourceRowKey(sourceHash))
		if err != nil {
			return err
		}
		for _, key := range rowKeys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}

		if err := captureTruncateTx(tx, source); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ForEachRow iterates all rows of the source in key-hash order.
func (s *SourceStore) ForEachRow(ctx context.Context, source string, fn func(*core.SourceRow) error) error {
	sourceHash := core.IDFromContent(source)
	return s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialSourceRowKey(sourceHash)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var row *core.SourceRow
			err := iter.Item().Value(func(val []byte) error {
				var err error
				row, err = storage.UnmarshalSourceRow(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(row); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

// CaptureHook. These run the same transitions as the row operations above
// without touching row state, for writers whose rows live elsewhere.

// RowInserted enqueues work for a newly created key.
func (s *SourceStore) RowInserted(ctx context.Context, source string, key core.SourceKey) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := captureUpsertTx(tx, source, key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RowUpdated handles an update. A changed primary key is a delete of the old
// identity followed by an insert of the new one; otherwise the key is simply
// re-enqueued. Capture is unconditional: content may have changed even when
// only non-key columns did.
func (s *SourceStore) RowUpdated(ctx context.Context, source string, oldKey, newKey core.SourceKey) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if !oldKey.Equal(newKey) {
			if err := captureDeleteTx(tx, source, oldKey); err != nil {
				return err
			}
		}
		if err := captureUpsertTx(tx, source, newKey); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// RowDeleted removes the key's chunks and any pending work item.
func (s *SourceStore) RowDeleted(ctx context.Context, source string, key core.SourceKey) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := captureDeleteTx(tx, source, key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// SourceTruncated truncates the chunks and queue of every pipeline reading
// the source in one atomic step.
func (s *SourceStore) SourceTruncated(ctx context.Context, source string) error {
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := captureTruncateTx(tx, source); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Transaction-level capture transitions, fanned out to every pipeline that
// reads the source.

func captureUpsertTx(tx *badger.Txn, source string, key core.SourceKey) error {
	pipelines, err := listPipelinesBySourceTx(tx, source)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, p := range pipelines {
		if err := core.ValidateSourceKey(p, key); err != nil {
			return err
		}
		if _, err := enqueueTx(tx, p.Id, key, now); err != nil {
			return err
		}
	}
	return nil
}

func captureDeleteTx(tx *badger.Txn, source string, key core.SourceKey) error {
	pipelines, err := listPipelinesBySourceTx(tx, source)
	if err != nil {
		return err
	}

	keyHash := key.Hash()
	for _, p := range pipelines {
		if err := deleteChunksTx(tx, p.Id, keyHash); err != nil {
			return err
		}
		if err := removeWorkItemTx(tx, p.Id, keyHash); err != nil {
			return err
		}
	}
	return nil
}

func captureTruncateTx(tx *badger.Txn, source string) error {
	pipelines, err := listPipelinesBySourceTx(tx, source)
	if err != nil {
		return err
	}

	for _, p := range pipelines {
		if err := truncateQueueTx(tx, p.Id); err != nil {
			return err
		}
		if err := truncateChunksTx(tx, p.Id); err != nil {
			return err
		}
	}
	return nil
}
