package badger

import (
	"github.com/poiesic/vectorsync/storage"
)

// Stores bundles every repository of one backend. Mostly a convenience for
// tests and for the engine wiring.
type Stores struct {
	Backend     *Backend
	Queue       *QueueRepository
	DeadLetters *DeadLetterRepository
	Chunks      *ChunkRepository
	Pipelines   *PipelineRepository
	Errors      *ErrorRepository
	Source      *SourceStore
}

// NewStores opens a backend at filePath and wires all repositories onto it.
func NewStores(filePath string, inMemory bool) (*Stores, error) {
	backend, err := OpenBackend(filePath, inMemory)
	if err != nil {
		return nil, err
	}

	errRepo, err := NewErrorRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &Stores{
		Backend:     backend,
		Queue:       NewQueueRepository(backend),
		DeadLetters: NewDeadLetterRepository(backend),
		Chunks:      NewChunkRepository(backend),
		Pipelines:   NewPipelineRepository(backend),
		Errors:      errRepo,
		Source:      NewSourceStore(backend),
	}, nil
}

// NewMemoryStores opens an in-memory backend for tests.
func NewMemoryStores() (*Stores, error) {
	return NewStores("", true)
}

// Close releases every repository and the backend itself.
func (s *Stores) Close() error {
	var firstErr error
	for _, repo := range []storage.Repository{
		s.Queue, s.DeadLetters, s.Chunks, s.Pipelines, s.Errors, s.Source,
	} {
		if err := repo.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.Backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
