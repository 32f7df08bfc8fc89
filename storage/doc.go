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


// Package storage provides the storage abstraction layer for vectorsync.
//
// This package defines repository interfaces that decouple storage implementation
// from the processing engine. It allows for different storage backends (BadgerDB,
// in-memory, etc.) to be used interchangeably.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - QueueRepository: durable work queue with lease-based claiming
//   - DeadLetterRepository: terminal store for items that exhausted retries
//   - ChunkRepository: derived chunks with atomic replace-and-ack commit
//   - PipelineRepository: pipeline definitions and operational toggles
//   - ErrorRepository: append-only failure log
//   - SourceStore: native source relations with in-transaction change capture
//   - CaptureHook: the change-capture contract consumed by source writers
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return these interfaces to enforce
// abstraction and enable multiple storage backend implementations:
//
//	queue, err := badger.NewQueueRepository(backend)  // returns storage.QueueRepository
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support concurrent
// access from multiple goroutines and multiple worker processes. Claim
// exclusivity at work-item granularity is a correctness requirement, not an
// optimization.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation and timeout
// support. Pass context.Background() for operations without specific timeout
// requirements.
package storage
