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


package core

import "fmt"

// ValidatePipeline validates a Pipeline definition according to domain rules.
//
// Validation rules:
//   - Name, Source and EmbeddingModel must not be empty
//   - KeyColumns must declare at least one column
//   - ChunkOverlap must be smaller than ChunkSize
//
// NOT validated (filled by ApplyDefaults):
//   - Tuning fields left at zero (BatchSize, Concurrency, MaxAttempts, ...)
//   - Id (derived from Name at creation time)
func ValidatePipeline(p *Pipeline) error {
	if p == nil {
		return fmt.Errorf("%w: pipeline is nil", ErrInvalidPipeline)
	}

	if p.Name == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPipeline, ErrEmptyPipelineName)
	}

	if p.Source == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPipeline, ErrEmptySource)
	}

	if len(p.KeyColumns) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidPipeline, ErrEmptyKeyColumns)
	}

	for i, col := range p.KeyColumns {
		if col == "" {
			return fmt.Errorf("%w: key column %d is empty", ErrInvalidPipeline, i)
		}
	}

	if p.EmbeddingModel == "" {
		return fmt.Errorf("%w: %w", ErrInvalidPipeline, ErrEmptyEmbeddingModel)
	}

	if p.ChunkSize > 0 && p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d",
			ErrInvalidPipeline, p.ChunkOverlap, p.ChunkSize)
	}

	return nil
}

// ValidateSourceKey validates that a key carries the arity a pipeline expects.
// An empty value inside the key is valid; a zero-length key is not.
func ValidateSourceKey(p *Pipeline, key SourceKey) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key is empty", ErrInvalidSourceKey)
	}
	if p != nil && len(key) != len(p.KeyColumns) {
		return fmt.Errorf("%w: got %d values, pipeline %q declares %d columns",
			ErrKeyArity, len(key), p.Name, len(p.KeyColumns))
	}
	return nil
}

// ValidateSourceRow validates a SourceRow before it is written to a native
// source relation. Content may be empty: an empty row simply produces zero
// derived chunks.
func ValidateSourceRow(row *SourceRow) error {
	if row == nil {
		return fmt.Errorf("%w: row is nil", ErrInvalidSourceRow)
	}
	if len(row.Key) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSourceRow, ErrInvalidSourceKey)
	}
	return nil
}
