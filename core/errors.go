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

import "errors"

// Domain validation errors
var (
	// ErrInvalidPipeline indicates a Pipeline definition failed validation.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrInvalidSourceKey indicates a SourceKey failed validation.
	ErrInvalidSourceKey = errors.New("invalid source key")

	// ErrInvalidSourceRow indicates a SourceRow failed validation.
	ErrInvalidSourceRow = errors.New("invalid source row")

	// ErrEmptyPipelineName indicates the pipeline Name field is empty.
	ErrEmptyPipelineName = errors.New("pipeline name cannot be empty")

	// ErrEmptySource indicates the pipeline Source field is empty.
	ErrEmptySource = errors.New("pipeline source cannot be empty")

	// ErrEmptyKeyColumns indicates the pipeline declares no key columns.
	ErrEmptyKeyColumns = errors.New("pipeline must declare at least one key column")

	// ErrEmptyEmbeddingModel indicates the EmbeddingModel field is empty.
	ErrEmptyEmbeddingModel = errors.New("embedding model cannot be empty")

	// ErrKeyArity indicates a SourceKey has a different number of values
	// than the pipeline's KeyColumns.
	ErrKeyArity = errors.New("source key arity does not match pipeline key columns")
)
