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


package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/vectorsync/ai"
	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/storage"
	"github.com/poiesic/vectorsync/transform"
)

// ContentSource loads the current row state at processing time. The runner
// always embeds what the source holds now, not what it held at enqueue time.
// Implementations return storage.ErrNotFound for rows that no longer exist.
type ContentSource interface {
	GetRow(ctx context.Context, source string, key core.SourceKey) (*core.SourceRow, error)
}

// Deps bundles the collaborators a Runner needs.
type Deps struct {
	Queue    storage.QueueRepository
	Chunks   storage.ChunkRepository
	Errors   storage.ErrorRepository
	Source   ContentSource
	Chain    *transform.Chain
	Embedder ai.Embedder
}

// Runner processes claimed work items for one pipeline.
type Runner struct {
	pipeline *core.Pipeline
	deps     Deps
	logger   *slog.Logger
}

// New creates a Runner for the pipeline. A nil Chain gets the default
// transform chain.
func New(pipeline *core.Pipeline, deps Deps) *Runner {
	if deps.Chain == nil {
		deps.Chain = transform.NewDefaultChain()
	}
	return &Runner{
		pipeline: pipeline,
		deps:     deps,
		logger: slog.Default().With(
			"component", "runner",
			"pipeline", pipeline.Name,
		),
	}
}

// workUnit is one item that survived loading and transforming, with its
// texts' position in the coalesced embedding call.
type workUnit struct {
	item  *core.WorkItem
	texts []string
	start int
}

// ProcessBatch runs a batch of claimed items through load, transform, a
// single coalesced embedding call, and per-item commits. Failures never abort
// the batch: each item settles individually through retry, escalation, or
// ack. The returned error reports only infrastructure problems with the queue
// itself.
func (r *Runner) ProcessBatch(ctx context.Context, items []*core.WorkItem) error {
	units := make([]*workUnit, 0, len(items))
	total := 0

	for _, item := range items {
		texts, ok, err := r.prepare(ctx, item)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		units = append(units, &workUnit{item: item, texts: texts, start: total})
		total += len(texts)
	}
	if len(units) == 0 {
		return nil
	}

	vectors, embedErr := r.embed(ctx, units, total)
	if embedErr != nil {
		// The whole provider call failed; every unit settles individually
		for _, unit := range units {
			if err := r.settleFailure(ctx, unit.item, core.StageEmbedding, embedErr); err != nil {
				return err
			}
		}
		return nil
	}

	for _, unit := range units {
		if err := r.commit(ctx, unit, vectors); err != nil {
			return err
		}
	}
	return nil
}

// prepare loads and transforms one item. Returns ok=false when the item was
// settled (row gone, load failure, transform failure) and should not proceed
// to embedding.
func (r *Runner) prepare(ctx context.Context, item *core.WorkItem) ([]string, bool, error) {
	row, err := r.deps.Source.GetRow(ctx, r.pipeline.Source, item.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted after enqueue; the delete capture cleaned up
			r.logger.Debug("row gone, acking", "key", item.Key.String())
			return nil, false, r.deps.Queue.Ack(ctx, item)
		}
		return nil, false, r.settleFailure(ctx, item, core.StageLoading, err)
	}

	texts, err := r.deps.Chain.Derive(row, r.pipeline)
	if err != nil {
		// A row the chain cannot parse will not parse next time either
		return nil, false, r.settleFailure(ctx, item, core.StageTransforming, ai.Permanent(err))
	}
	return texts, true, nil
}

// embed makes the coalesced provider call for all units. Units with zero
// texts are fine: they take no slots and commit empty chunk sets.
func (r *Runner) embed(ctx context.Context, units []*workUnit, total int) ([][]float32, error) {
	if total == 0 {
		return nil, nil
	}

	texts := make([]string, 0, total)
	for _, unit := range units {
		texts = append(texts, unit.texts...)
	}

	vectors, err := r.deps.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: want %d, got %d", ai.ErrVectorCount, len(texts), len(vectors))
	}
	return vectors, nil
}

// commit builds the chunk set of one unit and commits it atomically.
func (r *Runner) commit(ctx context.Context, unit *workUnit, vectors [][]float32) error {
	chunks := make([]*core.DerivedChunk, len(unit.texts))
	for i, text := range unit.texts {
		chunks[i] = &core.DerivedChunk{
			Text:   text,
			Vector: vectors[unit.start+i],
		}
	}

	if err := r.deps.Chunks.Commit(ctx, unit.item, chunks); err != nil {
		return r.settleFailure(ctx, unit.item, core.StageCommitting, err)
	}

	r.logger.Debug("committed", "key", unit.item.Key.String(), "chunks", len(chunks))
	return nil
}

// settleFailure records the failure and transitions the item: permanent
// errors escalate immediately, transient ones retry with backoff until the
// attempt ceiling. The returned error reports only queue infrastructure
// failures, never the processing failure itself.
func (r *Runner) settleFailure(ctx context.Context, item *core.WorkItem, stage core.Stage, cause error) error {
	class := core.ErrorClassTransient
	if ai.IsPermanent(cause) {
		class = core.ErrorClassPermanent
	}

	_, err := r.deps.Errors.RecordError(ctx, &core.ErrorRecord{
		PipelineId: item.PipelineId,
		Key:        item.Key,
		Stage:      stage,
		Class:      class,
		Message:    cause.Error(),
	})
	if err != nil {
		// The error log is observability, not correctness; the queue
		// transition still has to happen
		r.logger.Warn("failed to record error", "key", item.Key.String(), "err", err)
	}

	if class == core.ErrorClassPermanent {
		r.logger.Warn("permanent failure, escalating",
			"key", item.Key.String(), "stage", stage, "err", cause)
		return r.deps.Queue.Escalate(ctx, item, stage)
	}

	if item.Attempts+1 >= r.pipeline.MaxAttempts {
		item.Attempts++
		r.logger.Warn("attempt ceiling reached, escalating",
			"key", item.Key.String(), "stage", stage, "attempts", item.Attempts, "err", cause)
		return r.deps.Queue.Escalate(ctx, item, stage)
	}

	delay := BackoffDelay(r.pipeline, item.Attempts)
	r.logger.Debug("transient failure, retrying",
		"key", item.Key.String(), "stage", stage, "attempt", item.Attempts+1, "delay", delay, "err", cause)
	return r.deps.Queue.Retry(ctx, item, delay)
}

// BackoffDelay computes the retry delay for an item that has already failed
// attempts times: RetryDelay * 2^attempts, capped at MaxRetryDelay.
func BackoffDelay(p *core.Pipeline, attempts int) time.Duration {
	delay := p.RetryDelay
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxRetryDelay {
			return p.MaxRetryDelay
		}
	}
	if p.MaxRetryDelay > 0 && delay > p.MaxRetryDelay {
		return p.MaxRetryDelay
	}
	return delay
}
