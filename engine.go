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


package vectorsync

import (
	"context"
	"log/slog"

	"github.com/poiesic/vectorsync/ai"
	"github.com/poiesic/vectorsync/ai/openai"
	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/runner"
	"github.com/poiesic/vectorsync/status"
	"github.com/poiesic/vectorsync/storage"
	"github.com/poiesic/vectorsync/storage/badger"
	"github.com/poiesic/vectorsync/transform"
	"github.com/poiesic/vectorsync/worker"
)

// EmbedderFactory builds the embedder for one pipeline. The default factory
// creates an OpenAI-compatible embedder from the engine's ai.Config with the
// pipeline's model and dimensions applied.
type EmbedderFactory func(p *core.Pipeline) (ai.Embedder, error)

// Engine is the facade over storage, change capture, processing, and
// operational commands for one vectorsync database.
type Engine struct {
	stores   *badger.Stores
	aiConfig *ai.Config
	factory  EmbedderFactory
	chain    *transform.Chain
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	aiConfig *ai.Config
	factory  EmbedderFactory
	chain    *transform.Chain
	inMemory bool
}

// WithAIConfig sets the embedding provider configuration.
func WithAIConfig(cfg *ai.Config) EngineOption {
	return func(o *engineOptions) {
		o.aiConfig = cfg
	}
}

// WithEmbedderFactory overrides how per-pipeline embedders are built.
// Used by tests to inject mocks.
func WithEmbedderFactory(factory EmbedderFactory) EngineOption {
	return func(o *engineOptions) {
		o.factory = factory
	}
}

// WithTransformChain overrides the default parse/chunk/format chain.
func WithTransformChain(chain *transform.Chain) EngineOption {
	return func(o *engineOptions) {
		o.chain = chain
	}
}

// WithInMemory opens the backing store in memory. Nothing survives Close.
func WithInMemory() EngineOption {
	return func(o *engineOptions) {
		o.inMemory = true
	}
}

// Open opens or creates a vectorsync database at filePath.
func Open(filePath string, opts ...EngineOption) (*Engine, error) {
	options := &engineOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	stores, err := badger.NewStores(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		stores:   stores,
		aiConfig: options.aiConfig,
		factory:  options.factory,
		chain:    options.chain,
		logger:   slog.Default().With("component", "engine"),
	}
	if e.factory == nil {
		e.factory = e.defaultFactory
	}
	return e, nil
}

// defaultFactory builds an OpenAI-compatible embedder with the pipeline's
// model and expected dimensions layered over the engine config.
func (e *Engine) defaultFactory(p *core.Pipeline) (ai.Embedder, error) {
	cfg := *e.aiConfig
	if p.EmbeddingModel != "" {
		cfg.EmbeddingModel = p.EmbeddingModel
	}
	cfg.Dimensions = p.EmbeddingDimensions
	return openai.NewEmbedder(&cfg)
}

// Close closes all repositories and the backing store.
func (e *Engine) Close() error {
	return e.stores.Close()
}

// Repository accessors.

func (e *Engine) Queue() storage.QueueRepository { return e.stores.Queue }

func (e *Engine) DeadLetters() storage.DeadLetterRepository { return e.stores.DeadLetters }

func (e *Engine) Chunks() storage.ChunkRepository { return e.stores.Chunks }

func (e *Engine) Pipelines() storage.PipelineRepository { return e.stores.Pipelines }

func (e *Engine) Errors() storage.ErrorRepository { return e.stores.Errors }

func (e *Engine) Source() storage.SourceStore { return e.stores.Source }

// Capture exposes the change-capture hook for writers that keep their rows
// outside the native source store.
func (e *Engine) Capture() storage.CaptureHook {
	return e.stores.Source
}

// CreatePipeline validates and registers a pipeline definition.
func (e *Engine) CreatePipeline(ctx context.Context, p *core.Pipeline) (*core.Pipeline, error) {
	return e.stores.Pipelines.CreatePipeline(ctx, p)
}

// NewWorker builds a worker for the named pipeline: embedder from the
// factory, runner over the native source store, pool sized to the pipeline's
// concurrency.
func (e *Engine) NewWorker(ctx context.Context, pipelineName string, opts ...worker.Option) (*worker.Worker, error) {
	p, err := e.stores.Pipelines.GetPipelineByName(ctx, pipelineName)
	if err != nil {
		return nil, err
	}

	embedder, err := e.factory(p)
	if err != nil {
		return nil, err
	}

	r := runner.New(p, runner.Deps{
		Queue:    e.stores.Queue,
		Chunks:   e.stores.Chunks,
		Errors:   e.stores.Errors,
		Source:   e.stores.Source,
		Chain:    e.chain,
		Embedder: embedder,
	})
	return worker.New(p, e.stores.Queue, e.stores.Pipelines, r, opts...)
}

// NewReporter builds a status reporter over the engine's repositories.
func (e *Engine) NewReporter() *status.Reporter {
	return status.NewReporter(e.stores.Queue, e.stores.DeadLetters, e.stores.Pipelines, e.stores.Errors)
}

// Operational commands.

// Pause stops workers from claiming the pipeline's items. Pending work stays
// queued.
func (e *Engine) Pause(ctx context.Context, pipelineName string) error {
	return e.setPaused(ctx, pipelineName, true)
}

// Resume re-enables claiming for the pipeline.
func (e *Engine) Resume(ctx context.Context, pipelineName string) error {
	return e.setPaused(ctx, pipelineName, false)
}

func (e *Engine) setPaused(ctx context.Context, pipelineName string, paused bool) error {
	p, err := e.stores.Pipelines.GetPipelineByName(ctx, pipelineName)
	if err != nil {
		return err
	}
	return e.stores.Pipelines.SetPaused(ctx, p.Id, paused)
}

// Rebuild enqueues every row of the pipeline's source, forcing the whole
// derived state to be recomputed. Rows already pending merge idempotently.
// Returns the number of rows enqueued.
func (e *Engine) Rebuild(ctx context.Context, pipelineName string) (int, error) {
	p, err := e.stores.Pipelines.GetPipelineByName(ctx, pipelineName)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	err = e.stores.Source.ForEachRow(ctx, p.Source, func(row *core.SourceRow) error {
		if _, err := e.stores.Queue.Enqueue(ctx, p.Id, row.Key); err != nil {
			return err
		}
		enqueued++
		return nil
	})
	if err != nil {
		return enqueued, err
	}

	e.logger.Info("rebuild enqueued", "pipeline", pipelineName, "rows", enqueued)
	return enqueued, nil
}

// Search embeds the query with the pipeline's provider and returns the most
// similar committed chunks. Meant for spot-checking what a pipeline has
// derived, not as a serving path.
func (e *Engine) Search(ctx context.Context, pipelineName, query string, minSimilarity float32, limit int) ([]*storage.ChunkMatch, error) {
	p, err := e.stores.Pipelines.GetPipelineByName(ctx, pipelineName)
	if err != nil {
		return nil, err
	}

	embedder, err := e.factory(p)
	if err != nil {
		return nil, err
	}
	vector, err := embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	return e.stores.Chunks.FindSimilar(ctx, p.Id, vector, minSimilarity, limit)
}

// RequeueDeadLetter moves one dead-lettered key back to the queue.
func (e *Engine) RequeueDeadLetter(ctx context.Context, pipelineName string, key core.SourceKey) error {
	p, err := e.stores.Pipelines.GetPipelineByName(ctx, pipelineName)
	if err != nil {
		return err
	}
	return e.stores.DeadLetters.Requeue(ctx, p.Id, key)
}

// RequeueAllDeadLetters moves every dead-lettered item of the pipeline back
// to the queue. Returns the number of items moved.
func (e *Engine) RequeueAllDeadLetters(ctx context.Context, pipelineName string) (int, error) {
	p, err := e.stores.Pipelines.GetPipelineByName(ctx, pipelineName)
	if err != nil {
		return 0, err
	}
	return e.stores.DeadLetters.RequeueAll(ctx, p.Id)
}
