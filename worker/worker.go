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


package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/runner"
	"github.com/poiesic/vectorsync/storage"
)

var (
	ErrQueueRequired     = errors.New("worker: queue repository is required")
	ErrPipelinesRequired = errors.New("worker: pipeline repository is required")
	ErrRunnerRequired    = errors.New("worker: runner is required")
)

// Worker drives one pipeline's queue.
type Worker struct {
	pipeline  *core.Pipeline
	queue     storage.QueueRepository
	pipelines storage.PipelineRepository
	runner    *runner.Runner
	pool      *ants.Pool
	owner     string
	logger    *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithOwner overrides the generated claim-owner identity. Useful in tests
// and when an operator wants recognizable lease owners.
func WithOwner(owner string) Option {
	return func(w *Worker) {
		w.owner = owner
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Worker for the pipeline. The goroutine pool is sized to the
// pipeline's Concurrency.
func New(pipeline *core.Pipeline, queue storage.QueueRepository, pipelines storage.PipelineRepository, r *runner.Runner, opts ...Option) (*Worker, error) {
	if queue == nil {
		return nil, ErrQueueRequired
	}
	if pipelines == nil {
		return nil, ErrPipelinesRequired
	}
	if r == nil {
		return nil, ErrRunnerRequired
	}

	size := pipeline.Concurrency
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		pipeline:  pipeline,
		queue:     queue,
		pipelines: pipelines,
		runner:    r,
		pool:      pool,
		owner:     uuid.NewString(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "worker", "pipeline", pipeline.Name, "owner", w.owner)
	return w, nil
}

// Owner returns the claim-owner identity this worker leases items under.
func (w *Worker) Owner() string {
	return w.owner
}

// Run processes the queue until ctx is cancelled. When the queue is empty or
// the pipeline is paused, it sleeps for the pipeline's poll interval before
// the next pass.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker starting")
	for {
		processed, err := w.pass(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// Storage-level trouble; log and back off rather than exit,
			// the queue is durable and the next pass may succeed
			w.logger.Error("pass failed", "err", err)
			processed = 0
		}

		if processed > 0 {
			continue
		}

		timer := time.NewTimer(w.pipeline.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("worker stopping")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce drains the queue: it keeps processing until a pass claims nothing,
// then returns. Items sitting in retry backoff are left for a later run.
func (w *Worker) RunOnce(ctx context.Context) error {
	for {
		processed, err := w.pass(ctx)
		if err != nil {
			return err
		}
		if processed == 0 {
			return nil
		}
	}
}

// pass claims one batch and processes it in concurrency groups, each group a
// single coalesced embedding call. Returns the number of items claimed.
func (w *Worker) pass(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	current, err := w.pipelines.GetPipeline(ctx, w.pipeline.Id)
	if err != nil {
		return 0, err
	}
	if current.Paused {
		w.logger.Debug("pipeline paused, skipping pass")
		return 0, nil
	}

	items, err := w.queue.Claim(ctx, w.pipeline.Id, w.pipeline.BatchSize, w.owner, w.pipeline.LeaseDuration)
	if err != nil {
		if errors.Is(err, storage.ErrClaimContention) {
			// Another worker is winning the races; try again next pass
			return 0, nil
		}
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	w.logger.Debug("claimed batch", "items", len(items))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, group := range splitGroups(items, w.pipeline.Concurrency) {
		group := group
		wg.Add(1)
		err := w.pool.Submit(func() {
			defer wg.Done()
			if err := w.runner.ProcessBatch(ctx, group); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	return len(items), firstErr
}

// Release frees the goroutine pool. The worker must not be used afterwards.
func (w *Worker) Release() {
	w.pool.Release()
}

// splitGroups partitions items into at most n contiguous groups of similar
// size.
func splitGroups(items []*core.WorkItem, n int) [][]*core.WorkItem {
	if n < 1 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}

	groups := make([][]*core.WorkItem, 0, n)
	size := (len(items) + n - 1) / n
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		groups = append(groups, items[start:end])
	}
	return groups
}
