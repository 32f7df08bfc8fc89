// Package status aggregates the observable state of pipelines for operators:
// queue depth, dead-letter count, last failure, last successful commit, and
// the pause flag. Counts are capped scans, cheap rather than exact. Partial
// repository failures degrade to partial output with a warning log; only a
// missing pipeline is a hard error.
package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/vectorsync/core"
	"github.com/poiesic/vectorsync/storage"
)

// CountCap bounds the pending and dead-letter scans. A report of CountCap
// means "at least this many".
const CountCap = 1000

// PipelineStatus is one pipeline's aggregated state.
type PipelineStatus struct {
	Pipeline *core.Pipeline

	// Pending is the queued item count, capped at CountCap.
	Pending int

	// DeadLetters is the dead-letter count, capped at CountCap.
	DeadLetters int

	// LastError is the most recent failure record, nil if none.
	LastError *core.ErrorRecord

	// LastSuccess is the most recent successful commit, zero if never.
	LastSuccess time.Time
}

// Healthy reports whether the pipeline has no parked failures.
func (s *PipelineStatus) Healthy() bool {
	return s.DeadLetters == 0
}

// Reporter builds PipelineStatus from the repositories.
type Reporter struct {
	queue     storage.QueueRepository
	dead      storage.DeadLetterRepository
	pipelines storage.PipelineRepository
	errors    storage.ErrorRepository
	logger    *slog.Logger
}

// NewReporter creates a Reporter over the given repositories.
func NewReporter(
	queue storage.QueueRepository,
	dead storage.DeadLetterRepository,
	pipelines storage.PipelineRepository,
	errorLog storage.ErrorRepository,
) *Reporter {
	return &Reporter{
		queue:     queue,
		dead:      dead,
		pipelines: pipelines,
		errors:    errorLog,
		logger:    slog.Default().With("component", "status"),
	}
}

// Report aggregates the status of one pipeline. Repository failures beyond
// the pipeline lookup itself degrade to missing fields.
func (r *Reporter) Report(ctx context.Context, pipelineId core.ID) (*PipelineStatus, error) {
	p, err := r.pipelines.GetPipeline(ctx, pipelineId)
	if err != nil {
		return nil, err
	}
	return r.report(ctx, p), nil
}

// ReportAll aggregates the status of every pipeline.
func (r *Reporter) ReportAll(ctx context.Context) ([]*PipelineStatus, error) {
	pipelines, err := r.pipelines.ListPipelines(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]*PipelineStatus, 0, len(pipelines))
	for _, p := range pipelines {
		statuses = append(statuses, r.report(ctx, p))
	}
	return statuses, nil
}

func (r *Reporter) report(ctx context.Context, p *core.Pipeline) *PipelineStatus {
	s := &PipelineStatus{Pipeline: p}

	pending, err := r.queue.PendingCount(ctx, p.Id, CountCap)
	if err != nil {
		r.logger.Warn("pending count unavailable", "pipeline", p.Name, "err", err)
	} else {
		s.Pending = pending
	}

	dead, err := r.dead.Count(ctx, p.Id, CountCap)
	if err != nil {
		r.logger.Warn("dead-letter count unavailable", "pipeline", p.Name, "err", err)
	} else {
		s.DeadLetters = dead
	}

	recent, err := r.errors.RecentErrors(ctx, p.Id, 1)
	if err != nil {
		r.logger.Warn("error log unavailable", "pipeline", p.Name, "err", err)
	} else if len(recent) > 0 {
		s.LastError = recent[0]
	}

	last, err := r.pipelines.LastSuccess(ctx, p.Id)
	if err != nil {
		r.logger.Warn("last success unavailable", "pipeline", p.Name, "err", err)
	} else {
		s.LastSuccess = last
	}

	return s
}
