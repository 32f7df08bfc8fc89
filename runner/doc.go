// Package runner drives claimed work items through the processing stages:
// load the current row, transform it into chunk texts, embed the texts, and
// commit the chunk set.
//
// The runner owns failure policy. Every failure is recorded to the error log
// and then settled: transient failures go back to the queue with exponential
// backoff until the pipeline's attempt ceiling, permanent failures and
// exhausted items escalate to the dead-letter store. A row that disappeared
// between enqueue and processing is acked as a no-op, since the delete
// capture already cleaned up its derived state.
//
// Embedding calls are coalesced: one batch of items produces a single
// provider call covering all their chunk texts.
package runner
