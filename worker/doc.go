// Package worker runs the claim-process loop for one pipeline.
//
// A worker repeatedly claims a batch from the queue, splits it into
// concurrency groups, and processes the groups in parallel on a goroutine
// pool. It backs off to the pipeline's poll interval when the queue is idle
// and skips passes while the pipeline is paused. Multiple workers may serve
// the same pipeline concurrently; the queue's claim leases keep their batches
// disjoint.
package worker
