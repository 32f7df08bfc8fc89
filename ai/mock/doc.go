// Package mock provides a deterministic ai.Embedder test double with
// failure-injection hooks for retry and escalation tests.
package mock
