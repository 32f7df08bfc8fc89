// Package ai defines the embedding provider abstraction and its error
// taxonomy.
//
// The engine never talks to a provider directly; it depends on the Embedder
// interface and on the transient/permanent classification of the errors a
// provider returns. Transient errors (timeouts, rate limits, connection
// failures) are retried with backoff; permanent errors (bad credentials,
// malformed requests, dimension mismatches) escalate immediately because no
// number of retries will fix them.
//
// Concrete providers live in subpackages: ai/openai wraps any
// OpenAI-compatible embedding API, ai/mock is the deterministic test double.
package ai
