package core

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing or database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// SourceKey holds the positional primary-key values of one source row.
// The values are ordered according to the owning pipeline's KeyColumns.
type SourceKey []string

// Hash returns the 64-bit identity of the key used in storage keys.
// The encoding is length-prefixed so ("ab","c") and ("a","bc") never collide.
func (k SourceKey) Hash() ID {
	h, _ := blake2b.New(8, nil)
	var lenBuf [8]byte
	for _, part := range k {
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(part)))
		h.Write(lenBuf[:])
		h.Write([]byte(part))
	}
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Equal reports whether two keys hold the same values in the same order.
func (k SourceKey) Equal(other SourceKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// String returns a human-readable "(a,b)" form for logs and diagnostics.
func (k SourceKey) String() string {
	return "(" + strings.Join(k, ",") + ")"
}

// Stage identifies the pipeline-runner state an item was in when it failed.
type Stage string

const (
	StageLoading      Stage = "Loading"
	StageTransforming Stage = "Transforming"
	StageEmbedding    Stage = "Embedding"
	StageCommitting   Stage = "Committing"
)

// ErrorClass categorizes a recorded failure.
type ErrorClass string

const (
	// ErrorClassTransient marks failures that were (or will be) retried.
	ErrorClassTransient ErrorClass = "transient"
	// ErrorClassPermanent marks failures escalated without retry.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Pipeline is the immutable definition of one source-to-embeddings mapping.
// Only the Paused toggle may change after creation.
type Pipeline struct {
	Id     ID
	Name   string
	Source string // Source relation identity the pipeline reads from

	// KeyColumns names the source primary-key columns, in order.
	// SourceKey values are positional per this list.
	KeyColumns []string

	EmbeddingModel      string
	EmbeddingDimensions int

	ChunkSize    int // Target chunk size in characters
	ChunkOverlap int // Character overlap between adjacent chunks

	BatchSize   int // Work items claimed per pass
	Concurrency int // Parallel embed-and-commit groups per claimed batch

	MaxAttempts   int           // Retry ceiling before dead-letter escalation
	RetryDelay    time.Duration // Base delay for exponential backoff
	MaxRetryDelay time.Duration // Backoff ceiling
	LeaseDuration time.Duration // Claim visibility timeout
	PollInterval  time.Duration // Worker sleep when the queue is empty

	Paused bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Default tuning applied by ApplyDefaults.
const (
	DefaultChunkSize     = 1000
	DefaultChunkOverlap  = 100
	DefaultBatchSize     = 32
	DefaultConcurrency   = 4
	DefaultMaxAttempts   = 5
	DefaultRetryDelay    = 1 * time.Second
	DefaultMaxRetryDelay = 5 * time.Minute
	DefaultLeaseDuration = 2 * time.Minute
	DefaultPollInterval  = 5 * time.Second
)

// ApplyDefaults fills zero-valued tuning fields with the package defaults.
// Identity fields (Name, Source, KeyColumns, EmbeddingModel) are not touched.
func (p *Pipeline) ApplyDefaults() {
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.ChunkOverlap <= 0 {
		p.ChunkOverlap = DefaultChunkOverlap
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.Concurrency <= 0 {
		p.Concurrency = DefaultConcurrency
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.MaxRetryDelay <= 0 {
		p.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if p.LeaseDuration <= 0 {
		p.LeaseDuration = DefaultLeaseDuration
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
}

// WorkItem is one pending unit of re-processing for one source key.
// There is at most one work item per (pipeline, key hash); re-enqueueing
// the same key while an item is pending is an idempotent merge.
type WorkItem struct {
	PipelineId ID
	Key        SourceKey
	EnqueuedAt time.Time
	Attempts   int
	RetryAfter time.Time // Zero until the first transient failure

	// Claim lease. An item whose ClaimExpiresAt has passed is eligible
	// for claiming again regardless of ClaimOwner.
	ClaimOwner     string
	ClaimExpiresAt time.Time
}

// Claimed reports whether the item holds a live claim at the given instant.
func (w *WorkItem) Claimed(now time.Time) bool {
	return w.ClaimOwner != "" && now.Before(w.ClaimExpiresAt)
}

// Eligible reports whether the item may be claimed at the given instant.
func (w *WorkItem) Eligible(now time.Time) bool {
	if w.Claimed(now) {
		return false
	}
	return !now.Before(w.RetryAfter)
}

// DeadLetterItem is the terminal record of a work item that exhausted its
// retries or failed permanently. Append-only; re-enqueueing is an explicit
// operator action.
type DeadLetterItem struct {
	PipelineId ID
	Key        SourceKey
	EnqueuedAt time.Time // Original enqueue time of the work item
	Attempts   int
	Stage      Stage // Pipeline stage at which the item last failed
	FailedAt   time.Time
}

// DerivedChunk is one stored (text, embedding) pair for a source row.
// The full chunk set for a key is always replaced atomically.
type DerivedChunk struct {
	PipelineId ID
	Key        SourceKey
	Seq        int
	Text       string
	Vector     []float32
	UpdatedAt  time.Time
}

// ErrorRecord is an observability record of one processing failure.
// Records are purely additive and consumed only for reporting.
type ErrorRecord struct {
	Id         ID
	PipelineId ID
	Key        SourceKey
	Stage      Stage
	Class      ErrorClass
	Message    string
	OccurredAt time.Time
}

// SourceRow is one row of a native source relation: the content to embed
// plus metadata made available to the chunk formatter.
type SourceRow struct {
	Key      SourceKey
	Content  string
	Metadata map[string]string
}
