package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDFromContent_Deterministic(t *testing.T) {
	id1 := IDFromContent("articles")
	id2 := IDFromContent("articles")
	id3 := IDFromContent("documents")

	assert.Equal(t, id1, id2, "same content must produce same ID")
	assert.NotEqual(t, id1, id3, "different content should produce different IDs")
	assert.NotZero(t, id1)
}

func TestSourceKey_Hash(t *testing.T) {
	k1 := SourceKey{"42"}
	k2 := SourceKey{"42"}
	assert.Equal(t, k1.Hash(), k2.Hash())

	// Length prefixing: the concatenated bytes are identical, the keys are not.
	a := SourceKey{"ab", "c"}
	b := SourceKey{"a", "bc"}
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestSourceKey_Equal(t *testing.T) {
	assert.True(t, SourceKey{"a", "b"}.Equal(SourceKey{"a", "b"}))
	assert.False(t, SourceKey{"a", "b"}.Equal(SourceKey{"a"}))
	assert.False(t, SourceKey{"a", "b"}.Equal(SourceKey{"b", "a"}))
}

func TestSourceKey_String(t *testing.T) {
	assert.Equal(t, "(42,en)", SourceKey{"42", "en"}.String())
	assert.Equal(t, "(42)", SourceKey{"42"}.String())
}

func TestWorkItem_Eligibility(t *testing.T) {
	now := time.Now().UTC()

	item := &WorkItem{Key: SourceKey{"1"}, EnqueuedAt: now}
	assert.True(t, item.Eligible(now), "fresh item is eligible")
	assert.False(t, item.Claimed(now))

	item.ClaimOwner = "worker-1"
	item.ClaimExpiresAt = now.Add(time.Minute)
	assert.True(t, item.Claimed(now))
	assert.False(t, item.Eligible(now), "live claim blocks eligibility")

	// Expired lease makes the item claimable again.
	later := now.Add(2 * time.Minute)
	assert.False(t, item.Claimed(later))
	assert.True(t, item.Eligible(later))
}

func TestWorkItem_RetryAfterBlocksEligibility(t *testing.T) {
	now := time.Now().UTC()
	item := &WorkItem{
		Key:        SourceKey{"1"},
		EnqueuedAt: now,
		Attempts:   1,
		RetryAfter: now.Add(30 * time.Second),
	}

	assert.False(t, item.Eligible(now))
	assert.True(t, item.Eligible(now.Add(30*time.Second)))
}

func TestPipeline_ApplyDefaults(t *testing.T) {
	p := &Pipeline{
		Name:           "articles",
		Source:         "articles",
		KeyColumns:     []string{"id"},
		EmbeddingModel: "embeddinggemma",
	}
	p.ApplyDefaults()

	assert.Equal(t, DefaultChunkSize, p.ChunkSize)
	assert.Equal(t, DefaultBatchSize, p.BatchSize)
	assert.Equal(t, DefaultConcurrency, p.Concurrency)
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	assert.Equal(t, DefaultRetryDelay, p.RetryDelay)
	assert.Equal(t, DefaultLeaseDuration, p.LeaseDuration)
	assert.Equal(t, DefaultPollInterval, p.PollInterval)
}

func TestPipeline_ApplyDefaults_KeepsExplicitValues(t *testing.T) {
	p := &Pipeline{
		Name:           "articles",
		Source:         "articles",
		KeyColumns:     []string{"id"},
		EmbeddingModel: "embeddinggemma",
		BatchSize:      7,
		MaxAttempts:    3,
		RetryDelay:     50 * time.Millisecond,
	}
	p.ApplyDefaults()

	require.Equal(t, 7, p.BatchSize)
	require.Equal(t, 3, p.MaxAttempts)
	require.Equal(t, 50*time.Millisecond, p.RetryDelay)
}
