package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/vectorsync/ai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
// Failures are classified transient or permanent before they leave this
// package, so callers only ever see the ai error taxonomy.
type Embedder struct {
	embedder   embeddings.Embedder
	dimensions int
	timeout    timeoutFunc
	logger     *slog.Logger
}

type timeoutFunc func(ctx context.Context) (context.Context, context.CancelFunc)

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.Token()),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, ai.Permanent(err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, ai.Permanent(err)
	}

	requestTimeout := config.RequestTimeout
	return &Embedder{
		embedder:   embedder,
		dimensions: config.Dimensions,
		timeout: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return context.WithTimeout(ctx, requestTimeout)
		},
		logger: slog.Default().With("component", "openai-embedder"),
	}, nil
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in one
// provider call.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.logger.Debug("generating embeddings", "count", len(texts))

	callCtx, cancel := e.timeout(ctx)
	defer cancel()

	vectors, err := e.embedder.EmbedDocuments(callCtx, texts)
	if err != nil {
		e.logger.Error("embedding call failed", "count", len(texts), "err", err)
		return nil, classify(err)
	}

	if len(vectors) != len(texts) {
		e.logger.Error("provider returned wrong vector count",
			"want", len(texts), "got", len(vectors))
		return nil, fmt.Errorf("%w: want %d, got %d", ai.ErrVectorCount, len(texts), len(vectors))
	}

	if e.dimensions > 0 {
		for i, vec := range vectors {
			if len(vec) != e.dimensions {
				return nil, ai.Permanent(fmt.Errorf(
					"embedding %d has %d dimensions, pipeline declares %d",
					i, len(vec), e.dimensions))
			}
		}
	}

	return vectors, nil
}

// classify maps a provider error onto the ai taxonomy. Client-side request
// problems and authentication failures are permanent; everything else
// (timeouts, rate limits, server errors) is worth retrying.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ai.Transient(err)
	}

	msg := err.Error()
	for _, code := range []string{"400", "401", "403", "404", "422"} {
		if strings.Contains(msg, "status code: "+code) {
			return ai.Permanent(err)
		}
	}
	return ai.Transient(err)
}
