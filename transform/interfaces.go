package transform

import (
	"github.com/poiesic/vectorsync/core"
)

// Parser normalizes raw row content into plain text.
type Parser interface {
	// Parse returns the text to chunk. Empty output means the row derives
	// zero chunks.
	Parse(content string) (string, error)
}

// Chunker splits parsed text into pieces.
type Chunker interface {
	// Chunk splits text into pieces of roughly size characters with the
	// given overlap between neighbors. Never returns empty pieces.
	Chunk(text string, size, overlap int) []string
}

// Formatter produces the final text of one chunk, with access to the row it
// came from.
type Formatter interface {
	Format(chunk string, row *core.SourceRow) string
}

// Chain is the parse → chunk → format composition applied to every row.
type Chain struct {
	Parser    Parser
	Chunker   Chunker
	Formatter Formatter
}

// NewDefaultChain returns the chain used when a pipeline doesn't configure
// its own strategies: plain-text parser, sentence-aware splitter, metadata
// formatter.
func NewDefaultChain() *Chain {
	return &Chain{
		Parser:    &PlainParser{},
		Chunker:   &TextSplitter{},
		Formatter: &MetadataFormatter{},
	}
}

// Derive runs the full chain over a row and returns the texts to embed.
// An empty or whitespace-only row derives zero chunks, which is valid.
func (c *Chain) Derive(row *core.SourceRow, p *core.Pipeline) ([]string, error) {
	text, err := c.Parser.Parse(row.Content)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	pieces := c.Chunker.Chunk(text, p.ChunkSize, p.ChunkOverlap)
	texts := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		texts = append(texts, c.Formatter.Format(piece, row))
	}
	return texts, nil
}
