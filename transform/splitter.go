package transform

import (
	"strings"
	"unicode"
)

// TextSplitter splits text into chunks of roughly the requested size,
// preferring paragraph and sentence boundaries over hard cuts. Adjacent
// chunks share an overlap taken from the tail of the previous chunk, aligned
// to a word boundary.
type TextSplitter struct{}

var _ Chunker = (*TextSplitter)(nil)

func (s *TextSplitter) Chunk(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	chunks := splitToSize(text, size)
	return applyOverlap(chunks, overlap)
}

// splitToSize accumulates paragraphs up to the size limit, breaking oversized
// paragraphs at sentence boundaries and oversized sentences at word
// boundaries.
func splitToSize(text string, size int) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if piece := strings.TrimSpace(current.String()); piece != "" {
			chunks = append(chunks, piece)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(para)+2 > size {
			flush()
		}

		if len(para) > size {
			flush()
			for _, piece := range splitSentencesToSize(para, size) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return chunks
}

func splitSentencesToSize(text string, size int) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len() > 0 && current.Len()+len(sentence)+1 > size {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}

		if len(sentence) > size {
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, splitWordsToSize(sentence, size)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// splitSentences splits text at ". ! ?" followed by whitespace. A terminator
// preceded by an upper-case letter is treated as an abbreviation.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue // Likely abbreviation like "Dr."
				}
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}

	return sentences
}

// splitWordsToSize is the last resort for a single run of text with no
// sentence boundaries.
func splitWordsToSize(text string, size int) []string {
	var chunks []string
	var current strings.Builder

	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+len(word)+1 > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		// A single word longer than size gets hard-cut
		for len(word) > size {
			chunks = append(chunks, word[:size])
			word = word[size:]
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return chunks
}

// applyOverlap prepends the tail of each chunk to its successor, aligned to a
// word boundary.
func applyOverlap(chunks []string, overlap int) []string {
	if overlap <= 0 || len(chunks) <= 1 {
		return chunks
	}

	result := make([]string, len(chunks))
	copy(result, chunks)

	for i := 1; i < len(result); i++ {
		prev := chunks[i-1]
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		if spaceIdx := strings.LastIndex(tail, " "); spaceIdx > 0 {
			tail = tail[spaceIdx+1:]
		}
		result[i] = tail + " " + result[i]
	}

	return result
}
