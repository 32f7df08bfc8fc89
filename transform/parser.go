package transform

import "strings"

// PlainParser treats content as plain text. It trims surrounding whitespace
// and collapses Windows line endings; everything else passes through.
type PlainParser struct{}

var _ Parser = (*PlainParser)(nil)

func (p *PlainParser) Parse(content string) (string, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.TrimSpace(content), nil
}
