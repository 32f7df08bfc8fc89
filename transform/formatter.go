package transform

import (
	"sort"
	"strings"

	"github.com/poiesic/vectorsync/core"
)

// MetadataFormatter prefixes each chunk with the row's metadata as
// "key: value" lines, in key order, so the embedding carries the row context.
// A row without metadata passes through unchanged.
type MetadataFormatter struct{}

var _ Formatter = (*MetadataFormatter)(nil)

func (f *MetadataFormatter) Format(chunk string, row *core.SourceRow) string {
	if len(row.Metadata) == 0 {
		return chunk
	}

	keys := make([]string, 0, len(row.Metadata))
	for k := range row.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(row.Metadata[k])
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(chunk)
	return b.String()
}
