// Package transform turns a source row into the chunk texts that get
// embedded.
//
// The transformation is a three-stage strategy chain: a Parser normalizes the
// raw content, a Chunker splits it into pieces sized for the embedding model,
// and a Formatter enriches each piece with row metadata. Each stage is
// pluggable; the defaults handle plain text well enough that a pipeline works
// out of the box.
package transform
