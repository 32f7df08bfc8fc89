package badger

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/poiesic/vectorsync/core"
)

// Key prefixes for different data types
const (
	workItemPrefix     = "wqi"
	deadLetterPrefix   = "dlq"
	chunkPrefix        = "chk"
	pipelinePrefix     = "pip"
	pipelineNamePrefix = "pipna"
	lastRunPrefix      = "piprun"
	errorRecordPrefix  = "erl"
	errorRecordIDSeq   = "erlseq"
	sourceRowPrefix    = "srw"
)

// appendIDs writes a prefix followed by fixed-width BigEndian ids so
// lexicographic key order matches numeric order.
func appendIDs(prefix string, ids ...core.ID) []byte {
	p := prefix + ":"
	buf := make([]byte, len(p)+8*len(ids))
	offset := copy(buf, p)
	for _, id := range ids {
		binary.BigEndian.PutUint64(buf[offset:], uint64(id))
		offset += 8
	}
	return buf
}

// makeWorkItemKey generates a key for a work item.
// Format: prefix:pipelineId:keyHash
func makeWorkItemKey(pipelineId, keyHash core.ID) []byte {
	return appendIDs(workItemPrefix, pipelineId, keyHash)
}

// makePartialWorkItemKey generates the iteration prefix for a pipeline's queue.
func makePartialWorkItemKey(pipelineId core.ID) []byte {
	return appendIDs(workItemPrefix, pipelineId)
}

// makeDeadLetterKey generates a key for a dead-letter item.
// Format: prefix:pipelineId:keyHash
func makeDeadLetterKey(pipelineId, keyHash core.ID) []byte {
	return appendIDs(deadLetterPrefix, pipelineId, keyHash)
}

// makePartialDeadLetterKey generates the iteration prefix for a pipeline's
// dead-letter store.
func makePartialDeadLetterKey(pipelineId core.ID) []byte {
	return appendIDs(deadLetterPrefix, pipelineId)
}

// makeChunkKey generates a key for a derived chunk.
// Format: prefix:pipelineId:keyHash:seq
// Seq is BigEndian so chunks iterate in sequence order.
func makeChunkKey(pipelineId, keyHash core.ID, seq int) []byte {
	return appendIDs(chunkPrefix, pipelineId, keyHash, core.ID(seq))
}

// makePartialChunkKey generates the iteration prefix for one key's chunk set.
func makePartialChunkKey(pipelineId, keyHash core.ID) []byte {
	return appendIDs(chunkPrefix, pipelineId, keyHash)
}

// makePipelineChunkPrefix generates the iteration prefix for all chunks of a pipeline.
func makePipelineChunkPrefix(pipelineId core.ID) []byte {
	return appendIDs(chunkPrefix, pipelineId)
}

// makePipelineKey generates a key for a pipeline definition.
func makePipelineKey(id core.ID) []byte {
	return appendIDs(pipelinePrefix, id)
}

// makePipelineNameKey generates a key for the pipeline name index.
func makePipelineNameKey(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", pipelineNamePrefix, name))
}

// makeLastRunKey generates a key for a pipeline's last-successful-run timestamp.
func makeLastRunKey(id core.ID) []byte {
	return appendIDs(lastRunPrefix, id)
}

// makeErrorRecordKey generates a key for an error record.
// Format: prefix:pipelineId:seq
func makeErrorRecordKey(pipelineId core.ID, seq uint64) []byte {
	return appendIDs(errorRecordPrefix, pipelineId, core.ID(seq))
}

// makeMaxErrorRecordKey generates the seek key for reverse iteration over a
// pipeline's error records.
func makeMaxErrorRecordKey(pipelineId core.ID) []byte {
	return makeErrorRecordKey(pipelineId, math.MaxUint64)
}

// makePartialErrorRecordKey generates the iteration prefix for a pipeline's
// error records.
func makePartialErrorRecordKey(pipelineId core.ID) []byte {
	return appendIDs(errorRecordPrefix, pipelineId)
}

// makeSourceRowKey generates a key for a source row.
// Format: prefix:sourceHash:keyHash
func makeSourceRowKey(sourceHash, keyHash core.ID) []byte {
	return appendIDs(sourceRowPrefix, sourceHash, keyHash)
}

// makePartialSourceRowKey generates the iteration prefix for a source relation.
func makePartialSourceRowKey(sourceHash core.ID) []byte {
	return appendIDs(sourceRowPrefix, sourceHash)
}
