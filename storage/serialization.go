// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/vectorsync/core"
)

// MUS serializers for the persisted record set. The records are few and
// stable, so the serializers are composed by hand from mus-go primitives
// instead of being generated. Field order is part of the on-disk format:
// append new fields at the end only.

var (
	stringsMUS  = ord.NewSliceSer[string](ord.String)
	vectorMUS   = ord.NewSliceSer[float32](varint.Float32)
	metadataMUS = ord.NewMapSer[string, string](ord.String, ord.String)
)

// idSer serializes core.ID as a varint uint64.
type idSer struct{}

func (idSer) Marshal(v core.ID, bs []byte) int {
	return varint.Uint64.Marshal(uint64(v), bs)
}

func (idSer) Unmarshal(bs []byte) (core.ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return core.ID(v), n, err
}

func (idSer) Size(v core.ID) int {
	return varint.Uint64.Size(uint64(v))
}

func (idSer) Skip(bs []byte) (int, error) {
	return varint.Uint64.Skip(bs)
}

var idMUS = idSer{}

// timeSer serializes time.Time as a Unix-microsecond varint, always UTC.
type timeSer struct{}

func (timeSer) Marshal(v time.Time, bs []byte) int {
	return varint.Int64.Marshal(v.UnixMicro(), bs)
}

func (timeSer) Unmarshal(bs []byte) (time.Time, int, error) {
	micro, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micro).UTC(), n, nil
}

func (timeSer) Size(v time.Time) int {
	return varint.Int64.Size(v.UnixMicro())
}

func (timeSer) Skip(bs []byte) (int, error) {
	return varint.Int64.Skip(bs)
}

var timeMUS = timeSer{}

// durationSer serializes time.Duration as a varint of nanoseconds.
type durationSer struct{}

func (durationSer) Marshal(v time.Duration, bs []byte) int {
	return varint.Int64.Marshal(int64(v), bs)
}

func (durationSer) Unmarshal(bs []byte) (time.Duration, int, error) {
	ns, n, err := varint.Int64.Unmarshal(bs)
	return time.Duration(ns), n, err
}

func (durationSer) Size(v time.Duration) int {
	return varint.Int64.Size(int64(v))
}

func (durationSer) Skip(bs []byte) (int, error) {
	return varint.Int64.Skip(bs)
}

var durationMUS = durationSer{}

// keySer serializes core.SourceKey as a slice of strings.
type keySer struct{}

func (keySer) Marshal(v core.SourceKey, bs []byte) int {
	return stringsMUS.Marshal([]string(v), bs)
}

func (keySer) Unmarshal(bs []byte) (core.SourceKey, int, error) {
	vals, n, err := stringsMUS.Unmarshal(bs)
	return core.SourceKey(vals), n, err
}

func (keySer) Size(v core.SourceKey) int {
	return stringsMUS.Size([]string(v))
}

func (keySer) Skip(bs []byte) (int, error) {
	return stringsMUS.Skip(bs)
}

var keyMUS = keySer{}

// workItemSer serializes core.WorkItem.
type workItemSer struct{}

func (workItemSer) Marshal(v core.WorkItem, bs []byte) (n int) {
	n = idMUS.Marshal(v.PipelineId, bs)
	n += keyMUS.Marshal(v.Key, bs[n:])
	n += timeMUS.Marshal(v.EnqueuedAt, bs[n:])
	n += varint.Int.Marshal(v.Attempts, bs[n:])
	n += timeMUS.Marshal(v.RetryAfter, bs[n:])
	n += ord.String.Marshal(v.ClaimOwner, bs[n:])
	n += timeMUS.Marshal(v.ClaimExpiresAt, bs[n:])
	return n
}

func (workItemSer) Unmarshal(bs []byte) (v core.WorkItem, n int, err error) {
	var c int
	if v.PipelineId, n, err = idMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.Key, c, err = keyMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.EnqueuedAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Attempts, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.RetryAfter, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.ClaimOwner, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.ClaimExpiresAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	return v, n, nil
}

func (workItemSer) Size(v core.WorkItem) (size int) {
	size = idMUS.Size(v.PipelineId)
	size += keyMUS.Size(v.Key)
	size += timeMUS.Size(v.EnqueuedAt)
	size += varint.Int.Size(v.Attempts)
	size += timeMUS.Size(v.RetryAfter)
	size += ord.String.Size(v.ClaimOwner)
	size += timeMUS.Size(v.ClaimExpiresAt)
	return size
}

var workItemMUS = workItemSer{}

// deadLetterSer serializes core.DeadLetterItem.
type deadLetterSer struct{}

func (deadLetterSer) Marshal(v core.DeadLetterItem, bs []byte) (n int) {
	n = idMUS.Marshal(v.PipelineId, bs)
	n += keyMUS.Marshal(v.Key, bs[n:])
	n += timeMUS.Marshal(v.EnqueuedAt, bs[n:])
	n += varint.Int.Marshal(v.Attempts, bs[n:])
	n += ord.String.Marshal(string(v.Stage), bs[n:])
	n += timeMUS.Marshal(v.FailedAt, bs[n:])
	return n
}

func (deadLetterSer) Unmarshal(bs []byte) (v core.DeadLetterItem, n int, err error) {
	var c int
	if v.PipelineId, n, err = idMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.Key, c, err = keyMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.EnqueuedAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Attempts, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	var stage string
	if stage, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	v.Stage = core.Stage(stage)
	n += c
	if v.FailedAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	return v, n, nil
}

func (deadLetterSer) Size(v core.DeadLetterItem) (size int) {
	size = idMUS.Size(v.PipelineId)
	size += keyMUS.Size(v.Key)
	size += timeMUS.Size(v.EnqueuedAt)
	size += varint.Int.Size(v.Attempts)
	size += ord.String.Size(string(v.Stage))
	size += timeMUS.Size(v.FailedAt)
	return size
}

var deadLetterMUS = deadLetterSer{}

// chunkSer serializes core.DerivedChunk.
type chunkSer struct{}

func (chunkSer) Marshal(v core.DerivedChunk, bs []byte) (n int) {
	n = idMUS.Marshal(v.PipelineId, bs)
	n += keyMUS.Marshal(v.Key, bs[n:])
	n += varint.Int.Marshal(v.Seq, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += vectorMUS.Marshal(v.Vector, bs[n:])
	n += timeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (chunkSer) Unmarshal(bs []byte) (v core.DerivedChunk, n int, err error) {
	var c int
	if v.PipelineId, n, err = idMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.Key, c, err = keyMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Seq, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Text, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Vector, c, err = vectorMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.UpdatedAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	return v, n, nil
}

func (chunkSer) Size(v core.DerivedChunk) (size int) {
	size = idMUS.Size(v.PipelineId)
	size += keyMUS.Size(v.Key)
	size += varint.Int.Size(v.Seq)
	size += ord.String.Size(v.Text)
	size += vectorMUS.Size(v.Vector)
	size += timeMUS.Size(v.UpdatedAt)
	return size
}

var chunkMUS = chunkSer{}

// errorRecordSer serializes core.ErrorRecord.
type errorRecordSer struct{}

func (errorRecordSer) Marshal(v core.ErrorRecord, bs []byte) (n int) {
	n = idMUS.Marshal(v.Id, bs)
	n += idMUS.Marshal(v.PipelineId, bs[n:])
	n += keyMUS.Marshal(v.Key, bs[n:])
	n += ord.String.Marshal(string(v.Stage), bs[n:])
	n += ord.String.Marshal(string(v.Class), bs[n:])
	n += ord.String.Marshal(v.Message, bs[n:])
	n += timeMUS.Marshal(v.OccurredAt, bs[n:])
	return n
}

func (errorRecordSer) Unmarshal(bs []byte) (v core.ErrorRecord, n int, err error) {
	var c int
	if v.Id, n, err = idMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.PipelineId, c, err = idMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Key, c, err = keyMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	var s string
	if s, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	v.Stage = core.Stage(s)
	n += c
	if s, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	v.Class = core.ErrorClass(s)
	n += c
	if v.Message, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.OccurredAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	return v, n, nil
}

func (errorRecordSer) Size(v core.ErrorRecord) (size int) {
	size = idMUS.Size(v.Id)
	size += idMUS.Size(v.PipelineId)
	size += keyMUS.Size(v.Key)
	size += ord.String.Size(string(v.Stage))
	size += ord.String.Size(string(v.Class))
	size += ord.String.Size(v.Message)
	size += timeMUS.Size(v.OccurredAt)
	return size
}

var errorRecordMUS = errorRecordSer{}

// sourceRowSer serializes core.SourceRow.
type sourceRowSer struct{}

func (sourceRowSer) Marshal(v core.SourceRow, bs []byte) (n int) {
	n = keyMUS.Marshal(v.Key, bs)
	n += ord.String.Marshal(v.Content, bs[n:])
	n += metadataMUS.Marshal(v.Metadata, bs[n:])
	return n
}

func (sourceRowSer) Unmarshal(bs []byte) (v core.SourceRow, n int, err error) {
	var c int
	if v.Key, n, err = keyMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.Content, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Metadata, c, err = metadataMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	return v, n, nil
}

func (sourceRowSer) Size(v core.SourceRow) (size int) {
	size = keyMUS.Size(v.Key)
	size += ord.String.Size(v.Content)
	size += metadataMUS.Size(v.Metadata)
	return size
}

var sourceRowMUS = sourceRowSer{}

// pipelineSer serializes core.Pipeline.
type pipelineSer struct{}

func (pipelineSer) Marshal(v core.Pipeline, bs []byte) (n int) {
	n = idMUS.Marshal(v.Id, bs)
	n += ord.String.Marshal(v.Name, bs[n:])
	n += ord.String.Marshal(v.Source, bs[n:])
	n += stringsMUS.Marshal(v.KeyColumns, bs[n:])
	n += ord.String.Marshal(v.EmbeddingModel, bs[n:])
	n += varint.Int.Marshal(v.EmbeddingDimensions, bs[n:])
	n += varint.Int.Marshal(v.ChunkSize, bs[n:])
	n += varint.Int.Marshal(v.ChunkOverlap, bs[n:])
	n += varint.Int.Marshal(v.BatchSize, bs[n:])
	n += varint.Int.Marshal(v.Concurrency, bs[n:])
	n += varint.Int.Marshal(v.MaxAttempts, bs[n:])
	n += durationMUS.Marshal(v.RetryDelay, bs[n:])
	n += durationMUS.Marshal(v.MaxRetryDelay, bs[n:])
	n += durationMUS.Marshal(v.LeaseDuration, bs[n:])
	n += durationMUS.Marshal(v.PollInterval, bs[n:])
	n += ord.Bool.Marshal(v.Paused, bs[n:])
	n += timeMUS.Marshal(v.CreatedAt, bs[n:])
	n += timeMUS.Marshal(v.UpdatedAt, bs[n:])
	return n
}

func (pipelineSer) Unmarshal(bs []byte) (v core.Pipeline, n int, err error) {
	var c int
	if v.Id, n, err = idMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.Name, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Source, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.KeyColumns, c, err = stringsMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.EmbeddingModel, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.EmbeddingDimensions, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.ChunkSize, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.ChunkOverlap, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.BatchSize, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Concurrency, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.MaxAttempts, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.RetryDelay, c, err = durationMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.MaxRetryDelay, c, err = durationMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.LeaseDuration, c, err = durationMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.PollInterval, c, err = durationMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.Paused, c, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.CreatedAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	if v.UpdatedAt, c, err = timeMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + c, err
	}
	n += c
	return v, n, nil
}

func (pipelineSer) Size(v core.Pipeline) (size int) {
	size = idMUS.Size(v.Id)
	size += ord.String.Size(v.Name)
	size += ord.String.Size(v.Source)
	size += stringsMUS.Size(v.KeyColumns)
	size += ord.String.Size(v.EmbeddingModel)
	size += varint.Int.Size(v.EmbeddingDimensions)
	size += varint.Int.Size(v.ChunkSize)
	size += varint.Int.Size(v.ChunkOverlap)
	size += varint.Int.Size(v.BatchSize)
	size += varint.Int.Size(v.Concurrency)
	size += varint.Int.Size(v.MaxAttempts)
	size += durationMUS.Size(v.RetryDelay)
	size += durationMUS.Size(v.MaxRetryDelay)
	size += durationMUS.Size(v.LeaseDuration)
	size += durationMUS.Size(v.PollInterval)
	size += ord.Bool.Size(v.Paused)
	size += timeMUS.Size(v.CreatedAt)
	size += timeMUS.Size(v.UpdatedAt)
	return size
}

var pipelineMUS = pipelineSer{}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, idMUS.Size(id))
	idMUS.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := idMUS.Unmarshal(data)
	return id, err
}

// MarshalTime serializes a timestamp to bytes.
func MarshalTime(t time.Time) []byte {
	buf := make([]byte, timeMUS.Size(t))
	timeMUS.Marshal(t, buf)
	return buf
}

// UnmarshalTime deserializes a timestamp from bytes.
func UnmarshalTime(data []byte) (time.Time, error) {
	t, _, err := timeMUS.Unmarshal(data)
	return t, err
}

// MarshalWorkItem serializes a WorkItem to bytes.
func MarshalWorkItem(item *core.WorkItem) []byte {
	buf := make([]byte, workItemMUS.Size(*item))
	workItemMUS.Marshal(*item, buf)
	return buf
}

// UnmarshalWorkItem deserializes a WorkItem from bytes.
func UnmarshalWorkItem(data []byte) (*core.WorkItem, error) {
	item, _, err := workItemMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarshalDeadLetterItem serializes a DeadLetterItem to bytes.
func MarshalDeadLetterItem(item *core.DeadLetterItem) []byte {
	buf := make([]byte, deadLetterMUS.Size(*item))
	deadLetterMUS.Marshal(*item, buf)
	return buf
}

// UnmarshalDeadLetterItem deserializes a DeadLetterItem from bytes.
func UnmarshalDeadLetterItem(data []byte) (*core.DeadLetterItem, error) {
	item, _, err := deadLetterMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// MarshalDerivedChunk serializes a DerivedChunk to bytes.
func MarshalDerivedChunk(chunk *core.DerivedChunk) []byte {
	buf := make([]byte, chunkMUS.Size(*chunk))
	chunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalDerivedChunk deserializes a DerivedChunk from bytes.
func UnmarshalDerivedChunk(data []byte) (*core.DerivedChunk, error) {
	chunk, _, err := chunkMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

// MarshalErrorRecord serializes an ErrorRecord to bytes.
func MarshalErrorRecord(rec *core.ErrorRecord) []byte {
	buf := make([]byte, errorRecordMUS.Size(*rec))
	errorRecordMUS.Marshal(*rec, buf)
	return buf
}

// UnmarshalErrorRecord deserializes an ErrorRecord from bytes.
func UnmarshalErrorRecord(data []byte) (*core.ErrorRecord, error) {
	rec, _, err := errorRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarshalSourceRow serializes a SourceRow to bytes.
func MarshalSourceRow(row *core.SourceRow) []byte {
	buf := make([]byte, sourceRowMUS.Size(*row))
	sourceRowMUS.Marshal(*row, buf)
	return buf
}

// UnmarshalSourceRow deserializes a SourceRow from bytes.
func UnmarshalSourceRow(data []byte) (*core.SourceRow, error) {
	row, _, err := sourceRowMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// MarshalPipeline serializes a Pipeline to bytes.
func MarshalPipeline(p *core.Pipeline) []byte {
	buf := make([]byte, pipelineMUS.Size(*p))
	pipelineMUS.Marshal(*p, buf)
	return buf
}

// UnmarshalPipeline deserializes a Pipeline from bytes.
func UnmarshalPipeline(data []byte) (*core.Pipeline, error) {
	p, _, err := pipelineMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
