package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPipeline() *Pipeline {
	return &Pipeline{
		Name:           "articles",
		Source:         "articles",
		KeyColumns:     []string{"id"},
		EmbeddingModel: "embeddinggemma",
	}
}

func TestValidatePipeline_Valid(t *testing.T) {
	require.NoError(t, ValidatePipeline(validPipeline()))
}

func TestValidatePipeline_Nil(t *testing.T) {
	err := ValidatePipeline(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestValidatePipeline_EmptyName(t *testing.T) {
	p := validPipeline()
	p.Name = ""
	err := ValidatePipeline(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyPipelineName)
}

func TestValidatePipeline_EmptySource(t *testing.T) {
	p := validPipeline()
	p.Source = ""
	err := ValidatePipeline(p)
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestValidatePipeline_NoKeyColumns(t *testing.T) {
	p := validPipeline()
	p.KeyColumns = nil
	err := ValidatePipeline(p)
	assert.ErrorIs(t, err, ErrEmptyKeyColumns)
}

func TestValidatePipeline_EmptyKeyColumn(t *testing.T) {
	p := validPipeline()
	p.KeyColumns = []string{"id", ""}
	err := ValidatePipeline(p)
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestValidatePipeline_EmptyModel(t *testing.T) {
	p := validPipeline()
	p.EmbeddingModel = ""
	err := ValidatePipeline(p)
	assert.ErrorIs(t, err, ErrEmptyEmbeddingModel)
}

func TestValidatePipeline_OverlapLargerThanChunk(t *testing.T) {
	p := validPipeline()
	p.ChunkSize = 100
	p.ChunkOverlap = 100
	err := ValidatePipeline(p)
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestValidateSourceKey(t *testing.T) {
	p := validPipeline()

	require.NoError(t, ValidateSourceKey(p, SourceKey{"42"}))
	require.NoError(t, ValidateSourceKey(nil, SourceKey{"42", "en"}))

	err := ValidateSourceKey(p, SourceKey{})
	assert.ErrorIs(t, err, ErrInvalidSourceKey)

	err = ValidateSourceKey(p, SourceKey{"42", "en"})
	assert.ErrorIs(t, err, ErrKeyArity)
}

func TestValidateSourceRow(t *testing.T) {
	require.NoError(t, ValidateSourceRow(&SourceRow{Key: SourceKey{"1"}, Content: "hello"}))

	// Empty content is valid: it yields zero derived chunks.
	require.NoError(t, ValidateSourceRow(&SourceRow{Key: SourceKey{"1"}}))

	err := ValidateSourceRow(nil)
	assert.ErrorIs(t, err, ErrInvalidSourceRow)

	err = ValidateSourceRow(&SourceRow{})
	assert.ErrorIs(t, err, ErrInvalidSourceKey)
}
