package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSchema(t *testing.T) {
	raw, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	require.NoError(t, err)

	out := renderSchema(string(raw), Schema{Collection: "pdf_chunks", EmbedDim: 768})

	assert.NotContains(t, out, "{{")
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS pdf_chunks (")
	assert.Contains(t, out, "vector(768)")
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS file_statuses")
	assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS ingestion_jobs")
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "--"))
}

func TestSchemaValidate(t *testing.T) {
	assert.NoError(t, Schema{Collection: "pdf_chunks", EmbedDim: 3}.validate())
	assert.Error(t, Schema{Collection: "chunks; DROP TABLE x", EmbedDim: 3}.validate())
	assert.Error(t, Schema{Collection: "Chunks", EmbedDim: 3}.validate())
	assert.Error(t, Schema{Collection: "pdf_chunks", EmbedDim: 0}.validate())
}

func TestNewDatabaseClient_RejectsBadTable(t *testing.T) {
	_, err := NewDatabaseClient(nil, "pdf_chunks")
	assert.Error(t, err)
}

func TestCheckEmbedDim(t *testing.T) {
	assert.NoError(t, checkEmbedDim("pdf_chunks", 768, 768))

	err := checkEmbedDim("pdf_chunks", 768, 1536)
	require.ErrorIs(t, err, ErrEmbedDimMismatch)
	assert.Contains(t, err.Error(), "vector(768)")
	assert.Contains(t, err.Error(), "1536")
}
