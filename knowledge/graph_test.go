package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/docqa-agent/index"
)

func TestRecordWithoutDriver(t *testing.T) {
	err := NewGraphRecorder(nil, nil).Record(context.Background(), nil)
	require.EqualError(t, err, "neo4j driver is nil")

	var nilRecorder *GraphRecorder
	require.Error(t, nilRecorder.Record(context.Background(), nil))
}

func TestDocumentParamsGroupsBySource(t *testing.T) {
	docs := documentParams([]index.Chunk{
		{ID: "a", Position: 0, Text: "one", Source: "guide.pdf"},
		{ID: "b", Position: 1, Text: "two", Source: "guide.pdf"},
		{ID: "c", Position: 2, Text: "row", Source: "table.csv"},
		{ID: "d", Position: 3, Text: "three", Source: "guide.pdf"},
	})

	require.Len(t, docs, 2)
	assert.Equal(t, "guide.pdf", docs[0]["path"])
	assert.Equal(t, "table.csv", docs[1]["path"])

	guide := docs[0]["chunks"].([]any)
	require.Len(t, guide, 3)
	last := guide[2].(map[string]any)
	assert.Equal(t, "d", last["id"])
	assert.Equal(t, int64(3), last["position"])
	assert.Equal(t, int64(2), last["order"])
}
