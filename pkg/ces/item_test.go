package ces

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemJSONRoundTripPreservesUnknownFields(t *testing.T) {
	src := `{
		"note_id": "abc123",
		"type": "video",
		"title": "hello",
		"desc": "world",
		"tag_list": "a,b,c",
		"liked_count": "5.6万",
		"comment_count": 42,
		"last_update_time": "1733998367000",
		"nickname": "someone",
		"note_url": "https://example.com/abc123"
	}`

	var item Item
	require.NoError(t, json.Unmarshal([]byte(src), &item))

	assert.Equal(t, "abc123", item.NoteID)
	assert.Equal(t, "video", item.Type)
	assert.Equal(t, "5.6万", item.LikedCount)
	assert.Equal(t, float64(42), item.CommentCount)
	assert.Equal(t, "someone", item.Extra["nickname"])
	assert.Equal(t, "https://example.com/abc123", item.Extra["note_url"])

	out, err := json.Marshal(item)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, "abc123", m["note_id"])
	assert.Equal(t, "someone", m["nickname"])
	assert.Equal(t, "5.6万", m["liked_count"])
}

func TestEnrichedJSONCarriesDerivedFields(t *testing.T) {
	e := ComputeScore(Item{
		NoteID:     "n1",
		LikedCount: 10,
		Extra:      map[string]any{"nickname": "x"},
	})
	e.TimeWeight = 1.0
	e.WeightedCES = e.CES
	e.Rank = 3

	out, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, 10.0, m["ces"])
	assert.Equal(t, 1.0, m["time_weight"])
	assert.Equal(t, 10.0, m["weighted_ces"])
	assert.Equal(t, 3.0, m["rank"])
	assert.Equal(t, "x", m["nickname"])

	sig, ok := m["signals"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10.0, sig["like"])

	// And back.
	var back Enriched
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, 10.0, back.CES)
	assert.Equal(t, 3, back.Rank)
	assert.Equal(t, 10, back.Signals.Like)
	assert.Equal(t, "x", back.Extra["nickname"])
}
