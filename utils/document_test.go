package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	GuildID string   `json:"guild_id"`
	Wins    int      `json:"wins"`
	Badges  []string `json:"badges"`
	Secret  string   `json:"-"`
}

func TestToDocument(t *testing.T) {
	doc, err := ToDocument(&testRecord{
		GuildID: "111",
		Wins:    3,
		Badges:  []string{"water badge"},
		Secret:  "hidden",
	})
	require.NoError(t, err)

	assert.Equal(t, "111", doc["guild_id"])
	assert.EqualValues(t, 3, doc["wins"])
	assert.NotContains(t, doc, "Secret")
	assert.NotContains(t, doc, "-")
}

func TestFromDocument(t *testing.T) {
	var record testRecord
	require.NoError(t, FromDocument(map[string]interface{}{
		"guild_id": "111",
		"wins":     float64(3),
		"badges":   []interface{}{"water badge"},
		"extra":    "ignored",
	}, &record))

	assert.Equal(t, "111", record.GuildID)
	assert.Equal(t, 3, record.Wins)
	assert.Equal(t, []string{"water badge"}, record.Badges)
}

func TestFromDocumentRoundTrip(t *testing.T) {
	in := &testRecord{GuildID: "222", Wins: 7, Badges: []string{"a", "b"}}

	doc, err := ToDocument(in)
	require.NoError(t, err)

	var out testRecord
	require.NoError(t, FromDocument(doc, &out))
	assert.Equal(t, in.GuildID, out.GuildID)
	assert.Equal(t, in.Wins, out.Wins)
	assert.Equal(t, in.Badges, out.Badges)
}

func TestMarshalUnmarshal(t *testing.T) {
	data, err := Marshal(map[string]int{"a": 1})
	require.NoError(t, err)

	var out map[string]int
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, map[string]int{"a": 1}, out)
}
