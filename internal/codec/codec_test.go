package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/wireform/internal/codec"
)

type item struct {
	ID   int    `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

func TestJSONCodec(t *testing.T) {
	c := codec.JSON{}
	orig := item{ID: 1, Name: "test"}
	b, err := c.Marshal(orig)
	require.NoError(t, err)

	var got item
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, orig, got)
	assert.Equal(t, "json", c.Name())

	indented, err := codec.JSON{Indent: true}.Marshal(orig)
	require.NoError(t, err)
	assert.Contains(t, string(indented), "\n  \"id\": 1")
}

func TestMsgPackCodec(t *testing.T) {
	c := codec.MsgPack{}
	orig := item{ID: 42, Name: "pack"}
	b, err := c.Marshal(orig)
	require.NoError(t, err)

	var got item
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, orig, got)
	assert.Equal(t, "msgpack", c.Name())
}

func TestByName(t *testing.T) {
	c, err := codec.ByName("MsgPack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())

	c, err = codec.ByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	_, err = codec.ByName("xml")
	assert.Error(t, err)
}
