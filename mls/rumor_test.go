package mls

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPubKey = strings.Repeat("ab", 32)

func TestDecodeRumor(t *testing.T) {
	t.Run("derives missing id", func(t *testing.T) {
		src := nostr.Event{PubKey: testPubKey, CreatedAt: 1000, Kind: 9, Tags: nostr.Tags{}, Content: "hi"}
		raw, err := src.MarshalJSON()
		require.NoError(t, err)

		r, err := DecodeRumor(raw)
		require.NoError(t, err)
		assert.Equal(t, src.GetID(), r.ID)
		assert.Equal(t, "hi", r.Content)
		assert.Equal(t, nostr.Timestamp(1000), r.CreatedAt)
	})

	t.Run("keeps explicit id", func(t *testing.T) {
		id := strings.Repeat("01", 32)
		src := nostr.Event{ID: id, PubKey: testPubKey, CreatedAt: 5, Kind: 9, Tags: nostr.Tags{}}
		raw, err := src.MarshalJSON()
		require.NoError(t, err)

		r, err := DecodeRumor(raw)
		require.NoError(t, err)
		assert.Equal(t, id, r.ID)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := DecodeRumor([]byte("{not json"))
		assert.ErrorIs(t, err, ErrMalformedRumor)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := DecodeRumor(nil)
		assert.ErrorIs(t, err, ErrMalformedRumor)
	})

	t.Run("rejects missing pubkey", func(t *testing.T) {
		_, err := DecodeRumor([]byte(`{"kind":9,"created_at":1,"content":"x","tags":[]}`))
		assert.ErrorIs(t, err, ErrMalformedRumor)
	})
}

func TestGroupIDHexRoundtrip(t *testing.T) {
	id := GroupID{0xde, 0xad, 0xbe, 0xef}
	assert.Equal(t, "deadbeef", id.Hex())

	back, err := GroupIDFromHex("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = GroupIDFromHex("zz")
	assert.Error(t, err)
	_, err = GroupIDFromHex("")
	assert.Error(t, err)
}
