package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/flakeid/pkg/snowflake"
)

func TestMessage_JSONCarriesIDAsString(t *testing.T) {
	msg := Message{
		ID:        snowflake.ID(1<<62 + 7),
		ChannelID: "general",
		UserID:    "alice",
		Content:   "hi",
		Type:      TypeMessage,
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":"4611686018427387911"`)

	var back Message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, msg, back)
}

func TestMessage_Persistent(t *testing.T) {
	assert.True(t, (&Message{Type: TypeMessage}).Persistent())
	for _, typ := range []MessageType{TypeTyping, TypePresence, TypeReadReceipt, TypeError} {
		assert.False(t, (&Message{Type: typ}).Persistent(), typ)
	}
}

func TestDMChannel(t *testing.T) {
	assert.Equal(t, "dm:alice:bob", DMChannel("bob", "alice"))
	assert.Equal(t, DMChannel("alice", "bob"), DMChannel("bob", "alice"))

	a, b, err := ParseDMChannel("dm:alice:bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	for _, bad := range []string{"general", "dm:alice", "dm:a:b:c", "dm::bob"} {
		_, _, err := ParseDMChannel(bad)
		assert.Error(t, err, bad)
	}
	assert.False(t, IsDM("general"))
}

func TestPeer(t *testing.T) {
	p, ok := Peer("dm:alice:bob", "bob")
	assert.True(t, ok)
	assert.Equal(t, "alice", p)

	_, ok = Peer("dm:alice:bob", "carol")
	assert.False(t, ok)
	_, ok = Peer("general", "alice")
	assert.False(t, ok)
}
