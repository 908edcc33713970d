package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/mahaj/flakeid/pkg/snowflake"
)

type MessageType string

const (
	TypeMessage     MessageType = "message"
	TypeTyping      MessageType = "typing"
	TypePresence    MessageType = "presence"
	TypeReadReceipt MessageType = "read_receipt"
	// TypeError frames are written only to the sending client and never published.
	TypeError MessageType = "error"
)

const dmPrefix = "dm:"

// Message is the unit carried over websocket, Kafka and Scylla. ID is zero
// until the gateway stamps it.
type Message struct {
	ID        snowflake.ID `json:"id"`
	ChannelID string       `json:"channel_id"`
	UserID    string       `json:"user_id"`
	Content   string       `json:"content"`
	Type      MessageType  `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
}

// Persistent reports whether the message is stored, as opposed to typing and
// presence events that are only fanned out.
func (m *Message) Persistent() bool {
	return m.Type == TypeMessage
}

// DMChannel returns the direct-message channel between two users. The pair
// is ordered so both sides resolve to the same channel.
func DMChannel(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return dmPrefix + a + ":" + b
}

// IsDM reports whether channelID names a direct-message channel.
func IsDM(channelID string) bool {
	return strings.HasPrefix(channelID, dmPrefix)
}

// ParseDMChannel splits "dm:<a>:<b>" into its two participants.
func ParseDMChannel(channelID string) (string, string, error) {
	if !IsDM(channelID) {
		return "", "", fmt.Errorf("%q is not a dm channel", channelID)
	}
	parts := strings.Split(channelID[len(dmPrefix):], ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%q: want dm:<user>:<user>", channelID)
	}
	return parts[0], parts[1], nil
}

// Peer returns the participant of a DM channel other than userID. ok is false
// when userID is not a participant.
func Peer(channelID, userID string) (peer string, ok bool) {
	a, b, err := ParseDMChannel(channelID)
	if err != nil {
		return "", false
	}
	switch userID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}
