package db

import (
	"fmt"
	"time"

	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

type Conversation struct {
	UserID        string       `json:"user_id"`
	OtherUserID   string       `json:"other_user_id"`
	LastMessageID snowflake.ID `json:"last_message_id"`
	LastUpdated   time.Time    `json:"last_updated"`
	UnreadCount   int64        `json:"unread_count"`
}

type ConversationStore struct {
	session *Session
}

func NewConversationStore(s *Session) *ConversationStore {
	return &ConversationStore{session: s}
}

// RecordDM updates both participants' conversation rows and bumps the
// recipient's unread counter.
func (c *ConversationStore) RecordDM(msg *model.Message) error {
	u1, u2, err := model.ParseDMChannel(msg.ChannelID)
	if err != nil {
		return err
	}

	const upsert = `INSERT INTO user_conversations (user_id, other_user_id, last_message_id, last_updated) VALUES (?, ?, ?, ?)`
	for _, pair := range [][2]string{{u1, u2}, {u2, u1}} {
		if err := c.session.Query(upsert, pair[0], pair[1], msg.ID.Int64(), msg.Timestamp).Exec(); err != nil {
			return fmt.Errorf("conversation %s/%s: %w", pair[0], pair[1], err)
		}
	}

	recipient, ok := model.Peer(msg.ChannelID, msg.UserID)
	if !ok {
		return fmt.Errorf("sender %s is not in %s", msg.UserID, msg.ChannelID)
	}
	const incr = `UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND other_user_id = ?`
	if err := c.session.Query(incr, recipient, msg.UserID).Exec(); err != nil {
		return fmt.Errorf("unread count for %s: %w", recipient, err)
	}
	return nil
}

func (c *ConversationStore) Conversations(userID string) ([]Conversation, error) {
	const q = `SELECT user_id, other_user_id, last_message_id, last_updated FROM user_conversations WHERE user_id = ?`
	iter := c.session.Query(q, userID).Iter()

	conversations := []Conversation{}
	var (
		conv   Conversation
		lastID int64
	)
	for iter.Scan(&conv.UserID, &conv.OtherUserID, &lastID, &conv.LastUpdated) {
		conv.LastMessageID = snowflake.ID(lastID)
		conv.UnreadCount = 0
		var count int64
		if err := c.session.Query(`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`,
			conv.UserID, conv.OtherUserID).Scan(&count); err == nil {
			conv.UnreadCount = count
		}
		conversations = append(conversations, conv)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("conversations of %s: %w", userID, err)
	}
	return conversations, nil
}

// ResetUnread clears userID's unread count for otherUserID. Counter columns
// cannot be set, only deleted.
func (c *ConversationStore) ResetUnread(userID, otherUserID string) error {
	const q = `DELETE FROM conversation_counters WHERE user_id = ? AND other_user_id = ?`
	return c.session.Query(q, userID, otherUserID).Exec()
}
