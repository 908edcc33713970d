package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Page selects a slice of a channel's history by message id. Before and
// After are exclusive bounds; zero means unbounded.
type Page struct {
	Before snowflake.ID
	After  snowflake.ID
	Limit  int
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageLimit
	case p.Limit > MaxPageLimit:
		return MaxPageLimit
	}
	return p.Limit
}

// ascending reports whether the page is read oldest first. A page bounded
// only from below must start right after its cursor, not at the channel head.
func (p Page) ascending() bool {
	return p.After != 0 && p.Before == 0
}

type MessageStore struct {
	session *Session
}

func NewMessageStore(s *Session) *MessageStore {
	return &MessageStore{session: s}
}

func (m *MessageStore) Save(msg *model.Message) error {
	const q = `INSERT INTO messages (channel_id, id, user_id, content, timestamp) VALUES (?, ?, ?, ?, ?)`
	return m.session.Query(q, msg.ChannelID, msg.ID.Int64(), msg.UserID, msg.Content, msg.Timestamp).Exec()
}

// History returns up to p.Limit messages of channelID, newest first.
func (m *MessageStore) History(channelID string, p Page) ([]model.Message, error) {
	stmt, args := historyQuery(channelID, p)
	iter := m.session.Query(stmt, args...).Iter()

	messages := make([]model.Message, 0, p.limit())
	var (
		id        int64
		chID      string
		userID    string
		content   string
		timestamp time.Time
	)
	for iter.Scan(&chID, &id, &userID, &content, &timestamp) {
		messages = append(messages, model.Message{
			ID:        snowflake.ID(id),
			ChannelID: chID,
			UserID:    userID,
			Content:   content,
			Type:      model.TypeMessage,
			Timestamp: timestamp,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("history %s: %w", channelID, err)
	}
	if p.ascending() {
		reverse(messages)
	}
	return messages, nil
}

func historyQuery(channelID string, p Page) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString("SELECT channel_id, id, user_id, content, timestamp FROM messages WHERE channel_id = ?")
	args := []interface{}{channelID}
	if p.Before != 0 {
		sb.WriteString(" AND id < ?")
		args = append(args, p.Before.Int64())
	}
	if p.After != 0 {
		sb.WriteString(" AND id > ?")
		args = append(args, p.After.Int64())
	}
	if p.ascending() {
		sb.WriteString(" ORDER BY id ASC")
	}
	sb.WriteString(" LIMIT ?")
	args = append(args, p.limit())
	return sb.String(), args
}

func reverse(ms []model.Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
