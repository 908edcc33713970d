package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/hashicorp/go-hclog"
)

type Session struct {
	*gocql.Session
	logger hclog.Logger
}

func NewSession(hosts []string, keyspace string, logger hclog.Logger) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla %v keyspace %s: %w", hosts, keyspace, err)
	}

	logger = logger.Named("scylla")
	logger.Info("connected", "hosts", hosts, "keyspace", keyspace)
	return &Session{Session: session, logger: logger}, nil
}

// EnsureKeyspace creates keyspace through a session on the system keyspace.
// Schema changes belong in migrations in production; local stacks rely on this.
func EnsureKeyspace(hosts []string, keyspace string, logger hclog.Logger) error {
	sys, err := NewSession(hosts, "system", logger)
	if err != nil {
		return err
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := sys.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// Message ids are snowflake IDs, so clustering on id orders a channel by
// creation time without a separate timestamp column in the key.
var schema = []struct {
	name string
	stmt string
}{
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		channel_id text,
		id bigint,
		user_id text,
		content text,
		timestamp timestamp,
		PRIMARY KEY (channel_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`},
	{"user_conversations", `CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		other_user_id text,
		last_message_id bigint,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`},
	{"conversation_counters", `CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		other_user_id text,
		unread_count counter,
		PRIMARY KEY (user_id, other_user_id)
	)`},
}

// EnsureSchema creates the tables the services use.
func (s *Session) EnsureSchema() error {
	for _, t := range schema {
		if err := s.Query(t.stmt).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		s.logger.Debug("table ready", "table", t.name)
	}
	return nil
}
