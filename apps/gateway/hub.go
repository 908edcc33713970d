package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

// IDSource stamps outgoing messages. *snowflake.Node satisfies it.
type IDSource interface {
	Generate() (snowflake.ID, error)
}

type publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type fanoutReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type presenceTracker interface {
	Join(ctx context.Context, channelID, userID string) error
	Leave(ctx context.Context, channelID, userID string) error
}

type Hub struct {
	clients     map[string]map[*Client]bool // channel_id -> clients
	userClients map[string]map[*Client]bool // user_id -> clients, for DM routing
	register    chan *Client
	unregister  chan *Client
	done        chan struct{} // closed when Run returns
	mu          sync.RWMutex

	producer publisher
	presence presenceTracker
	ids      IDSource
	logger   hclog.Logger
}

func NewHub(producer publisher, presence presenceTracker, ids IDSource, logger hclog.Logger) *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		userClients: make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		producer:    producer,
		presence:    presence,
		ids:         ids,
		logger:      logger.Named("hub"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.producer.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.add(client)
			if err := h.presence.Join(ctx, client.ChannelID, client.ID); err != nil {
				h.logger.Error("set presence", "user", client.ID, "channel", client.ChannelID, "error", err)
			}
			h.logger.Info("client registered", "user", client.ID, "channel", client.ChannelID)
			go h.announce(ctx, client, "joined")

		case client := <-h.unregister:
			if !h.remove(client) {
				continue
			}
			if err := h.presence.Leave(ctx, client.ChannelID, client.ID); err != nil {
				h.logger.Error("delete presence", "user", client.ID, "channel", client.ChannelID, "error", err)
			}
			h.logger.Info("client unregistered", "user", client.ID, "channel", client.ChannelID)
			go h.announce(ctx, client, "left")
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.ChannelID] == nil {
		h.clients[c.ChannelID] = make(map[*Client]bool)
	}
	h.clients[c.ChannelID][c] = true
	if h.userClients[c.ID] == nil {
		h.userClients[c.ID] = make(map[*Client]bool)
	}
	h.userClients[c.ID][c] = true
}

// remove drops c and closes its send channel. It reports false if c was not
// registered.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[c.ChannelID]
	if !ok || !clients[c] {
		return false
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.clients, c.ChannelID)
	}
	if byUser := h.userClients[c.ID]; byUser != nil {
		delete(byUser, c)
		if len(byUser) == 0 {
			delete(h.userClients, c.ID)
		}
	}
	close(c.send)
	return true
}

func (h *Hub) announce(ctx context.Context, c *Client, what string) {
	err := h.Publish(ctx, &model.Message{
		ChannelID: c.ChannelID,
		UserID:    c.ID,
		Type:      model.TypePresence,
		Content:   what,
	})
	if err != nil {
		h.logger.Warn("presence event not published", "user", c.ID, "channel", c.ChannelID, "event", what, "error", err)
	}
}

// Publish stamps msg with an id and a timestamp if it has none and writes it
// to Kafka keyed by channel, so one channel stays on one partition in id
// order. If no id can be issued nothing is written.
func (h *Hub) Publish(ctx context.Context, msg *model.Message) error {
	if msg.ID == 0 {
		id, err := h.ids.Generate()
		if err != nil {
			metrics.IncrCounter([]string{"gateway", "id_failed"}, 1)
			return fmt.Errorf("assign message id: %w", err)
		}
		msg.ID = id
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	err = h.producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ChannelID),
		Value: value,
		Time:  msg.Timestamp,
	})
	if err != nil {
		metrics.IncrCounter([]string{"gateway", "publish_failed"}, 1)
		return fmt.Errorf("publish message %s: %w", msg.ID, err)
	}
	metrics.IncrCounter([]string{"gateway", "published"}, 1)
	h.logger.Debug("message published", "id", msg.ID, "channel", msg.ChannelID, "type", msg.Type)
	return nil
}

// Consume fans messages from Kafka out to the local clients until the reader
// fails or ctx is done.
func (h *Hub) Consume(ctx context.Context, reader fanoutReader) {
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.logger.Error("fan-out reader stopped", "error", err)
			}
			return
		}
		h.Deliver(m.Value)
	}
}

// Deliver routes one published message. DM messages go to every connection
// of both participants whatever channel they joined; others go to the
// channel's clients. A client whose buffer is full misses the frame.
func (h *Hub) Deliver(value []byte) {
	var msg model.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		h.logger.Warn("undecodable message from kafka", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if model.IsDM(msg.ChannelID) {
		a, b, err := model.ParseDMChannel(msg.ChannelID)
		if err != nil {
			h.logger.Warn("bad dm channel", "channel", msg.ChannelID, "id", msg.ID)
			return
		}
		for _, userID := range []string{a, b} {
			h.sendAll(h.userClients[userID], value, msg.ID)
		}
		return
	}
	h.sendAll(h.clients[msg.ChannelID], value, msg.ID)
}

func (h *Hub) sendAll(clients map[*Client]bool, value []byte, id snowflake.ID) {
	for client := range clients {
		select {
		case client.send <- value:
		default:
			metrics.IncrCounter([]string{"gateway", "dropped"}, 1)
			h.logger.Warn("client buffer full, frame dropped", "user", client.ID, "id", id)
		}
	}
}
