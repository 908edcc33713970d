package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-metrics"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/flakeid/pkg/model"
)

type messageSink interface {
	Save(msg *model.Message) error
}

type conversationSink interface {
	RecordDM(msg *model.Message) error
}

type Consumer struct {
	reader        *kafka.Reader
	messages      messageSink
	conversations conversationSink
	logger        hclog.Logger
}

func NewConsumer(brokers []string, topic, groupID string, messages messageSink, conversations conversationSink, logger hclog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, messages: messages, conversations: conversations, logger: logger.Named("consumer")}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("read failed, retrying in 1s", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if err := c.handle(m.Value); err != nil {
			metrics.IncrCounter([]string{"messaging", "failed"}, 1)
			c.logger.Error("message not persisted", "partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

// handle persists one published message. Ephemeral types are skipped. A
// message without an id never went through a gateway generator and is
// refused rather than stored under id 0.
func (c *Consumer) handle(value []byte) error {
	var msg model.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if !msg.Persistent() {
		c.logger.Trace("skipping ephemeral message", "type", msg.Type, "id", msg.ID)
		return nil
	}
	if msg.ID == 0 {
		return fmt.Errorf("message in %s from %s has no id", msg.ChannelID, msg.UserID)
	}

	if err := c.messages.Save(&msg); err != nil {
		return fmt.Errorf("save %s: %w", msg.ID, err)
	}
	metrics.IncrCounter([]string{"messaging", "saved"}, 1)
	c.logger.Debug("message saved", "id", msg.ID, "channel", msg.ChannelID)

	if model.IsDM(msg.ChannelID) {
		if err := c.conversations.RecordDM(&msg); err != nil {
			return fmt.Errorf("dm state for %s: %w", msg.ID, err)
		}
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
