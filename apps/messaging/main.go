package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mahaj/flakeid/pkg/config"
	"github.com/mahaj/flakeid/pkg/db"
)

func main() {
	cfg, err := config.Load("messaging")
	if err != nil {
		os.Stderr.WriteString("messaging: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := cfg.Logger()
	if _, err := cfg.SetupMetrics(); err != nil {
		logger.Error("metrics setup failed", "error", err)
		os.Exit(1)
	}

	if err := db.EnsureKeyspace(cfg.ScyllaHosts, cfg.Keyspace, logger); err != nil {
		logger.Error("keyspace setup failed", "error", err)
		os.Exit(1)
	}
	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		logger.Error("scylla connect failed", "keyspace", cfg.Keyspace, "error", err)
		os.Exit(1)
	}
	defer session.Close()
	if err := session.EnsureSchema(); err != nil {
		logger.Error("schema setup failed", "error", err)
		os.Exit(1)
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID,
		db.NewMessageStore(session), db.NewConversationStore(session), logger)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("consuming", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroupID)
	consumer.Consume(ctx)
	logger.Info("messaging stopped")
}
