package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/flakeid/pkg/auth"
	"github.com/mahaj/flakeid/pkg/config"
	"github.com/mahaj/flakeid/pkg/presence"
)

func main() {
	cfg, err := config.Load("gateway")
	if err != nil {
		os.Stderr.WriteString("gateway: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := cfg.Logger()

	if _, err := cfg.SetupMetrics(); err != nil {
		logger.Error("metrics setup failed", "error", err)
		os.Exit(1)
	}
	node, err := cfg.NewNode(logger)
	if err != nil {
		logger.Error("id generator setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := presence.NewClient(cfg.RedisAddr)
	defer rdb.Close()

	producer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.KafkaTopic,
		Balancer: &kafka.Hash{},
	}
	// Every gateway instance reads the whole topic, so each gets its own group.
	groupID := "gateway-" + uuid.NewString()
	fanout := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	hub := NewHub(producer, presence.NewStore(rdb), node, logger)
	go hub.Run(ctx)
	go hub.Consume(ctx, fanout)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, verifier, w, r)
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway starting", "addr", cfg.ListenAddr, "fanout_group", groupID)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped", "ids_issued", node.Stats().Generated)
}
