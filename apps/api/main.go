package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/flakeid/pkg/auth"
	"github.com/mahaj/flakeid/pkg/config"
	"github.com/mahaj/flakeid/pkg/db"
	"github.com/mahaj/flakeid/pkg/presence"
)

const tokenTTL = 24 * time.Hour

type apiDeps struct {
	issuer        *auth.Issuer
	bounds        boundaries
	history       historyStore
	members       memberLister
	conversations conversationStore
	logger        hclog.Logger
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routes wires the handlers. Everything but /login needs a token.
func routes(deps apiDeps) http.Handler {
	protected := func(h http.Handler) http.Handler {
		return CORSMiddleware(deps.issuer.Middleware(h))
	}
	mux := http.NewServeMux()
	mux.Handle("/login", CORSMiddleware(LoginHandler(deps.issuer, deps.logger)))
	mux.Handle("/history", protected(NewHistoryHandler(deps.history, deps.bounds, deps.logger)))
	mux.Handle("/channels/", protected(NewPresenceHandler(deps.members, deps.logger)))
	mux.Handle("/conversations", protected(ConversationsHandler(deps.conversations, deps.logger)))
	mux.Handle("/conversations/read", protected(ReadHandler(deps.conversations, deps.logger)))
	return mux
}

func main() {
	cfg, err := config.Load("api")
	if err != nil {
		os.Stderr.WriteString("api: " + err.Error() + "\n")
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

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		logger.Error("scylla connect failed", "keyspace", cfg.Keyspace, "error", err)
		os.Exit(1)
	}
	defer session.Close()

	rdb := presence.NewClient(cfg.RedisAddr)
	defer rdb.Close()

	handler := routes(apiDeps{
		issuer:        auth.NewIssuer(cfg.JWTSecret, node, tokenTTL),
		bounds:        node,
		history:       db.NewMessageStore(session),
		members:       presence.NewStore(rdb),
		conversations: db.NewConversationStore(session),
		logger:        logger,
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("api starting", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped", "ids_issued", node.Stats().Generated)
}
