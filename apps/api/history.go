package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/flakeid/pkg/auth"
	"github.com/mahaj/flakeid/pkg/db"
	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

type historyStore interface {
	History(channelID string, p db.Page) ([]model.Message, error)
}

// boundaries turns times into id cursors. *snowflake.Node satisfies it.
type boundaries interface {
	BoundaryID(t time.Time) (snowflake.ID, error)
}

type HistoryResponse struct {
	Messages []model.Message `json:"messages"`
	// Oldest and Newest are the cursors for the next page in either direction.
	Oldest snowflake.ID `json:"oldest,omitempty"`
	Newest snowflake.ID `json:"newest,omitempty"`
}

type HistoryHandler struct {
	store  historyStore
	bounds boundaries
	logger hclog.Logger
}

func NewHistoryHandler(store historyStore, bounds boundaries, logger hclog.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, bounds: bounds, logger: logger.Named("history")}
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channelID := q.Get("channel_id")
	if channelID == "" {
		channelID = "general"
	}
	if model.IsDM(channelID) {
		claims, ok := auth.ClaimsFrom(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, member := model.Peer(channelID, claims.UserID); !member {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	page, err := parsePage(q, h.bounds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	messages, err := h.store.History(channelID, page)
	if err != nil {
		h.logger.Error("history query failed", "channel", channelID, "error", err)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	resp := HistoryResponse{Messages: messages}
	if n := len(messages); n > 0 {
		resp.Newest, resp.Oldest = messages[0].ID, messages[n-1].ID
	}
	writeJSON(w, resp)
}

// parsePage reads the paging parameters of /history:
//
//	before, after  exclusive message id cursors
//	since, until   RFC 3339 times, converted to id cursors
//	limit          page size, at most db.MaxPageLimit
//
// When both an id and a time bound one side, the tighter one wins.
func parsePage(q url.Values, bounds boundaries) (db.Page, error) {
	var p db.Page
	var err error

	if p.Before, err = idParam(q, "before"); err != nil {
		return p, err
	}
	if p.After, err = idParam(q, "after"); err != nil {
		return p, err
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, fmt.Errorf("since: %w", err)
		}
		b, err := bounds.BoundaryID(t)
		switch {
		case errors.Is(err, snowflake.ErrBeforeEpoch):
			// every id is newer
		case err != nil:
			return p, fmt.Errorf("since: %w", err)
		case b > 0 && b-1 > p.After:
			p.After = b - 1
		}
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, fmt.Errorf("until: %w", err)
		}
		b, err := bounds.BoundaryID(t)
		switch {
		case errors.Is(err, snowflake.ErrCapacityExhausted):
			// every id is older
		case err != nil:
			return p, fmt.Errorf("until: %w", err)
		case b == 0:
			return p, errors.New("until: at or before the id epoch")
		case p.Before == 0 || b < p.Before:
			p.Before = b
		}
	}
	if p.Before != 0 && p.After != 0 && p.After >= p.Before-1 {
		return p, errors.New("empty range: after must be below before")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > db.MaxPageLimit {
			return p, fmt.Errorf("limit: want 1..%d", db.MaxPageLimit)
		}
		p.Limit = n
	}
	return p, nil
}

func idParam(q url.Values, key string) (snowflake.ID, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	id, err := snowflake.ParseString(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return id, nil
}

type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginHandler issues a token for any user id. A generator failure is an
// infrastructure fault and answers 503.
func LoginHandler(issuer *auth.Issuer, logger hclog.Logger) http.HandlerFunc {
	logger = logger.Named("login")
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		token, claims, err := issuer.GenerateToken(req.UserID)
		if err != nil {
			logger.Error("token not issued", "user", req.UserID, "error", err)
			status := http.StatusInternalServerError
			if isGeneratorFault(err) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, "Failed to generate token", status)
			return
		}
		logger.Info("token issued", "user", req.UserID, "jti", claims.ID)
		writeJSON(w, LoginResponse{Token: token, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time})
	}
}

func isGeneratorFault(err error) bool {
	for _, target := range []error{
		snowflake.ErrClockMovedBackwards,
		snowflake.ErrClockStalled,
		snowflake.ErrCapacityExhausted,
		snowflake.ErrBeforeEpoch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
