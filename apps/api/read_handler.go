package main

import (
	"encoding/json"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/flakeid/pkg/auth"
)

type ReadRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// ReadHandler marks the caller's conversation with other_user_id as read.
func ReadHandler(store conversationStore, logger hclog.Logger) http.HandlerFunc {
	logger = logger.Named("read")
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		claims, ok := auth.ClaimsFrom(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req ReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OtherUserID == "" {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if err := store.ResetUnread(claims.UserID, req.OtherUserID); err != nil {
			logger.Error("reset unread failed", "user", claims.UserID, "other", req.OtherUserID, "error", err)
			http.Error(w, "Failed to reset unread count", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
