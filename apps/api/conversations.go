package main

import (
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/flakeid/pkg/auth"
	"github.com/mahaj/flakeid/pkg/db"
)

type conversationStore interface {
	Conversations(userID string) ([]db.Conversation, error)
	ResetUnread(userID, otherUserID string) error
}

func ConversationsHandler(store conversationStore, logger hclog.Logger) http.HandlerFunc {
	logger = logger.Named("conversations")
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFrom(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		conversations, err := store.Conversations(claims.UserID)
		if err != nil {
			logger.Error("conversations query failed", "user", claims.UserID, "error", err)
			http.Error(w, "Failed to retrieve conversations", http.StatusInternalServerError)
			return
		}
		writeJSON(w, conversations)
	}
}
