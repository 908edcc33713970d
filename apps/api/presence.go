package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
)

type memberLister interface {
	Members(ctx context.Context, channelID string) ([]string, error)
}

type PresenceHandler struct {
	members memberLister
	logger  hclog.Logger
}

func NewPresenceHandler(members memberLister, logger hclog.Logger) *PresenceHandler {
	return &PresenceHandler{members: members, logger: logger.Named("presence")}
}

// ServeHTTP answers /channels/{id}/users.
func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 3 || pathParts[0] != "channels" || pathParts[1] == "" || pathParts[2] != "users" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}
	channelID := pathParts[1]

	users, err := h.members.Members(r.Context(), channelID)
	if err != nil {
		h.logger.Error("presence lookup failed", "channel", channelID, "error", err)
		http.Error(w, "Failed to fetch presence", http.StatusInternalServerError)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, users)
}
