package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mahaj/flakeid/pkg/auth"
	"github.com/mahaj/flakeid/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Time allowed to publish one inbound message.
	publishTimeout = 5 * time.Second
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames. Only the hub closes it.
	send chan []byte

	// ID is the authenticated user.
	ID        string
	ChannelID string

	logger hclog.Logger
}

// readPump publishes every frame the peer sends. A frame that cannot be
// published is answered with an error frame to this client only.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read failed", "error", err)
			}
			break
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		msg := c.inbound(message)
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = c.hub.Publish(ctx, msg)
		cancel()
		if err != nil {
			c.logger.Error("message not published", "type", msg.Type, "error", err)
			c.reject("message not sent: " + err.Error())
		}
	}
}

// inbound builds a message from a peer frame: JSON with a type, or raw text
// taken as a chat message.
func (c *Client) inbound(frame []byte) *model.Message {
	var partial struct {
		Type    model.MessageType `json:"type"`
		Content string            `json:"content"`
	}
	msg := &model.Message{
		ChannelID: c.ChannelID,
		UserID:    c.ID,
		Timestamp: time.Now(),
	}
	if err := json.Unmarshal(frame, &partial); err == nil && partial.Type != "" && partial.Type != model.TypeError {
		msg.Type = partial.Type
		msg.Content = partial.Content
	} else {
		msg.Type = model.TypeMessage
		msg.Content = string(frame)
	}
	return msg
}

func (c *Client) reject(reason string) {
	frame, err := json.Marshal(&model.Message{
		ChannelID: c.ChannelID,
		UserID:    c.ID,
		Type:      model.TypeError,
		Content:   reason,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// writePump pumps messages from the hub to the websocket connection. Frames
// queued together go out in one websocket message, newline separated.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newline)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs authenticates the peer, checks DM membership and attaches the
// connection to the hub.
func serveWs(hub *Hub, verifier *auth.Verifier, w http.ResponseWriter, r *http.Request) {
	tokenString, err := auth.BearerToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := verifier.Validate(tokenString)
	if err != nil {
		hub.logger.Info("invalid token", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID

	channelID := r.URL.Query().Get("channel")
	if channelID == "" {
		channelID = "general"
	}
	if model.IsDM(channelID) {
		if _, _, err := model.ParseDMChannel(channelID); err != nil {
			http.Error(w, "Invalid DM channel format", http.StatusBadRequest)
			return
		}
		if _, ok := model.Peer(channelID, userID); !ok {
			http.Error(w, "Unauthorized to join this DM", http.StatusForbidden)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		ID:        userID,
		ChannelID: channelID,
		logger:    hub.logger.With("user", userID, "channel", channelID),
	}
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
