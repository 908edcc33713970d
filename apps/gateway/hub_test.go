package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/flakeid/pkg/auth"
	"github.com/mahaj/flakeid/pkg/model"
	"github.com/mahaj/flakeid/pkg/snowflake"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (p *fakePublisher) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]kafka.Message(nil), p.msgs...)
}

type fakePresence struct{}

func (fakePresence) Join(ctx context.Context, channelID, userID string) error  { return nil }
func (fakePresence) Leave(ctx context.Context, channelID, userID string) error { return nil }

type failingIDs struct{}

func (failingIDs) Generate() (snowflake.ID, error) {
	return 0, snowflake.ErrClockStalled
}

func newTestHub(t *testing.T, ids IDSource) (*Hub, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	return NewHub(pub, fakePresence{}, ids, hclog.NewNullLogger()), pub
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func TestHub_PublishStampsID(t *testing.T) {
	node := testNode(t)
	hub, pub := newTestHub(t, node)

	var last snowflake.ID
	for i := 0; i < 100; i++ {
		msg := &model.Message{ChannelID: "general", UserID: "alice", Type: model.TypeMessage, Content: "hi"}
		require.NoError(t, hub.Publish(context.Background(), msg))
		require.Greater(t, msg.ID.Int64(), last.Int64())
		assert.False(t, msg.Timestamp.IsZero())
		last = msg.ID
	}

	out := pub.published()
	require.Len(t, out, 100)
	assert.Equal(t, []byte("general"), out[0].Key)

	var decoded model.Message
	require.NoError(t, json.Unmarshal(out[99].Value, &decoded))
	assert.Equal(t, last, decoded.ID)
	assert.Equal(t, int64(1), node.Decompose(decoded.ID).Node)
}

func TestHub_PublishKeepsExistingID(t *testing.T) {
	hub, pub := newTestHub(t, failingIDs{})
	msg := &model.Message{ID: 42, ChannelID: "general", Type: model.TypeMessage}
	require.NoError(t, hub.Publish(context.Background(), msg))
	assert.Equal(t, snowflake.ID(42), msg.ID)
	assert.Len(t, pub.published(), 1)
}

func TestHub_PublishGeneratorFailure(t *testing.T) {
	hub, pub := newTestHub(t, failingIDs{})
	msg := &model.Message{ChannelID: "general", UserID: "alice", Type: model.TypeMessage}
	err := hub.Publish(context.Background(), msg)
	assert.ErrorIs(t, err, snowflake.ErrClockStalled)
	assert.Zero(t, msg.ID)
	assert.Empty(t, pub.published())
}

func TestHub_Deliver(t *testing.T) {
	hub, _ := newTestHub(t, testNode(t))
	mk := func(user, channel string) *Client {
		return &Client{ID: user, ChannelID: channel, send: make(chan []byte, 1)}
	}
	aliceGeneral := mk("alice", "general")
	bobRandom := mk("bob", "random")
	carolGeneral := mk("carol", "general")
	for _, c := range []*Client{aliceGeneral, bobRandom, carolGeneral} {
		hub.add(c)
	}

	frame, err := json.Marshal(&model.Message{ID: 1, ChannelID: "general", Type: model.TypeMessage})
	require.NoError(t, err)
	hub.Deliver(frame)
	assert.Len(t, aliceGeneral.send, 1)
	assert.Len(t, carolGeneral.send, 1)
	assert.Len(t, bobRandom.send, 0)
	<-aliceGeneral.send
	<-carolGeneral.send

	dm, err := json.Marshal(&model.Message{ID: 2, ChannelID: model.DMChannel("alice", "bob"), Type: model.TypeMessage})
	require.NoError(t, err)
	hub.Deliver(dm)
	assert.Len(t, aliceGeneral.send, 1)
	assert.Len(t, bobRandom.send, 1)
	assert.Len(t, carolGeneral.send, 0)

	// Full buffers drop the frame and keep the client registered.
	hub.Deliver(dm)
	assert.Len(t, aliceGeneral.send, 1)
	assert.True(t, hub.remove(aliceGeneral))
	assert.False(t, hub.remove(aliceGeneral))
	_, open := <-aliceGeneral.send
	assert.True(t, open)
	_, open = <-aliceGeneral.send
	assert.False(t, open)
}

func TestServeWs(t *testing.T) {
	key := []byte("k")
	issuer := auth.NewIssuer(key, testNode(t), time.Hour)
	token, _, err := issuer.GenerateToken("alice")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub, pub := newTestHub(t, failingIDs{})
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveWs(hub, auth.NewVerifier(key), w, r)
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	t.Run("rejects missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects foreign dm", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws?channel=dm:bob:carol&token="+token, nil)
		require.Error(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("generator failure yields error frame", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?token="+token, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg model.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		assert.Equal(t, model.TypeError, msg.Type)
		assert.Zero(t, msg.ID)
		assert.Contains(t, msg.Content, "clock did not advance")
		assert.Empty(t, pub.published())
	})
}
