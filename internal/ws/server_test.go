package ws

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tberthier/minstrel/internal/fanout"
	"github.com/tberthier/minstrel/internal/status"
)

type fakeHub struct {
	mu           sync.Mutex
	subscribeErr error
	snap         *status.Snapshot
	subscribed   []string
	userAtSub    string
	unsubscribed []string
	disconnected []string
}

func (h *fakeHub) Subscribe(sess fanout.Session, taskID, token string) (*status.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribeErr != nil {
		return nil, h.subscribeErr
	}
	h.subscribed = append(h.subscribed, taskID)
	h.userAtSub = sess.UserID()
	if h.snap != nil {
		return h.snap, nil
	}
	return &status.Snapshot{TaskID: taskID, Status: status.StatusQueued}, nil
}

func (h *fakeHub) Unsubscribe(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribed = append(h.unsubscribed, sessionID)
}

func (h *fakeHub) Disconnect(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, sessionID)
}

func (h *fakeHub) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnected)
}

func (h *fakeHub) unsubscribeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.unsubscribed)
}

func (h *fakeHub) subscribedUser() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userAtSub
}

type fakeVerifier struct {
	users map[string]string
}

func (v *fakeVerifier) VerifyToken(token string) (string, error) {
	if uid, ok := v.users[token]; ok {
		return uid, nil
	}
	return "", errors.New("invalid token")
}

func dialTestServer(t *testing.T, hub *fakeHub, query string) *websocket.Conn {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := &fakeVerifier{users: map[string]string{"tok-alice": "alice"}}

	r := chi.NewRouter()
	NewServer(hub, verifier, nil, logger).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) (MessageType, json.RawMessage) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    MessageType     `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg.Type, msg.Payload
}

func sendFrame(t *testing.T, conn *websocket.Conn, evt Event) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(evt))
}

func TestSubscribe_AckThenCatchUp(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{snap: &status.Snapshot{TaskID: "T1", Status: status.StatusProcessing, Progress: 55}}
	conn := dialTestServer(t, hub, "")

	sendFrame(t, conn, Event{Kind: EventSubscribe, TaskID: "T1", Token: "tok-alice"})

	typ, payload := readFrame(t, conn)
	require.Equal(t, MsgSubscribed, typ)
	var ack SubscribedPayload
	require.NoError(t, json.Unmarshal(payload, &ack))
	assert.Equal(t, "T1", ack.TaskID)

	typ, payload = readFrame(t, conn)
	require.Equal(t, MsgSongStatus, typ)
	var st StatusPayload
	require.NoError(t, json.Unmarshal(payload, &st))
	assert.Equal(t, "T1", st.TaskID)
	assert.Equal(t, "processing", st.Status)
	assert.Equal(t, 55, st.Progress)
}

func TestSubscribe_MissingTaskID(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	conn := dialTestServer(t, hub, "")

	sendFrame(t, conn, Event{Kind: EventSubscribe, Token: "tok-alice"})

	typ, payload := readFrame(t, conn)
	require.Equal(t, MsgError, typ)
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &e))
	assert.Equal(t, CodeMissingTaskID, e.Code)
}

func TestSubscribe_AuthRequired(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{subscribeErr: fanout.ErrAuthRequired}
	conn := dialTestServer(t, hub, "")

	sendFrame(t, conn, Event{Kind: EventSubscribe, TaskID: "T1"})

	typ, payload := readFrame(t, conn)
	require.Equal(t, MsgError, typ)
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &e))
	assert.Equal(t, CodeAuthRequired, e.Code)
}

func TestSubscribe_Forbidden(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{subscribeErr: fanout.ErrForbidden}
	conn := dialTestServer(t, hub, "")

	sendFrame(t, conn, Event{Kind: EventSubscribe, TaskID: "T1", Token: "tok-alice"})

	typ, payload := readFrame(t, conn)
	require.Equal(t, MsgError, typ)
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &e))
	assert.Equal(t, CodeForbidden, e.Code)
}

func TestPing_Pong(t *testing.T) {
	t.Parallel()

	conn := dialTestServer(t, &fakeHub{}, "")

	sendFrame(t, conn, Event{Kind: EventPing})

	typ, _ := readFrame(t, conn)
	assert.Equal(t, MsgPong, typ)
}

func TestUnsubscribe_ForwardsToHub(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	conn := dialTestServer(t, hub, "")

	sendFrame(t, conn, Event{Kind: EventUnsubscribe})

	require.Eventually(t, func() bool {
		return hub.unsubscribeCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueryToken_BindsUserBeforeSubscribe(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	conn := dialTestServer(t, hub, "?token=tok-alice")

	sendFrame(t, conn, Event{Kind: EventSubscribe, TaskID: "T1"})

	typ, _ := readFrame(t, conn)
	require.Equal(t, MsgSubscribed, typ)
	assert.Equal(t, "alice", hub.subscribedUser())
}

func TestUnknownAndMalformedFramesIgnored(t *testing.T) {
	t.Parallel()

	conn := dialTestServer(t, &fakeHub{}, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	sendFrame(t, conn, Event{Kind: "warble"})
	sendFrame(t, conn, Event{Kind: EventPing})

	// The connection survives both bad frames.
	typ, _ := readFrame(t, conn)
	assert.Equal(t, MsgPong, typ)
}

func TestDisconnect_ReleasesSession(t *testing.T) {
	t.Parallel()

	hub := &fakeHub{}
	conn := dialTestServer(t, hub, "")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return hub.disconnectCount() == 1
	}, time.Second, 5*time.Millisecond)
}
