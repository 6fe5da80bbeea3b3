package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AndreVianna/VTTTools-sub035/internal/domain"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestProgressReachesJobRoomOnly(t *testing.T) {
	hub, srv := startHub(t)
	jobID := uuid.New()
	subscriber := dial(t, srv, "?job="+jobID.String())
	bystander := dial(t, srv, "?job="+uuid.NewString())

	require.Eventually(t, func() bool {
		clients, rooms := hub.Stats()
		return clients == 2 && rooms[RoomFor(jobID)] == 1
	}, time.Second, 10*time.Millisecond)

	event := domain.ProgressEvent{JobID: jobID, ItemType: "ImageToken", ItemIndex: 2, ItemStatus: domain.JobItemStatusCompleted, CurrentItem: 3, TotalItems: 10}
	require.NoError(t, hub.Publish(context.Background(), event))

	_ = subscriber.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, subscriber.ReadJSON(&msg))
	assert.Equal(t, MessageTypeProgress, msg.Type)
	require.NotNil(t, msg.Progress)
	assert.Equal(t, event, *msg.Progress)

	_ = bystander.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := bystander.ReadMessage()
	assert.Error(t, err, "bystander should not receive another job's progress")
}

func TestJoinAndPing(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	jobID := uuid.New()

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeJoin, Room: RoomFor(jobID)}))
	require.Eventually(t, func() bool {
		_, rooms := hub.Stats()
		return rooms[RoomFor(jobID)] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypePong, msg.Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeLeave, Room: RoomFor(jobID)}))
	require.Eventually(t, func() bool {
		_, rooms := hub.Stats()
		return rooms[RoomFor(jobID)] == 0
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "?job="+uuid.NewString())
	require.Eventually(t, func() bool {
		clients, _ := hub.Stats()
		return clients == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		clients, rooms := hub.Stats()
		return clients == 0 && len(rooms) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWSRejectsInvalidJob(t *testing.T) {
	_, srv := startHub(t)
	resp, err := http.Get(srv.URL + "?job=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
