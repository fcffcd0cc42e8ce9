package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-app/covenant/internal/auth"
)

type fixedState struct{ locked map[string]string }

func (s fixedState) Snapshot(_ context.Context, resourceType, resourceID string) Event {
	holder, ok := s.locked[resourceType+"/"+resourceID]
	return Event{ResourceType: resourceType, ResourceID: resourceID, IsLocked: ok, LockedBy: holder}
}

// linkedOnly admits subscriptions to the member record a principal is linked to.
type linkedOnly struct{}

func (linkedOnly) CanWatch(p auth.Principal, resourceType, resourceID string) bool {
	return resourceType == "member" && resourceID == p.LinkedResourceID
}

var socketPrincipal = auth.Principal{ID: "u1", Role: "staff", LinkedResourceID: "m1"}

func dialSocket(t *testing.T, h *SocketHandler) *websocket.Conn {
	t.Helper()
	return dialSocketAs(t, h, socketPrincipal)
}

func dialSocketAs(t *testing.T, h *SocketHandler, p auth.Principal) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), p)))
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func TestSocketSubscribeSendsSnapshotThenEvents(t *testing.T) {
	hub := NewHub(8, nil)
	h := NewSocketHandler(hub, fixedState{locked: map[string]string{"member/m1": "A"}}, linkedOnly{}, nil)
	conn := dialSocket(t, h)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "resourceType": "member", "resourceId": "m1"}))

	var snapshot Message
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "lock-update:member:m1", snapshot.Event)
	assert.Equal(t, Payload{IsLocked: true, LockedBy: "A"}, snapshot.Data)

	hub.Deliver(Event{ResourceType: "member", ResourceID: "m1", IsLocked: false})
	var update Message
	require.NoError(t, conn.ReadJSON(&update))
	assert.False(t, update.Data.IsLocked)
	assert.Empty(t, update.Data.LockedBy)
}

func TestSocketRejectsInvalidFrame(t *testing.T) {
	hub := NewHub(8, nil)
	conn := dialSocket(t, NewSocketHandler(hub, nil, linkedOnly{}, nil))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "explode", "resourceType": "member", "resourceId": "m1"}))
	var frame errorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "invalid frame", frame.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "invalid frame", frame.Error)
}

func TestSocketUnsubscribeStopsEvents(t *testing.T) {
	hub := NewHub(8, nil)
	conn := dialSocket(t, NewSocketHandler(hub, nil, linkedOnly{}, nil))
	topic := "lock-update:member:m1"

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "resourceType": "member", "resourceId": "m1"}))
	require.Eventually(t, func() bool { return hub.Subscribers(topic) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "unsubscribe", "resourceType": "member", "resourceId": "m1"}))
	require.Eventually(t, func() bool { return hub.Subscribers(topic) == 0 }, time.Second, 10*time.Millisecond)
}

func TestSocketRejectsEmptyAndTruncatedFrames(t *testing.T) {
	hub := NewHub(8, nil)
	conn := dialSocket(t, NewSocketHandler(hub, nil, linkedOnly{}, nil))

	for _, raw := range []string{"", `{"action":`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
		var frame errorFrame
		require.NoError(t, conn.ReadJSON(&frame), "frame %q", raw)
		assert.Equal(t, "invalid frame", frame.Error)
	}

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "resourceType": "member", "resourceId": "m1"}))
	require.Eventually(t, func() bool { return hub.Subscribers("lock-update:member:m1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestSocketRefusesUnauthorizedSubscription(t *testing.T) {
	hub := NewHub(8, nil)
	h := NewSocketHandler(hub, fixedState{locked: map[string]string{"member/m2": "A"}}, linkedOnly{}, nil)
	viewer := auth.Principal{ID: "u9", Role: "viewer", LinkedResourceID: "m1"}
	conn := dialSocketAs(t, h, viewer)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "resourceType": "member", "resourceId": "m2"}))
	var frame errorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, errorFrame{Error: "permission denied", Code: "FORBIDDEN", Required: "locks:read"}, frame)
	assert.Zero(t, hub.Subscribers("lock-update:member:m2"))

	hub.Deliver(Event{ResourceType: "member", ResourceID: "m2", IsLocked: true, LockedBy: "A"})
	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "resourceType": "member", "resourceId": "m1"}))
	var snapshot Message
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "lock-update:member:m1", snapshot.Event)
	assert.False(t, snapshot.Data.IsLocked)
}

func TestSocketNilAuthorizerRefusesAll(t *testing.T) {
	hub := NewHub(8, nil)
	conn := dialSocket(t, NewSocketHandler(hub, nil, nil, nil))

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "resourceType": "member", "resourceId": "m1"}))
	var frame errorFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "FORBIDDEN", frame.Code)
	assert.Zero(t, hub.Subscribers("lock-update:member:m1"))
}

func TestSocketRequiresPrincipal(t *testing.T) {
	srv := httptest.NewServer(NewSocketHandler(NewHub(8, nil), nil, linkedOnly{}, nil))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
