package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agileflow/internal/mailer"
	"agileflow/internal/services/room"
	"agileflow/internal/session"
)

// stubRoomService backs the event-stream tests without a database.
type stubRoomService struct {
	room.IRoomService
}

func (s *stubRoomService) CreateRoom(_ context.Context, roomType string) (string, string, error) {
	if roomType != room.RoomTypeRefinement && roomType != room.RoomTypeRetro {
		return "", "", room.ErrInvalidRoomType
	}
	return "room-9", "abc999", nil
}

func (s *stubRoomService) ResolveInviteCode(_ context.Context, code string) (string, error) {
	if code == "abc123" {
		return "room-1", nil
	}
	return "", room.ErrRoomNotFound
}

func (s *stubRoomService) RecordMembership(_ context.Context, _, _, _ string) error { return nil }

func (s *stubRoomService) SubmitPrediction(_ context.Context, roomID, role string, value float64) error {
	if roomID == "" || role == "" || value <= 0 {
		return room.ErrInvalidPrediction
	}
	return nil
}

func (s *stubRoomService) CreateAction(_ context.Context, _, userName, _ string) (string, error) {
	if userName == "Alice" {
		return "a@x.com", nil
	}
	return "", room.ErrAssigneeNotFound
}

type fakeNotifier struct {
	sent chan string
}

func (n *fakeNotifier) SendActionNotification(email, _, _ string) error {
	n.sent <- email
	return nil
}

type frame struct {
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body"`
}

func dialTestServer(t *testing.T, notifier *fakeNotifier) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := &stubRoomService{}
	broker := session.NewBroker(svc, time.Second)
	var n mailer.Notifier
	if notifier != nil {
		n = notifier
	}
	srv := NewWsServer(broker, svc, n)

	engine := gin.New()
	engine.GET("/ws", srv.Handle)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, body any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Body: raw}))
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func expectError(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, "error", f.Event)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(f.Body, &body))
	assert.Equal(t, message, body.Message)
}

func TestCreateRoomEvent(t *testing.T) {
	conn := dialTestServer(t, nil)

	emit(t, conn, "create_room", CreateRoomRequest{})
	expectError(t, conn, "Invalid room data")

	emit(t, conn, "create_room", CreateRoomRequest{RoomType: "standup"})
	expectError(t, conn, "Invalid room data")

	emit(t, conn, "create_room", CreateRoomRequest{RoomType: "refinement"})
	f := readFrame(t, conn)
	require.Equal(t, "room_created", f.Event)
	var body RoomCreatedBody
	require.NoError(t, json.Unmarshal(f.Body, &body))
	assert.Equal(t, "room-9", body.RoomID)
	assert.Equal(t, "abc999", body.InviteCode)
}

func TestJoinRoomEvent(t *testing.T) {
	conn := dialTestServer(t, nil)

	emit(t, conn, "join_room", JoinRoomRequest{InviteCode: "abc123"})
	expectError(t, conn, "Invalid join data")

	emit(t, conn, "join_room", JoinRoomRequest{InviteCode: "bad", Name: "Alice", Email: "a@x.com"})
	expectError(t, conn, "Room not found")

	emit(t, conn, "join_room", JoinRoomRequest{InviteCode: "abc123", Name: "Alice", Email: "a@x.com"})
	f := readFrame(t, conn)
	require.Equal(t, "user_list", f.Event)
	var list []session.Participant
	require.NoError(t, json.Unmarshal(f.Body, &list))
	assert.Equal(t, []session.Participant{{Name: "Alice", Email: "a@x.com"}}, list)
}

func TestLeaveRoomRequiresRoomID(t *testing.T) {
	conn := dialTestServer(t, nil)

	emit(t, conn, "leave_room", LeaveRoomRequest{})
	expectError(t, conn, "Room ID is required")
}

func TestSubmitPredictionEvent(t *testing.T) {
	conn := dialTestServer(t, nil)

	emit(t, conn, "submit_prediction", SubmitPredictionRequest{RoomID: "room-1", Role: "dev", Prediction: -1})
	expectError(t, conn, "Invalid prediction data")

	emit(t, conn, "join_room", JoinRoomRequest{InviteCode: "abc123", Name: "Alice", Email: "a@x.com"})
	_ = readFrame(t, conn) // user_list

	emit(t, conn, "submit_prediction", SubmitPredictionRequest{RoomID: "room-1", Role: "dev", Prediction: 5})
	f := readFrame(t, conn)
	require.Equal(t, "prediction_submitted", f.Event)
	var body PredictionSubmittedBody
	require.NoError(t, json.Unmarshal(f.Body, &body))
	assert.Equal(t, PredictionSubmittedBody{Role: "dev", Prediction: 5}, body)
}

func TestResetSessionEvent(t *testing.T) {
	conn := dialTestServer(t, nil)

	emit(t, conn, "reset_session", ResetSessionRequest{})
	expectError(t, conn, "Room ID is required")

	emit(t, conn, "join_room", JoinRoomRequest{InviteCode: "abc123", Name: "Alice", Email: "a@x.com"})
	_ = readFrame(t, conn) // user_list

	emit(t, conn, "reset_session", ResetSessionRequest{RoomID: "room-1"})
	f := readFrame(t, conn)
	assert.Equal(t, "session_reset", f.Event)
}

func TestRevealResultsEvent(t *testing.T) {
	conn := dialTestServer(t, nil)

	emit(t, conn, "reveal_results", RevealResultsRequest{RoomID: "room-1"})
	expectError(t, conn, "Invalid results data")

	emit(t, conn, "reveal_results", json.RawMessage(`{"room_id":"room-1","predictions":null}`))
	expectError(t, conn, "Invalid results data")

	emit(t, conn, "join_room", JoinRoomRequest{InviteCode: "abc123", Name: "Alice", Email: "a@x.com"})
	_ = readFrame(t, conn) // user_list

	predictions := json.RawMessage(`[{"user":"User A","role":"dev","prediction":5}]`)
	emit(t, conn, "reveal_results", RevealResultsRequest{RoomID: "room-1", Predictions: predictions})
	f := readFrame(t, conn)
	require.Equal(t, "results_revealed", f.Event)
	assert.JSONEq(t, string(predictions), string(f.Body))
}

func TestCreateActionEvent(t *testing.T) {
	notifier := &fakeNotifier{sent: make(chan string, 1)}
	conn := dialTestServer(t, notifier)

	emit(t, conn, "create_action", CreateActionRequest{RoomID: "room-1", Description: "missing name"})
	expectError(t, conn, "Invalid action data")

	emit(t, conn, "join_room", JoinRoomRequest{InviteCode: "abc123", Name: "Alice", Email: "a@x.com"})
	_ = readFrame(t, conn) // user_list

	emit(t, conn, "create_action", CreateActionRequest{RoomID: "room-1", UserName: "Ghost", Description: "x"})
	expectError(t, conn, "Assigned user not found in the room")

	emit(t, conn, "create_action", CreateActionRequest{RoomID: "room-1", UserName: "Alice", Description: "Test action"})
	f := readFrame(t, conn)
	require.Equal(t, "action_created", f.Event)
	var body ActionCreatedBody
	require.NoError(t, json.Unmarshal(f.Body, &body))
	assert.Equal(t, ActionCreatedBody{RoomID: "room-1", UserName: "Alice", Description: "Test action"}, body)

	select {
	case email := <-notifier.sent:
		assert.Equal(t, "a@x.com", email)
	case <-time.After(2 * time.Second):
		t.Fatal("assignee notification never sent")
	}
}

func TestUnknownEvent(t *testing.T) {
	conn := dialTestServer(t, nil)

	emit(t, conn, "no_such_event", struct{}{})
	expectError(t, conn, "Unknown event")
}
