package ws

import "encoding/json"

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "join_room"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// ──────────────────────────── Request DTOs ───────────────────────────────────

// CreateRoomRequest is the body for "create_room".
type CreateRoomRequest struct {
	RoomType string `json:"room_type"`
}

// JoinRoomRequest is the body for "join_room".
type JoinRoomRequest struct {
	InviteCode string `json:"invite_code"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// LeaveRoomRequest is the body for "leave_room".
type LeaveRoomRequest struct {
	RoomID string `json:"room_id"`
}

// SubmitPredictionRequest is the body for "submit_prediction".
type SubmitPredictionRequest struct {
	RoomID     string  `json:"room_id"`
	Role       string  `json:"role"`
	Prediction float64 `json:"prediction"`
}

// ResetSessionRequest is the body for "reset_session".
type ResetSessionRequest struct {
	RoomID string `json:"room_id"`
}

// RevealResultsRequest is the body for "reveal_results". Predictions pass
// through untouched; the server only fans them out.
type RevealResultsRequest struct {
	RoomID      string          `json:"room_id"`
	Predictions json.RawMessage `json:"predictions"`
}

// CreateActionRequest is the body for "create_action".
type CreateActionRequest struct {
	RoomID      string `json:"room_id"`
	UserName    string `json:"user_name"`
	Description string `json:"description"`
}

// ──────────────────────────── Server-pushed bodies ───────────────────────────

// RoomCreatedBody answers a successful "create_room".
type RoomCreatedBody struct {
	RoomID     string `json:"room_id"`
	InviteCode string `json:"invite_code"`
}

// PredictionSubmittedBody is broadcast for every accepted prediction.
type PredictionSubmittedBody struct {
	Role       string  `json:"role"`
	Prediction float64 `json:"prediction"`
}

// ActionCreatedBody is broadcast for every accepted action item.
type ActionCreatedBody struct {
	RoomID      string `json:"room_id"`
	UserName    string `json:"user_name"`
	Description string `json:"description"`
}

// ErrorBody is sent on the failing connection only; the connection stays open.
type ErrorBody struct {
	Message string `json:"message"`
}
