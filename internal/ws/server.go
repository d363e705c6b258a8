package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"agileflow/internal/mailer"
	"agileflow/internal/services/room"
	"agileflow/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second // must be < pongWait
	readLimit  = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // dev-only
	},
}

// wsError carries a message meant verbatim for the client.
type wsError string

func (e wsError) Error() string { return string(e) }

const (
	errInvalidRoomData   = wsError("Invalid room data")
	errInvalidJoinData   = wsError("Invalid join data")
	errRoomIDRequired    = wsError("Room ID is required")
	errInvalidPrediction = wsError("Invalid prediction data")
	errInvalidResults    = wsError("Invalid results data")
	errInvalidAction     = wsError("Invalid action data")
)

type WsServer struct {
	broker   *session.Broker
	router   *Router
	roomSvc  room.IRoomService
	notifier mailer.Notifier
}

func NewWsServer(broker *session.Broker, roomSvc room.IRoomService, notifier mailer.Notifier) *WsServer {
	srv := &WsServer{
		broker:   broker,
		router:   NewRouter(),
		roomSvc:  roomSvc,
		notifier: notifier,
	}
	srv.registerHandlers() // ← all WS events configured here
	return srv
}

// ---------------------------------------------------------------------------
//  Public: Gin entry-point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.upgrade", zap.Error(err))
		return
	}
	rawConn.SetReadLimit(readLimit)

	conn := &clientConn{rawConn: rawConn}
	go s.pinger(conn)
	go s.reader(conn)
}

// ---------------------------------------------------------------------------
//  Event handlers
// ---------------------------------------------------------------------------

func (s *WsServer) registerHandlers() {
	// 🔹 create_room ----------------------------------------------------------
	Register(s.router, "create_room",
		func(ctx context.Context, cc *ConnContext, req CreateRoomRequest) (*Reply, error) {
			if req.RoomType == "" {
				return nil, errInvalidRoomData
			}
			roomID, code, err := s.roomSvc.CreateRoom(ctx, req.RoomType)
			if err != nil {
				return nil, err
			}
			return &Reply{Event: "room_created", Body: RoomCreatedBody{RoomID: roomID, InviteCode: code}}, nil
		},
	)

	// 🔹 join_room ------------------------------------------------------------
	Register(s.router, "join_room",
		func(ctx context.Context, cc *ConnContext, req JoinRoomRequest) (*Reply, error) {
			if req.InviteCode == "" || req.Name == "" || req.Email == "" {
				return nil, errInvalidJoinData
			}
			// admission + user_list broadcast happen inside the broker
			_, err := s.broker.Join(ctx, cc.Conn, req.InviteCode, req.Name, req.Email)
			return nil, err
		},
	)

	// 🔹 leave_room -----------------------------------------------------------
	Register(s.router, "leave_room",
		func(ctx context.Context, cc *ConnContext, req LeaveRoomRequest) (*Reply, error) {
			if req.RoomID == "" {
				return nil, errRoomIDRequired
			}
			s.broker.Leave(cc.Conn, req.RoomID)
			return nil, nil
		},
	)

	// 🔹 submit_prediction ----------------------------------------------------
	Register(s.router, "submit_prediction",
		func(ctx context.Context, cc *ConnContext, req SubmitPredictionRequest) (*Reply, error) {
			if req.RoomID == "" || req.Role == "" || req.Prediction <= 0 {
				return nil, errInvalidPrediction
			}
			if err := s.roomSvc.SubmitPrediction(ctx, req.RoomID, req.Role, req.Prediction); err != nil {
				return nil, err
			}
			s.broker.BroadcastEvent(req.RoomID, "prediction_submitted",
				PredictionSubmittedBody{Role: req.Role, Prediction: req.Prediction})
			return nil, nil
		},
	)

	// 🔹 reset_session --------------------------------------------------------
	Register(s.router, "reset_session",
		func(ctx context.Context, cc *ConnContext, req ResetSessionRequest) (*Reply, error) {
			if req.RoomID == "" {
				return nil, errRoomIDRequired
			}
			s.broker.BroadcastEvent(req.RoomID, "session_reset", nil)
			return nil, nil
		},
	)

	// 🔹 reveal_results -------------------------------------------------------
	Register(s.router, "reveal_results",
		func(ctx context.Context, cc *ConnContext, req RevealResultsRequest) (*Reply, error) {
			if req.RoomID == "" {
				return nil, errRoomIDRequired
			}
			// a raw "null" still has bytes, treat it as absent
			if len(req.Predictions) == 0 || string(req.Predictions) == "null" {
				return nil, errInvalidResults
			}
			s.broker.BroadcastEvent(req.RoomID, "results_revealed", req.Predictions)
			return nil, nil
		},
	)

	// 🔹 create_action --------------------------------------------------------
	Register(s.router, "create_action",
		func(ctx context.Context, cc *ConnContext, req CreateActionRequest) (*Reply, error) {
			if req.RoomID == "" || req.UserName == "" || req.Description == "" {
				return nil, errInvalidAction
			}
			email, err := s.roomSvc.CreateAction(ctx, req.RoomID, req.UserName, req.Description)
			if err != nil {
				return nil, err
			}
			s.broker.BroadcastEvent(req.RoomID, "action_created", ActionCreatedBody{
				RoomID:      req.RoomID,
				UserName:    req.UserName,
				Description: req.Description,
			})
			s.notifyAsync(email, req.UserName, req.Description)
			return nil, nil
		},
	)
}

// notifyAsync fires the assignee email without blocking the event; failures
// are logged and swallowed, the caller already got its success.
func (s *WsServer) notifyAsync(email, userName, description string) {
	if s.notifier == nil {
		return
	}
	go func() {
		if err := s.notifier.SendActionNotification(email, userName, description); err != nil {
			zap.L().Warn("action_email_failed", zap.String("email", email), zap.Error(err))
		}
	}()
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) reader(conn *clientConn) {
	defer func() {
		s.broker.Disconnect(conn)
		_ = conn.Close()
	}()

	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cc := &ConnContext{Conn: conn, Server: s}

	for {
		var env Envelope
		if err := conn.rawConn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				zap.L().Debug("ws.read", zap.Error(err))
			}
			return // client closed or errored
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		reply, err := s.router.dispatch(ctx, cc, env)
		cancel()

		// ---- error -> {"event":"error", "body":{"message":...}} -------------
		if err != nil {
			_ = conn.WriteJSON(map[string]any{
				"event": "error",
				"body":  ErrorBody{Message: clientMessage(err)},
			})
			continue
		}
		if reply != nil {
			_ = conn.WriteJSON(map[string]any{"event": reply.Event, "body": reply.Body})
		}
	}
}

func (s *WsServer) pinger(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.write(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

// clientMessage maps internal errors onto the stable wire messages. Store
// failures stay generic on purpose.
func clientMessage(err error) string {
	var ce wsError
	if errors.As(err, &ce) {
		return string(ce)
	}
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, room.ErrInvalidPrediction):
		return "Invalid prediction data"
	case errors.Is(err, room.ErrAssigneeNotFound):
		return "Assigned user not found in the room"
	case errors.Is(err, room.ErrInvalidRoomType):
		return "Invalid room data"
	case errors.Is(err, errUnknownEvent):
		return "Unknown event"
	default:
		return "Internal server error"
	}
}
