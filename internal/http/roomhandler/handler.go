package roomhandler

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agileflow/internal/mailer"
	"agileflow/internal/services/room"
	"agileflow/internal/session"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Handler struct {
	svc      room.IRoomService
	broker   *session.Broker
	notifier mailer.Notifier
}

func New(svc room.IRoomService, broker *session.Broker, notifier mailer.Notifier) *Handler {
	return &Handler{svc: svc, broker: broker, notifier: notifier}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/refinement/create/room", h.createRoom(room.RoomTypeRefinement))
	r.POST("/refinement/join/room", h.joinRoom)
	r.POST("/refinement/prediction/submit", h.submitPrediction)
	r.GET("/refinement/get/predictions", h.getPredictions)

	r.POST("/retro/create/room", h.createRoom(room.RoomTypeRetro))
	r.POST("/retro/join/room", h.joinRoom)
	r.POST("/retro/new/comment", h.newComment)
	r.POST("/retro/create/action", h.createAction)

	r.GET("/room/:id", h.roomInfo)
}

// @Summary		Get room details
// @Description	Returns full information about a single room.
// @Tags			Rooms
// @Param			id	path		string	true	"Room ID"
// @Success		200	{object}	room.RoomDTO
// @Failure		404	{object}	FailureResponse
// @Router			/room/{id} [get]
func (h *Handler) roomInfo(c *gin.Context) {
	dto, err := h.svc.GetRoom(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			fail(c, http.StatusNotFound, "Room not found")
			return
		}
		zap.L().Error("room_info", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to get room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "room": dto})
}

func fail(c *gin.Context, code int, message string) {
	c.JSON(code, FailureResponse{Success: false, Message: message})
}

// @Summary		Create a room
// @Description	Creates a refinement or retro room and returns its invite code.
// @Tags			Rooms
// @Success		200	{object}	CreateRoomResponse
// @Failure		500	{object}	FailureResponse
// @Router			/refinement/create/room [post]
func (h *Handler) createRoom(roomType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID, code, err := h.svc.CreateRoom(c.Request.Context(), roomType)
		if err != nil {
			zap.L().Error("create_room", zap.String("room_type", roomType), zap.Error(err))
			fail(c, http.StatusInternalServerError, "Failed to create room")
			return
		}
		c.JSON(http.StatusOK, CreateRoomResponse{Success: true, RoomID: roomID, InviteCode: code})
	}
}

// @Summary		Join a room
// @Description	Resolves the invite code and records durable membership.
// @Tags			Rooms
// @Param			body	body		JoinRoomBody	true	"Join payload"
// @Success		200		{object}	JoinRoomResponse
// @Failure		400		{object}	FailureResponse
// @Failure		404		{object}	FailureResponse
// @Router			/refinement/join/room [post]
func (h *Handler) joinRoom(c *gin.Context) {
	var body JoinRoomBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "Invite code, name and email are required")
		return
	}
	if !emailRe.MatchString(body.Email) {
		fail(c, http.StatusBadRequest, "Invalid email format")
		return
	}

	roomID, err := h.svc.JoinRoom(c.Request.Context(), body.InviteCode, body.Name, body.Email)
	if err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			fail(c, http.StatusNotFound, "Invalid invite code")
			return
		}
		zap.L().Error("join_room", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to join room")
		return
	}
	c.JSON(http.StatusOK, JoinRoomResponse{Success: true, RoomID: roomID})
}

// @Summary		Submit a prediction
// @Description	Upserts the caller's estimation for the current round.
// @Tags			Refinement
// @Param			body	body	SubmitPredictionBody	true	"Prediction payload"
// @Success		200
// @Failure		400	{object}	FailureResponse
// @Router			/refinement/prediction/submit [post]
func (h *Handler) submitPrediction(c *gin.Context) {
	var body SubmitPredictionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "Invalid prediction data")
		return
	}

	if err := h.svc.SubmitPrediction(c.Request.Context(), body.RoomID, body.Role, body.Prediction); err != nil {
		if errors.Is(err, room.ErrInvalidPrediction) {
			fail(c, http.StatusBadRequest, "Invalid prediction data")
			return
		}
		zap.L().Error("submit_prediction", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to submit prediction")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// @Summary		Retrieve and clear predictions
// @Description	Returns the per-role averages for the round and clears the
// @Description	working set; a second call returns an empty list.
// @Tags			Refinement
// @Param			room_id	query		string	true	"Room ID"
// @Success		200		{object}	map[string]any
// @Failure		400		{object}	FailureResponse
// @Router			/refinement/get/predictions [get]
func (h *Handler) getPredictions(c *gin.Context) {
	var q GetPredictionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "Room ID is required")
		return
	}

	predictions, err := h.svc.GetAndClearPredictions(c.Request.Context(), q.RoomID)
	if err != nil {
		zap.L().Error("get_predictions", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to get predictions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "predictions": predictions})
}

// @Summary		Post a retro comment
// @Description	Sanitizes, persists and broadcasts the comment to the room.
// @Tags			Retro
// @Param			body	body	NewCommentBody	true	"Comment payload"
// @Success		200
// @Failure		400	{object}	FailureResponse
// @Router			/retro/new/comment [post]
func (h *Handler) newComment(c *gin.Context) {
	var body NewCommentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "Room ID and comment are required")
		return
	}

	sanitized, err := h.svc.AddComment(c.Request.Context(), body.RoomID, body.Comment)
	if err != nil {
		zap.L().Error("new_comment", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to add comment")
		return
	}
	h.broker.BroadcastEvent(body.RoomID, "new_comment", sanitized)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// @Summary		Create an action item
// @Description	Persists the item, broadcasts it to the room and emails the
// @Description	assignee asynchronously.
// @Tags			Retro
// @Param			body	body	CreateActionBody	true	"Action payload"
// @Success		200
// @Failure		400	{object}	FailureResponse
// @Router			/retro/create/action [post]
func (h *Handler) createAction(c *gin.Context) {
	var body CreateActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "Room ID, user name and description are required")
		return
	}

	email, err := h.svc.CreateAction(c.Request.Context(), body.RoomID, body.UserName, body.Description)
	if err != nil {
		if errors.Is(err, room.ErrAssigneeNotFound) {
			fail(c, http.StatusBadRequest, "Assigned user not found in the room")
			return
		}
		zap.L().Error("create_action", zap.Error(err))
		fail(c, http.StatusInternalServerError, "Failed to create action")
		return
	}

	h.broker.BroadcastEvent(body.RoomID, "action_added", gin.H{
		"user_name":   body.UserName,
		"description": body.Description,
	})

	if h.notifier != nil {
		go func(email, userName, description string) {
			if err := h.notifier.SendActionNotification(email, userName, description); err != nil {
				zap.L().Warn("action_email_failed", zap.String("email", email), zap.Error(err))
			}
		}(email, body.UserName, body.Description)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
