package room

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoomTypeRefinement = "refinement"
	RoomTypeRetro      = "retro"

	// invite codes are 3 random bytes, hex encoded -> 6 chars
	inviteCodeBytes       = 3
	inviteCodeMaxAttempts = 5
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrInvalidRoomType   = errors.New("invalid room type")
	ErrInvalidPrediction = errors.New("invalid prediction")
	ErrAssigneeNotFound  = errors.New("assigned user not found in the room")
	ErrInviteExhausted   = errors.New("invite code generation exhausted")
)

// RolePrediction is one aggregated estimation row.
type RolePrediction struct {
	Role            string  `json:"role"`
	FinalPrediction float64 `json:"final_prediction"`
}

// Member is a durable membership row.
type Member struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RoomDTO mirrors a rooms row.
type RoomDTO struct {
	ID         string    `json:"room_id"`
	InviteCode string    `json:"invite_code"`
	RoomType   string    `json:"room_type"  example:"refinement"`
	CreatedAt  time.Time `json:"created_at" example:"2025-07-27T16:05:05Z"`
}

type IRoomService interface {
	CreateRoom(ctx context.Context, roomType string) (roomID, inviteCode string, err error)
	GetRoom(ctx context.Context, roomID string) (*RoomDTO, error)
	ResolveInviteCode(ctx context.Context, code string) (roomID string, err error)
	RecordMembership(ctx context.Context, roomID, name, email string) error
	JoinRoom(ctx context.Context, inviteCode, name, email string) (roomID string, err error)
	SubmitPrediction(ctx context.Context, roomID, role string, value float64) error
	GetAndClearPredictions(ctx context.Context, roomID string) ([]RolePrediction, error)
	AddComment(ctx context.Context, roomID, text string) (sanitized string, err error)
	CreateAction(ctx context.Context, roomID, userName, description string) (email string, err error)
}

type roomService struct {
	db *sql.DB
}

func NewRoomService(db *sql.DB) IRoomService {
	return &roomService{db: db}
}

// withTx runs fn inside a transaction, rolling back on error.
func (svc *roomService) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := svc.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

var markupEscaper = strings.NewReplacer("<", "&lt;", ">", "&gt;")

func newInviteCode() (string, error) {
	buf := make([]byte, inviteCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// CreateRoom assigns a fresh room ID and a unique invite code. Uniqueness is
// enforced by the store (ON CONFLICT DO NOTHING on the invite_code unique
// constraint), so concurrent creators never share a code.
func (svc *roomService) CreateRoom(ctx context.Context, roomType string) (string, string, error) {
	if roomType != RoomTypeRefinement && roomType != RoomTypeRetro {
		return "", "", ErrInvalidRoomType
	}
	roomID := uuid.New().String()

	const ins = `INSERT INTO rooms (room_id, invite_code, room_type)
	             VALUES ($1, $2, $3)
	             ON CONFLICT (invite_code) DO NOTHING`

	for attempt := 0; attempt < inviteCodeMaxAttempts; attempt++ {
		code, err := newInviteCode()
		if err != nil {
			return "", "", err
		}
		res, err := svc.db.ExecContext(ctx, ins, roomID, code, roomType)
		if err != nil {
			return "", "", err
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return roomID, code, nil
		}
		// another room already owns that code, draw again
	}
	return "", "", ErrInviteExhausted
}

func (svc *roomService) GetRoom(ctx context.Context, roomID string) (*RoomDTO, error) {
	const q = `SELECT room_id, invite_code, room_type, created_at
	             FROM rooms WHERE room_id = $1`
	dto := &RoomDTO{}
	err := svc.db.QueryRowContext(ctx, q, roomID).
		Scan(&dto.ID, &dto.InviteCode, &dto.RoomType, &dto.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return dto, nil
}

// ResolveInviteCode is an exact, case-sensitive lookup.
func (svc *roomService) ResolveInviteCode(ctx context.Context, code string) (string, error) {
	const q = `SELECT room_id FROM rooms WHERE invite_code = $1`
	var roomID string
	err := svc.db.QueryRowContext(ctx, q, code).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// RecordMembership upserts; joining twice with the same email is not an error.
func (svc *roomService) RecordMembership(ctx context.Context, roomID, name, email string) error {
	const ins = `INSERT INTO room_members (room_id, name, email)
	             VALUES ($1, $2, $3)
	             ON CONFLICT (room_id, email) DO NOTHING`
	_, err := svc.db.ExecContext(ctx, ins, roomID, name, email)
	return err
}

func (svc *roomService) JoinRoom(ctx context.Context, inviteCode, name, email string) (string, error) {
	var roomID string
	err := svc.withTx(ctx, func(tx *sql.Tx) error {
		const q = `SELECT room_id FROM rooms WHERE invite_code = $1`
		if err := tx.QueryRowContext(ctx, q, inviteCode).Scan(&roomID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrRoomNotFound
			}
			return err
		}
		const ins = `INSERT INTO room_members (room_id, name, email)
		             VALUES ($1, $2, $3)
		             ON CONFLICT (room_id, email) DO NOTHING`
		_, err := tx.ExecContext(ctx, ins, roomID, name, email)
		return err
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// SubmitPrediction keeps at most one current value per (room, role); a later
// submission overwrites.
func (svc *roomService) SubmitPrediction(ctx context.Context, roomID, role string, value float64) error {
	if roomID == "" || role == "" || value <= 0 {
		return ErrInvalidPrediction
	}
	const ins = `INSERT INTO predictions (room_id, role, prediction)
	             VALUES ($1, $2, $3)
	             ON CONFLICT (room_id, role) DO UPDATE
	                   SET prediction = EXCLUDED.prediction`
	_, err := svc.db.ExecContext(ctx, ins, roomID, role, value)
	return err
}

// GetAndClearPredictions is a destructive read. Averaging and clearing happen
// in one statement: the DELETE's RETURNING set is the only input to the
// aggregate, so each submitted round is consumed by exactly one caller even
// when several broker instances race on the same room.
func (svc *roomService) GetAndClearPredictions(ctx context.Context, roomID string) ([]RolePrediction, error) {
	const q = `WITH deleted AS (
	               DELETE FROM predictions
	                WHERE room_id = $1
	            RETURNING role, prediction
	           )
	           SELECT role, AVG(prediction) AS final_prediction
	             FROM deleted
	            GROUP BY role
	            ORDER BY role`

	rows, err := svc.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RolePrediction, 0, 4)
	for rows.Next() {
		var rp RolePrediction
		if err := rows.Scan(&rp.Role, &rp.FinalPrediction); err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AddComment neutralizes markup before the text ever reaches the store.
func (svc *roomService) AddComment(ctx context.Context, roomID, text string) (string, error) {
	sanitized := markupEscaper.Replace(text)
	const ins = `INSERT INTO comments (room_id, comment) VALUES ($1, $2)`
	if _, err := svc.db.ExecContext(ctx, ins, roomID, sanitized); err != nil {
		return "", err
	}
	return sanitized, nil
}

// CreateAction resolves the assignee's contact address from the durable
// membership and persists the item; both in one transaction so a vanished
// member never leaves a dangling action row.
func (svc *roomService) CreateAction(ctx context.Context, roomID, userName, description string) (string, error) {
	var email string
	err := svc.withTx(ctx, func(tx *sql.Tx) error {
		const q = `SELECT email FROM room_members WHERE room_id = $1 AND name = $2`
		if err := tx.QueryRowContext(ctx, q, roomID, userName).Scan(&email); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAssigneeNotFound
			}
			return err
		}
		const ins = `INSERT INTO actions (room_id, user_name, description)
		             VALUES ($1, $2, $3)`
		_, err := tx.ExecContext(ctx, ins, roomID, userName, description)
		return err
	})
	if err != nil {
		return "", err
	}
	return email, nil
}
