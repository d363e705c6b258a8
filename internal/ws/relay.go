package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LocalBroadcaster receives events published by other broker instances.
type LocalBroadcaster interface {
	BroadcastLocal(roomID, event string, body any)
}

// relayFrame is the cross-instance wire format on "room:<id>:events".
type relayFrame struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// RedisRelay keeps exactly one Redis subscription per room channel no matter
// how many local clients occupy the room, and filters out this instance's own
// messages so local delivery stays single-path.
type RedisRelay struct {
	rdb    *redis.Client
	local  LocalBroadcaster
	origin string

	mu   sync.Mutex
	subs map[string]*subEntry // roomID ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func NewRedisRelay(rdb *redis.Client, local LocalBroadcaster) *RedisRelay {
	return &RedisRelay{
		rdb:    rdb,
		local:  local,
		origin: uuid.New().String(),
		subs:   make(map[string]*subEntry),
	}
}

func channelFor(roomID string) string { return "room:" + roomID + ":events" }

// Publish forwards a locally originated broadcast to the other instances.
func (r *RedisRelay) Publish(roomID, event string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		zap.L().Warn("relay.marshal", zap.Error(err))
		return
	}
	payload, err := json.Marshal(relayFrame{Origin: r.origin, Event: event, Body: raw})
	if err != nil {
		zap.L().Warn("relay.marshal", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, channelFor(roomID), payload).Err(); err != nil {
		zap.L().Warn("relay.publish", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Subscribe ensures the process listens on the room's channel; subsequent
// calls for the same room only increment the ref-counter.
func (r *RedisRelay) Subscribe(roomID string) {
	r.mu.Lock()
	if e, ok := r.subs[roomID]; ok {
		e.refCnt++
		r.mu.Unlock()
		return
	}

	// First consumer → create Redis SUB and fan-out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := r.rdb.Subscribe(ctx, channelFor(roomID))

	r.subs[roomID] = &subEntry{refCnt: 1, cancel: cancel}
	r.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed
					return
				}
				r.handleFrame(roomID, m.Payload)
			}
		}
	}()
}

// handleFrame delivers one relayed payload to the local roster, skipping
// frames this instance published itself.
func (r *RedisRelay) handleFrame(roomID, payload string) {
	var frame relayFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		zap.L().Warn("relay.frame", zap.Error(err))
		return
	}
	if frame.Origin == r.origin {
		return
	}
	r.local.BroadcastLocal(roomID, frame.Event, frame.Body)
}

// Unsubscribe decrements the ref-counter and tears the Redis SUB down when
// the room's last local occupant is gone.
func (r *RedisRelay) Unsubscribe(roomID string) {
	r.mu.Lock()
	e, ok := r.subs[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.subs, roomID)
	r.mu.Unlock()

	// Outside the lock → stop the fan-out goroutine.
	e.cancel()
}
