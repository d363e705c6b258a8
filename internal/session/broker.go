package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"agileflow/internal/services/room"
)

// Conn is one live client connection. The websocket layer owns the real
// implementation; tests use fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Participant is an active roster entry, broadcast as part of user_list.
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Relay carries room events between broker instances. Publish is called for
// every locally originated broadcast; Subscribe/Unsubscribe track which rooms
// this instance currently holds.
type Relay interface {
	Publish(roomID, event string, body any)
	Subscribe(roomID string)
	Unsubscribe(roomID string)
}

const EventUserList = "user_list"

type roster struct {
	order   []Conn
	members map[Conn]Participant
}

func newRoster() *roster {
	return &roster{members: make(map[Conn]Participant)}
}

func (r *roster) add(c Conn, p Participant) {
	if _, ok := r.members[c]; !ok {
		r.order = append(r.order, c)
	}
	r.members[c] = p
}

func (r *roster) remove(c Conn) {
	if _, ok := r.members[c]; !ok {
		return
	}
	delete(r.members, c)
	for i, oc := range r.order {
		if oc == c {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *roster) participants() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, r.members[c])
	}
	return out
}

// Broker owns the in-memory active rosters. It is a presence cache, not a
// record of truth: state is lost on restart and rebuilt from reconnects.
//
// Roster mutation and the resulting broadcast happen under one lock, so every
// member observes room events in the order the broker accepted them. Conn
// writes are deadline-bounded, the lock cannot be held indefinitely.
type Broker struct {
	directory room.IRoomService
	grace     time.Duration
	relay     Relay // nil means single instance

	mu     sync.Mutex
	rooms  map[string]*roster
	byConn map[Conn]string
	timers map[string]*time.Timer
}

func NewBroker(directory room.IRoomService, grace time.Duration) *Broker {
	return &Broker{
		directory: directory,
		grace:     grace,
		rooms:     make(map[string]*roster),
		byConn:    make(map[Conn]string),
		timers:    make(map[string]*time.Timer),
	}
}

// SetRelay wires the cross-instance fan-out. Must be called before serving.
func (b *Broker) SetRelay(r Relay) { b.relay = r }

// Join resolves the invite code, admits the connection into the room's roster
// and broadcasts the updated user list to everyone in the room, the newcomer
// included. The broadcast goes out before the durable membership upsert: a
// slow store must not hold up or reorder deliveries, and a directory failure
// is logged without undoing the admission, since presence is independent of
// durable membership history.
func (b *Broker) Join(ctx context.Context, conn Conn, inviteCode, name, email string) (string, error) {
	roomID, err := b.directory.ResolveInviteCode(ctx, inviteCode)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	// a rejoin inside the grace window keeps the existing room entry alive
	if t, ok := b.timers[roomID]; ok {
		t.Stop()
		delete(b.timers, roomID)
	}

	if prev, ok := b.byConn[conn]; ok && prev != roomID {
		if pr := b.rooms[prev]; pr != nil {
			pr.remove(conn)
			if len(pr.members) == 0 {
				b.dropRoomLocked(prev)
			} else {
				b.fanOutLocked(prev, EventUserList, pr.participants(), true)
			}
		}
	}

	r, ok := b.rooms[roomID]
	if !ok {
		r = newRoster()
		b.rooms[roomID] = r
		if b.relay != nil {
			b.relay.Subscribe(roomID)
		}
	}
	r.add(conn, Participant{Name: name, Email: email})
	b.byConn[conn] = roomID
	b.fanOutLocked(roomID, EventUserList, r.participants(), true)
	b.mu.Unlock()

	if err := b.directory.RecordMembership(ctx, roomID, name, email); err != nil {
		zap.L().Warn("membership_record_failed",
			zap.String("room_id", roomID), zap.Error(err))
	}
	return roomID, nil
}

// Leave removes the connection from the room immediately. Unknown room or
// non-member is a no-op. An explicitly emptied room is evicted without grace:
// leaving is a deliberate signal, unlike a dropped connection.
func (b *Broker) Leave(conn Conn, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rooms[roomID]
	if !ok {
		return
	}
	if _, member := r.members[conn]; !member {
		return
	}
	r.remove(conn)
	delete(b.byConn, conn)
	if len(r.members) == 0 {
		b.dropRoomLocked(roomID)
		return
	}
	b.fanOutLocked(roomID, EventUserList, r.participants(), true)
}

// Disconnect removes the connection from its room. A room emptied this way is
// kept for the grace delay so a transient reconnect finds it intact.
func (b *Broker) Disconnect(conn Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	roomID, ok := b.byConn[conn]
	if !ok {
		return
	}
	delete(b.byConn, conn)
	r := b.rooms[roomID]
	if r == nil {
		return
	}
	r.remove(conn)
	if len(r.members) == 0 {
		if _, pending := b.timers[roomID]; !pending {
			b.timers[roomID] = time.AfterFunc(b.grace, func() {
				b.evictIfEmpty(roomID)
			})
		}
		return
	}
	b.fanOutLocked(roomID, EventUserList, r.participants(), true)
}

// evictIfEmpty runs when the grace timer fires. Rejoins in the interim make it
// a no-op.
func (b *Broker) evictIfEmpty(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.timers, roomID)
	if r, ok := b.rooms[roomID]; ok && len(r.members) == 0 {
		b.dropRoomLocked(roomID)
	}
}

// dropRoomLocked removes the broker-level room entry. Caller holds b.mu.
func (b *Broker) dropRoomLocked(roomID string) {
	delete(b.rooms, roomID)
	if t, ok := b.timers[roomID]; ok {
		t.Stop()
		delete(b.timers, roomID)
	}
	if b.relay != nil {
		b.relay.Unsubscribe(roomID)
	}
}

// BroadcastEvent fans an event out to the room's current members and forwards
// it to the relay for other instances.
func (b *Broker) BroadcastEvent(roomID, event string, body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fanOutLocked(roomID, event, body, true)
}

// BroadcastLocal delivers a relayed event from another instance. It must not
// be re-published, or instances would echo each other forever.
func (b *Broker) BroadcastLocal(roomID, event string, body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fanOutLocked(roomID, event, body, false)
}

type pushFrame struct {
	Event string `json:"event"`
	Body  any    `json:"body,omitempty"`
}

// fanOutLocked writes the frame to every member in join order. Caller holds
// b.mu; keeping the lock across the writes pins the per-room delivery order.
// Connections that fail to take the write are evicted without a broadcast,
// the next roster change surfaces the shrunken list.
func (b *Broker) fanOutLocked(roomID, event string, body any, publish bool) {
	r, ok := b.rooms[roomID]
	if !ok {
		return
	}
	if publish && b.relay != nil {
		b.relay.Publish(roomID, event, body)
	}

	var failed []Conn
	for _, c := range r.order {
		if err := c.WriteJSON(pushFrame{Event: event, Body: body}); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		r.remove(c)
		delete(b.byConn, c)
		_ = c.Close()
	}
}

// Roster returns the room's participants in join order.
func (b *Broker) Roster(roomID string) []Participant {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[roomID]; ok {
		return r.participants()
	}
	return nil
}

// RoomActive reports whether the broker still tracks the room in memory.
func (b *Broker) RoomActive(roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[roomID]
	return ok
}

// RoomOf reports which room the connection currently occupies.
func (b *Broker) RoomOf(conn Conn) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byConn[conn]
	return id, ok
}
