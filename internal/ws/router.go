package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ConnContext carries the per-connection state handlers may need.
type ConnContext struct {
	Conn   *clientConn
	Server *WsServer
}

// Reply is an optional direct answer to the emitting connection. Most events
// answer through room broadcasts instead and return a nil Reply.
type Reply struct {
	Event string
	Body  any
}

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) (*Reply, error)

// Router keeps a map[event]handler, à-la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
}

func NewRouter() *Router { return &Router{handlers: make(map[string]rawHandler)} }

// Register binds an event to a strongly-typed handler.
func Register[Req any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) (*Reply, error),
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(ctx context.Context, c *ConnContext, body json.RawMessage) (*Reply, error) {
		var req Req
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
		}
		return h(ctx, c, req)
	}
}

var errUnknownEvent = errors.New("unknown event")

// dispatch is called by the server's reader loop.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) (*Reply, error) {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return nil, errUnknownEvent
	}
	return h(ctx, c, env.Body)
}
