package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/kilnlabs/sessiond/internal/obslog"
)

// heartbeatInterval matches spec's documented ping/pong cadence.
const heartbeatInterval = 30 * time.Second

// Conn wraps one duplex connection: a unique id, a send mutex (the
// underlying websocket.Conn is not safe for concurrent writes), and the
// registry it dispatches against.
type Conn struct {
	ID  string
	ws  *websocket.Conn
	reg *Registry
	log *obslog.Logger

	writeMu sync.Mutex
}

// Accept wraps an already-upgraded websocket connection in a Conn with a
// fresh id. It starts nothing; Serve runs the read/dispatch loop plus
// heartbeat until the connection closes or ctx is cancelled.
func Accept(ctx context.Context, ws *websocket.Conn, reg *Registry, log *obslog.Logger) *Conn {
	c := &Conn{ID: uuid.New().String(), ws: ws, reg: reg, log: log.WithComponent("rpc").With("conn_id", uuid.New().String())}
	return c
}

// Serve runs the receive loop: decode a frame, dispatch it, write the
// response. Notifications pushed via Notify interleave with replies because
// every write goes through writeMu.
func (c *Conn) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeat(ctx)

	for {
		var req Request
		if err := wsjson.Read(ctx, c.ws, &req); err != nil {
			return err
		}
		go func(req Request) {
			resp := c.reg.Dispatch(ctx, req)
			if err := c.write(ctx, resp); err != nil {
				c.log.Warn("write response failed", "error", err)
			}
		}(req)
	}
}

// Notify pushes a server-initiated notification (no id) to this connection.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	return c.write(ctx, Notification(method, params))
}

func (c *Conn) write(ctx context.Context, resp Response) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.ws, resp)
}

func (c *Conn) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.log.Info("heartbeat failed, closing connection", "error", err)
				c.ws.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// marshalResult round-trips v through JSON into a generic value (maps,
// slices, scalars). No handler calls it; handlers return map[string]any
// literals directly.
func marshalResult(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
