package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/eventbus"
	"github.com/wisbric/safeguard/pkg/identity"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxFrameBytes  = 64 * 1024
	outboxCapacity = 256
)

// Connection is one authenticated duplex session: a reader task parsing
// and dispatching inbound frames, and a writer task serializing outbound
// frames, communicating only over the outbox channel — the concurrency
// model keeps disconnect cancellation local to the connection.
type Connection struct {
	ID         uuid.UUID
	Principal  *identity.Principal
	ws         *websocket.Conn
	sub        *eventbus.Subscriber
	outbox     chan OutboundFrame
	hub        *Hub
	connectedAt time.Time
}

func newConnection(ws *websocket.Conn, p *identity.Principal, sub *eventbus.Subscriber, hub *Hub) *Connection {
	return &Connection{
		ID:          uuid.New(),
		Principal:   p,
		ws:          ws,
		sub:         sub,
		outbox:      make(chan OutboundFrame, outboxCapacity),
		hub:         hub,
		connectedAt: time.Now().UTC(),
	}
}

// readPump parses inbound frames and dispatches them, until the
// connection closes. Runs on the handler's goroutine; writePump and
// forwardPump run on goroutines that Hub.runSession spawns and waits on
// after this method returns.
func (c *Connection) readPump(ctx context.Context) {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("", errs.New(errs.Validation, "InvalidFrame", "frame is not valid JSON"))
			continue
		}

		data, err := c.hub.dispatcher.Dispatch(ctx, c.Principal, frame)
		if err != nil {
			c.sendError(frame.RequestID, err)
			continue
		}
		c.send(OutboundFrame{Type: frame.Type, RequestID: frame.RequestID, Data: data})
	}
}

// writePump drains the outbox to the socket and pings on an interval,
// until ctx is cancelled or the socket errors.
func (c *Connection) writePump(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case frame, ok := <-c.outbox:
			if !ok {
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardPump relays EventBus messages from the subscriber's inbox to the
// outbox, translating the bus's internal Message into the wire
// OutboundFrame shape.
func (c *Connection) forwardPump(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg, ok := <-c.sub.Inbox():
			if !ok {
				return
			}
			c.send(OutboundFrame{Type: string(msg.Type), Data: msg.Payload})
		}
	}
}

func (c *Connection) send(frame OutboundFrame) {
	select {
	case c.outbox <- frame:
	default:
		// outbox full: drop rather than block the reader or bus fan-out.
	}
}

func (c *Connection) sendError(requestID string, err error) {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.Internal, "Internal", "an unexpected error occurred", err)
	}
	c.send(OutboundFrame{Type: "error", RequestID: requestID, Error: &WireError{Code: string(e.Code), Message: e.Message}})
}

func (c *Connection) close(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.ws.Close()
}
