package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wisbric/safeguard/internal/errs"
	"github.com/wisbric/safeguard/internal/eventbus"
	"github.com/wisbric/safeguard/internal/telemetry"
	"github.com/wisbric/safeguard/pkg/identity"
)

// Hub accepts realtime connections, verifies their handshake token, wires
// each into EventBus, and dispatches inbound commands through a
// Dispatcher. The connection table is read-mostly (connects/disconnects
// are rare relative to EventBus publishes going through it), so an
// RWMutex guards it.
type Hub struct {
	identity   *identity.Service
	bus        *eventbus.Bus
	dispatcher *Dispatcher
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	mu    sync.RWMutex
	conns map[uuid.UUID]*Connection
}

// NewHub builds a Hub. The upgrader's origin check accepts every origin;
// no origin filtering happens at the upgrade.
func NewHub(idSvc *identity.Service, bus *eventbus.Bus, dispatcher *Dispatcher, logger *slog.Logger) *Hub {
	return &Hub{
		identity:   idSvc,
		bus:        bus,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*Connection),
	}
}

// ServeHTTP upgrades the request to a websocket connection and runs its
// session to completion. The access token is accepted either as a bearer
// header (for clients that can set one during the handshake) or as an
// `access_token` query parameter (for browser websocket clients that
// cannot).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		h.rejectUpgrade(w, r, CloseMissingToken, "missing access token")
		return
	}

	p, err := h.identity.Verify(r.Context(), token)
	if err != nil {
		code := CloseInvalidToken
		if e, ok := errs.As(err); ok {
			switch e.Reason {
			case "TokenExpired":
				code = CloseExpiredToken
			case "SessionRevoked":
				code = CloseRevoked
			}
		}
		h.rejectUpgrade(w, r, code, "authentication failed")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("realtime upgrade failed", "error", err)
		return
	}

	h.runSession(r.Context(), ws, p)
}

// rejectUpgrade completes the websocket handshake (so the client receives
// a proper close frame with a documented code) then immediately closes,
// rather than failing the HTTP upgrade itself.
func (h *Hub) rejectUpgrade(w http.ResponseWriter, r *http.Request, code int, reason string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}

func (h *Hub) runSession(ctx context.Context, ws *websocket.Conn, p *identity.Principal) {
	topics := []eventbus.Topic{eventbus.UserTopic(p.UserID)}
	if p.BuildingID != nil {
		topics = append(topics, eventbus.BuildingTopic(*p.BuildingID), eventbus.RoleTopic(string(p.Role), *p.BuildingID))
	}
	sub := h.bus.Subscribe(topics...)

	conn := newConnection(ws, p, sub, h)

	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.mu.Unlock()
	telemetry.RealtimeConnectionsGauge.Inc()
	h.logger.Info("realtime connection opened", "connection_id", conn.ID, "user_id", p.UserID)

	if p.BuildingID != nil {
		_ = h.bus.Publish(ctx, nil, eventbus.PublishInput{
			Topics:  []eventbus.Topic{eventbus.BuildingTopic(*p.BuildingID)},
			Type:    eventbus.EventUserOnline,
			Payload: map[string]string{"user_id": p.UserID.String()},
		})
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		conn.writePump(ctx, done)
	}()
	go func() {
		defer wg.Done()
		conn.forwardPump(done)
	}()

	conn.readPump(ctx)
	close(done)
	wg.Wait()

	h.mu.Lock()
	delete(h.conns, conn.ID)
	h.mu.Unlock()
	h.bus.Unsubscribe(sub)
	telemetry.RealtimeConnectionsGauge.Dec()
	h.logger.Info("realtime connection closed", "connection_id", conn.ID, "user_id", p.UserID)

	if p.BuildingID != nil {
		_ = h.bus.Publish(ctx, nil, eventbus.PublishInput{
			Topics:  []eventbus.Topic{eventbus.BuildingTopic(*p.BuildingID)},
			Type:    eventbus.EventUserOffline,
			Payload: map[string]string{"user_id": p.UserID.String()},
		})
	}

	conn.close(CloseNormal, "normal")
}

// Connections returns the number of currently open sessions.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	v := r.Header.Get("Authorization")
	if len(v) > len(prefix) && v[:len(prefix)] == prefix {
		return v[len(prefix):]
	}
	return ""
}
