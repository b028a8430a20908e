package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/server/hub"
	"github.com/hookline/hookline/internal/server/jwt"
	"github.com/hookline/hookline/internal/server/registry"
	"github.com/hookline/hookline/pkg/api"
)

// WSHandler upgrades consumer connections and runs the pub/sub protocol:
// subscribe/unsubscribe inbound, event/invalidate/ack/status outbound.
type WSHandler struct {
	logger    *slog.Logger
	hub       *hub.Hub
	registry  *registry.Registry
	clock     clock.Clock
	jwtConfig jwt.Config
}

// NewWSHandler creates the websocket handler.
func NewWSHandler(logger *slog.Logger, h *hub.Hub, reg *registry.Registry, jwtConfig jwt.Config, clk clock.Clock) *WSHandler {
	return &WSHandler{
		logger:    logger,
		hub:       h,
		registry:  reg,
		clock:     clk,
		jwtConfig: jwtConfig,
	}
}

// HandleWS handles GET /api/v1/ws. The consumer authenticates with a JWT
// passed as a query parameter or bearer header.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		authHeader := r.Header.Get("Authorization")
		if parts := strings.SplitN(authHeader, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = parts[1]
		}
	}

	claims, err := jwt.ValidateConsumerToken(h.jwtConfig, token)
	if err != nil {
		h.logger.Warn("Rejected websocket connection", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	consumerID := claims.ConsumerID

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket accept failed", "error", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "server shutting down")

	conn := h.hub.Register(consumerID)
	defer func() {
		h.hub.Unregister(consumerID)
		// Connection loss deactivates the consumer's subscriptions; the
		// consumer resubmits them on reconnect.
		if _, err := h.registry.DeactivateOwner(context.Background(), consumerID); err != nil {
			h.logger.Warn("Failed to deactivate subscriptions", "owner", consumerID, "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, cancel, c, conn)

	h.logger.Info("Consumer connected", "consumer_id", consumerID, "remote_addr", r.RemoteAddr)
	h.hub.Notify(consumerID, "connected", "connection established", h.clock.Now().UTC())

	for {
		var msg api.ClientMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				h.logger.Info("Consumer disconnected", "consumer_id", consumerID)
			} else {
				h.logger.Warn("Websocket read failed", "consumer_id", consumerID, "error", err)
			}
			return
		}

		h.handleMessage(ctx, consumerID, msg)
	}
}

// writeLoop drains the hub-side outbound buffer into the websocket. When
// the hub force-disconnects (overflow policy), the socket is closed and
// the read loop unblocks.
func (h *WSHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, conn *hub.Conn) {
	defer cancel()

	for {
		select {
		case msg := <-conn.Outbound():
			if err := wsjson.Write(ctx, c, msg); err != nil {
				h.logger.Warn("Websocket write failed", "conn_id", conn.ID(), "error", err)
				return
			}
		case <-conn.Done():
			c.Close(websocket.StatusPolicyViolation, "outbound buffer overflow")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *WSHandler) handleMessage(ctx context.Context, consumerID string, msg api.ClientMessage) {
	switch msg.Type {
	case api.TypeSubscribe:
		sub, err := h.registry.Subscribe(ctx, consumerID, models.SubscriptionClass(msg.Class), msg.Target)
		if err != nil {
			h.logger.Warn("Subscribe failed",
				"consumer_id", consumerID, "class", msg.Class, "target", msg.Target, "error", err)
			h.hub.Notify(consumerID, "error", "subscribe failed: "+err.Error(), h.clock.Now().UTC())
			return
		}
		h.hub.Join(consumerID, sub.Room())
		h.hub.Ack(consumerID, sub.Class, sub.Target, sub.Room())

	case api.TypeUnsubscribe:
		// Idempotent: unknown rooms are ignored.
		h.hub.Leave(consumerID, msg.RoomID)
		h.deactivateRoom(ctx, consumerID, msg.RoomID)

	default:
		h.logger.Warn("Unknown client message type", "consumer_id", consumerID, "type", msg.Type)
	}
}

func (h *WSHandler) deactivateRoom(ctx context.Context, consumerID, roomID string) {
	subs, err := h.registry.ListByOwner(ctx, consumerID)
	if err != nil {
		h.logger.Warn("Failed to list subscriptions", "owner", consumerID, "error", err)
		return
	}
	for _, sub := range subs {
		if sub.Room() == roomID && sub.Active {
			if err := h.registry.Deactivate(ctx, sub.ID); err != nil {
				h.logger.Warn("Failed to deactivate subscription", "id", sub.ID, "error", err)
			}
		}
	}
}
