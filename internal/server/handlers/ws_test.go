package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hookline/hookline/internal/clock"
	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/server/hub"
	"github.com/hookline/hookline/internal/server/jwt"
	"github.com/hookline/hookline/internal/server/registry"
	"github.com/hookline/hookline/internal/server/storage/memory"
	"github.com/hookline/hookline/pkg/api"
)

func newWSTest(t *testing.T) (*WSHandler, *hub.Hub, *registry.Registry, jwt.Config) {
	t.Helper()

	cfg := jwt.Config{Secret: []byte("test-secret"), TokenTTL: time.Hour}
	reg := registry.New(memory.NewSubscriptionStore(), slog.Default(), clock.System())
	broadcastHub := hub.New(slog.Default(), 8, hub.DropOldest)
	handler := NewWSHandler(slog.Default(), broadcastHub, reg, cfg, clock.System())
	return handler, broadcastHub, reg, cfg
}

func TestHandleWS_Unauthorized(t *testing.T) {
	handler, _, _, _ := newWSTest(t)

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{name: "no token", setup: func(*http.Request) {}},
		{
			name: "garbage token",
			setup: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", "not-a-token")
				r.URL.RawQuery = q.Encode()
			},
		},
		{
			name: "bad bearer",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer nope")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
			tt.setup(req)
			w := httptest.NewRecorder()

			handler.HandleWS(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestHandleWS_SubscribeRoundtrip(t *testing.T) {
	handler, broadcastHub, reg, cfg := newWSTest(t)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWS))
	defer server.Close()

	token, _, err := jwt.GenerateConsumerToken(cfg, "consumer-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	// Первое сообщение: приветственный статус
	var hello api.ServerMessage
	require.NoError(t, wsjson.Read(ctx, c, &hello))
	assert.Equal(t, api.TypeStatusUpdate, hello.Type)
	require.NotNil(t, hello.Status)
	assert.Equal(t, "connected", hello.Status.Kind)

	// Подписка подтверждается ack-ом
	err = wsjson.Write(ctx, c, api.ClientMessage{
		Type:   api.TypeSubscribe,
		Class:  "resource",
		Target: "SP1.counters",
	})
	require.NoError(t, err)

	var ack api.ServerMessage
	require.NoError(t, wsjson.Read(ctx, c, &ack))
	assert.Equal(t, api.TypeSubscriptionAck, ack.Type)
	require.NotNil(t, ack.Ack)
	assert.Equal(t, "resource:SP1.counters", ack.Ack.RoomID)

	// Публикация в комнату доходит до подписчика
	broadcastHub.Publish(&models.NormalizedEvent{
		TxHash:      "0xtx1",
		BlockHeight: 100,
		Resource:    "SP1.counters",
		EventType:   models.EventTypePrint,
		Payload:     []byte(`{}`),
		Timestamp:   time.Unix(1700000000, 0).UTC(),
	})

	var event api.ServerMessage
	require.NoError(t, wsjson.Read(ctx, c, &event))
	assert.Equal(t, api.TypeEvent, event.Type)
	require.NotNil(t, event.Event)
	assert.Equal(t, "0xtx1", event.Event.TxHash)

	// Подписка зарегистрирована за owner-ом
	subs, err := reg.ListByOwner(context.Background(), "consumer-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Active)
}

func TestHandleWS_DisconnectDeactivatesSubscriptions(t *testing.T) {
	handler, _, reg, cfg := newWSTest(t)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWS))
	defer server.Close()

	token, _, err := jwt.GenerateConsumerToken(cfg, "consumer-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + token
	c, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)

	var hello api.ServerMessage
	require.NoError(t, wsjson.Read(ctx, c, &hello))

	err = wsjson.Write(ctx, c, api.ClientMessage{
		Type:   api.TypeSubscribe,
		Class:  "entity",
		Target: "SP1ALICE",
	})
	require.NoError(t, err)

	var ack api.ServerMessage
	require.NoError(t, wsjson.Read(ctx, c, &ack))

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))

	// Подписка переживает обрыв, но деактивируется
	require.Eventually(t, func() bool {
		subs, err := reg.ListByOwner(context.Background(), "consumer-1")
		if err != nil || len(subs) != 1 {
			return false
		}
		return !subs[0].Active
	}, 2*time.Second, 10*time.Millisecond)
}
