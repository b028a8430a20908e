package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/pkg/api"
)

func publishedEvent() *models.NormalizedEvent {
	return &models.NormalizedEvent{
		TxHash:           "0xtx1",
		BlockHeight:      100,
		BlockHash:        "0xblock100",
		Resource:         "SP1.counters",
		EventType:        models.EventTypePrint,
		Topic:            "counter-updated",
		Payload:          json.RawMessage(`{"value":1}`),
		AffectedEntities: []string{"SP1ALICE", "SP2BOB"},
		Success:          true,
		Timestamp:        time.Unix(1700000000, 0).UTC(),
	}
}

func drain(conn *Conn) []api.ServerMessage {
	var msgs []api.ServerMessage
	for {
		select {
		case msg := <-conn.Outbound():
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestHub_PublishToMatchingRooms(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	byResource := h.Register("by-resource")
	h.Join("by-resource", models.RoomKey(models.ClassResource, "SP1.counters"))

	byEntity := h.Register("by-entity")
	h.Join("by-entity", models.RoomKey(models.ClassEntity, "SP2BOB"))

	byType := h.Register("by-type")
	h.Join("by-type", models.RoomKey(models.ClassEventType, models.EventTypePrint))

	unrelated := h.Register("unrelated")
	h.Join("unrelated", models.RoomKey(models.ClassResource, "SP9.other"))

	h.Publish(publishedEvent())

	for _, conn := range []*Conn{byResource, byEntity, byType} {
		msgs := drain(conn)
		require.Len(t, msgs, 1, "conn %s", conn.ID())
		assert.Equal(t, api.TypeEvent, msgs[0].Type)
		require.NotNil(t, msgs[0].Event)
		assert.Equal(t, "0xtx1", msgs[0].Event.TxHash)
	}

	assert.Empty(t, drain(unrelated))
}

func TestHub_PublishExactlyOnceAcrossOverlappingRooms(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	conn := h.Register("greedy")
	// Подписан сразу на три комнаты, которые все матчат одно событие
	h.Join("greedy", models.RoomKey(models.ClassResource, "SP1.counters"))
	h.Join("greedy", models.RoomKey(models.ClassEntity, "SP1ALICE"))
	h.Join("greedy", models.RoomKey(models.ClassEventType, models.EventTypePrint))

	h.Publish(publishedEvent())

	msgs := drain(conn)
	require.Len(t, msgs, 1, "event matching several rooms is delivered once")

	// Другое событие проходит независимо
	second := publishedEvent()
	second.TxHash = "0xtx2"
	h.Publish(second)

	msgs = drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "0xtx2", msgs[0].Event.TxHash)
}

func TestHub_GlobalRoom(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	conn := h.Register("firehose")
	h.Join("firehose", models.RoomGlobal)

	h.Publish(publishedEvent())

	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "0xtx1", msgs[0].Event.TxHash)
}

func TestHub_InvalidateReachesEveryConnection(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	subscribed := h.Register("subscribed")
	h.Join("subscribed", models.RoomKey(models.ClassResource, "SP1.counters"))
	idle := h.Register("idle") // ни одной комнаты

	h.Invalidate([]uint64{100, 101})

	for _, conn := range []*Conn{subscribed, idle} {
		msgs := drain(conn)
		require.Len(t, msgs, 1, "conn %s", conn.ID())
		assert.Equal(t, api.TypeInvalidate, msgs[0].Type)
		assert.Equal(t, []uint64{100, 101}, msgs[0].Heights)
	}
}

func TestHub_OverflowDropOldest(t *testing.T) {
	h := New(slog.Default(), 2, DropOldest)

	conn := h.Register("slow")
	h.Join("slow", models.RoomGlobal)

	for i := 0; i < 4; i++ {
		event := publishedEvent()
		event.TxHash = fmt.Sprintf("0xtx%d", i)
		h.Publish(event)
	}

	msgs := drain(conn)
	require.Len(t, msgs, 2)
	// Самые старые вытеснены
	assert.Equal(t, "0xtx2", msgs[0].Event.TxHash)
	assert.Equal(t, "0xtx3", msgs[1].Event.TxHash)
	assert.Equal(t, 2, conn.Dropped())

	// Соединение живо
	select {
	case <-conn.Done():
		t.Fatal("drop-oldest must not disconnect")
	default:
	}
}

func TestHub_OverflowDisconnect(t *testing.T) {
	h := New(slog.Default(), 1, Disconnect)

	conn := h.Register("slow")
	h.Join("slow", models.RoomGlobal)

	first := publishedEvent()
	h.Publish(first)

	second := publishedEvent()
	second.TxHash = "0xtx2"
	h.Publish(second)

	select {
	case <-conn.Done():
	default:
		t.Fatal("disconnect policy must close the connection on overflow")
	}

	// После закрытия доставка прекращается
	third := publishedEvent()
	third.TxHash = "0xtx3"
	h.Publish(third)

	msgs := drain(conn)
	require.Len(t, msgs, 1)
	assert.Equal(t, "0xtx1", msgs[0].Event.TxHash)
}

func TestHub_RegisterReplacesConnection(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	old := h.Register("consumer-1")
	replacement := h.Register("consumer-1")

	select {
	case <-old.Done():
	default:
		t.Fatal("replaced connection must be closed")
	}

	assert.Equal(t, 1, h.ConnCount())

	h.Join("consumer-1", models.RoomGlobal)
	h.Publish(publishedEvent())

	assert.Len(t, drain(replacement), 1)
	assert.Empty(t, drain(old))
}

func TestHub_Unregister(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	conn := h.Register("consumer-1")
	h.Join("consumer-1", models.RoomGlobal)
	h.Unregister("consumer-1")

	assert.Zero(t, h.ConnCount())
	select {
	case <-conn.Done():
	default:
		t.Fatal("unregistered connection must be closed")
	}

	h.Publish(publishedEvent())
	assert.Empty(t, drain(conn))
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	conn := h.Register("consumer-1")
	room := models.RoomKey(models.ClassResource, "SP1.counters")
	h.Join("consumer-1", room)
	h.Leave("consumer-1", room)

	h.Publish(publishedEvent())
	assert.Empty(t, drain(conn))
}

func TestHub_AckAndNotify(t *testing.T) {
	h := New(slog.Default(), 8, DropOldest)

	conn := h.Register("consumer-1")

	h.Ack("consumer-1", models.ClassResource, "SP1.counters", "resource:SP1.counters")
	h.Notify("consumer-1", "connected", "welcome", time.Unix(1700000000, 0).UTC())

	msgs := drain(conn)
	require.Len(t, msgs, 2)

	assert.Equal(t, api.TypeSubscriptionAck, msgs[0].Type)
	require.NotNil(t, msgs[0].Ack)
	assert.Equal(t, "resource:SP1.counters", msgs[0].Ack.RoomID)

	assert.Equal(t, api.TypeStatusUpdate, msgs[1].Type)
	require.NotNil(t, msgs[1].Status)
	assert.Equal(t, "connected", msgs[1].Status.Kind)
}
