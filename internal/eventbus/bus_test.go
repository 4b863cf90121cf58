package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld_calendar/internal/events"
)

func TestEnvelopeWireFormat(t *testing.T) {
	sent := envelope{
		EventType: events.EventFillCompleted,
		Payload:   events.Payload{"request_id": "req-1", "successful": float64(3)},
		Timestamp: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		NodeID:    "node-a",
		MessageID: "msg-1",
	}
	data, err := json.Marshal(sent)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	// Other instances parse these exact keys; renaming a field breaks the
	// bridge between versions.
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"event_type", "payload", "timestamp", "node_id", "message_id"} {
		if _, ok := keys[key]; !ok {
			t.Errorf("wire envelope missing key %q", key)
		}
	}

	var got envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if got.EventType != sent.EventType || got.NodeID != sent.NodeID || got.MessageID != sent.MessageID {
		t.Errorf("round trip changed identity fields: %+v", got)
	}
	if !got.Timestamp.Equal(sent.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, sent.Timestamp)
	}
	if got.Payload["request_id"] != "req-1" || got.Payload["successful"] != float64(3) {
		t.Errorf("payload changed in transit: %+v", got.Payload)
	}
}

func TestNewWithoutBrokersDeliversLocally(t *testing.T) {
	bus := New(Options{}, zerolog.Nop())
	defer bus.Close()

	if _, ok := bus.(*Local); !ok {
		t.Fatalf("expected the plain local bus, got %T", bus)
	}

	sub := bus.Subscribe(events.EventFillStarted)
	defer bus.Unsubscribe(events.EventFillStarted, sub)

	bus.Publish(events.EventFillStarted, events.Payload{"request_id": "req-local"})

	select {
	case payload := <-sub:
		if payload["request_id"] != "req-local" {
			t.Errorf("payload = %+v", payload)
		}
		if payload["event"] != string(events.EventFillStarted) {
			t.Errorf("event stamp = %v, want %s", payload["event"], events.EventFillStarted)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}

	if err := bus.Ping(context.Background()); err != nil {
		t.Errorf("local ping: %v", err)
	}
}

func TestNATSBusDegradesWhenBrokerUnreachable(t *testing.T) {
	bus := NewNATSBus("nats://127.0.0.1:1", "node-a", zerolog.Nop())
	defer bus.Close()

	if err := bus.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail without a broker")
	}

	// Local delivery survives the missing broker.
	sub := bus.Subscribe(events.EventFillCompleted)
	defer bus.Unsubscribe(events.EventFillCompleted, sub)

	bus.Publish(events.EventFillCompleted, events.Payload{"request_id": "req-1"})

	select {
	case payload := <-sub:
		if payload["request_id"] != "req-1" {
			t.Errorf("payload = %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered locally")
	}
}

func TestNATSBusForwardsOnlyForeignRemoteEvents(t *testing.T) {
	bus := NewNATSBus("nats://127.0.0.1:1", "node-a", zerolog.Nop())
	defer bus.Close()

	sub := bus.Subscribe(events.EventCalendarChanged)
	defer bus.Unsubscribe(events.EventCalendarChanged, sub)

	deliver := func(nodeID, tag string) {
		t.Helper()
		data, err := json.Marshal(envelope{
			EventType: events.EventCalendarChanged,
			Payload:   events.Payload{"tag": tag},
			Timestamp: time.Now().UTC(),
			NodeID:    nodeID,
			MessageID: "msg",
		})
		if err != nil {
			t.Fatal(err)
		}
		bus.handleRemote(&nats.Msg{Subject: natsSubjectPrefix + string(events.EventCalendarChanged), Data: data})
	}

	// Our own publish already reached local subscribers; the broker echo
	// must not deliver it twice.
	deliver("node-a", "own")
	deliver("node-b", "foreign")

	select {
	case payload := <-sub:
		if payload["tag"] != "foreign" {
			t.Errorf("delivered tag = %v, want only the foreign event", payload["tag"])
		}
	case <-time.After(time.Second):
		t.Fatal("foreign event never delivered")
	}

	select {
	case payload := <-sub:
		t.Errorf("unexpected second delivery: %+v", payload)
	default:
	}
}

func TestGenerateNodeIDIsUniquePerCall(t *testing.T) {
	a, b := generateNodeID(), generateNodeID()
	if a == "" || a == b {
		t.Errorf("node ids %q and %q should be distinct and non-empty", a, b)
	}
}
