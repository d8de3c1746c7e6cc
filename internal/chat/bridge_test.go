package chat

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
)

// testBridge wires a bridge to a local registry only. deliver never
// touches Redis, so these tests need none.
func testBridge(r *Registry) *Bridge {
	return &Bridge{
		registry: r,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		instance: "local",
	}
}

func bridgeFrame(t *testing.T, origin string, target, except int, event string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(bridgeEnvelope{
		Origin: origin,
		Target: target,
		Except: except,
		Event:  event,
		Data:   data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestBridgeDeliverSkipsOwnOrigin(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := connlessClient(1)
	r.Register(1, a)
	bridge := testBridge(r)

	// Redis echoes publications back to every subscriber, the publishing
	// instance included; those must not come around as duplicates.
	bridge.deliver(bridgeFrame(t, "local", 1, 0, EventNewMessage, MessagePayload{}))
	expectNoFrames(t, a)
}

func TestBridgeDeliverTargetsOneUser(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := connlessClient(1)
	b := connlessClient(2)
	r.Register(1, a)
	r.Register(2, b)
	bridge := testBridge(r)

	payload := TypingEventPayload{ConversationID: 7, UserID: 1}
	bridge.deliver(bridgeFrame(t, "remote", 2, 0, EventTypingStarted, payload))

	var got TypingEventPayload
	json.Unmarshal(expectEvent(t, b, EventTypingStarted), &got)
	if got != payload {
		t.Errorf("payload did not survive the bridge: %+v", got)
	}
	expectNoFrames(t, a)

	// A target this instance does not hold is simply dropped; whichever
	// instance has the socket handles it.
	bridge.deliver(bridgeFrame(t, "remote", 99, 0, EventTypingStarted, payload))
	expectNoFrames(t, a)
	expectNoFrames(t, b)
}

func TestBridgeDeliverBroadcastSkipsActor(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := connlessClient(1)
	b := connlessClient(2)
	c := connlessClient(3)
	r.Register(1, a)
	r.Register(2, b)
	r.Register(3, c)
	bridge := testBridge(r)

	// Target zero is a broadcast minus the named actor, who already saw
	// the event on their own instance.
	bridge.deliver(bridgeFrame(t, "remote", 0, 1, EventPresenceChanged,
		PresencePayload{UserID: 1, Online: true}))

	expectNoFrames(t, a)
	expectEvent(t, b, EventPresenceChanged)
	expectEvent(t, c, EventPresenceChanged)
}

func TestBridgeDeliverDropsMalformed(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	a := connlessClient(1)
	r.Register(1, a)
	bridge := testBridge(r)

	bridge.deliver([]byte("{not json"))
	expectNoFrames(t, a)
}
