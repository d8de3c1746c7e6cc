package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// bridgeChannel is the single pub/sub channel all instances share.
const bridgeChannel = "chat:events"

// bridgeEnvelope is the cross-instance frame. Target > 0 addresses one
// user, Target == 0 is a broadcast minus Except. Origin lets an instance
// drop its own publications, since Redis echoes to every subscriber.
type bridgeEnvelope struct {
	Origin string          `json:"origin"`
	Target int             `json:"target"`
	Except int             `json:"except,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Bridge fans events out to the other instances through Redis pub/sub,
// and feeds the ones they publish into the local registry. With a single
// instance there is simply no bridge.
type Bridge struct {
	redis    *redis.Client
	registry *Registry
	logger   *slog.Logger
	instance string
}

func NewBridge(rdb *redis.Client, registry *Registry, logger *slog.Logger) *Bridge {
	return &Bridge{
		redis:    rdb,
		registry: registry,
		logger:   logger,
		instance: uuid.NewString(),
	}
}

// PublishToUser hands a per-user event to whichever instance holds that
// user's socket.
func (b *Bridge) PublishToUser(userID int, event string, payload any) {
	b.publish(bridgeEnvelope{Target: userID, Event: event}, payload)
}

// PublishToAll hands a broadcast to every other instance.
func (b *Bridge) PublishToAll(event string, payload any, except int) {
	b.publish(bridgeEnvelope{Except: except, Event: event}, payload)
}

func (b *Bridge) publish(env bridgeEnvelope, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env.Origin = b.instance
	env.Data = data

	raw, _ := json.Marshal(env)
	if err := b.redis.Publish(context.Background(), bridgeChannel, raw).Err(); err != nil {
		b.logger.Warn("bridge publish failed", "event", env.Event, "error", err)
	}
}

// Run subscribes and relays incoming envelopes to local connections
// until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, bridgeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	b.logger.Info("✅ bridge subscribed", "channel", bridgeChannel, "instance", b.instance)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.deliver([]byte(msg.Payload))
		}
	}
}

func (b *Bridge) deliver(raw []byte) {
	var env bridgeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Warn("bridge dropped malformed envelope", "error", err)
		return
	}
	// Our own publication coming back around.
	if env.Origin == b.instance {
		return
	}

	frame, _ := json.Marshal(Envelope{Event: env.Event, Data: env.Data})
	if env.Target > 0 {
		b.registry.SendTo(env.Target, frame)
		return
	}
	b.registry.Broadcast(frame, env.Except)
}
