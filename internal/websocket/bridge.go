package chatws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const bridgeChannel = "chat:gateway:events"

// Bridge fans room, personal-channel and presence envelopes out across
// gateway instances over redis pub/sub. A single-instance deployment
// runs without one; room state itself stays per-process and is rebuilt
// by clients rejoining on reconnect.
type Bridge struct {
	client     *redis.Client
	instanceID string
}

type bridgeFrame struct {
	Origin  string `json:"origin"`
	Scope   string `json:"scope"`
	Room    int64  `json:"room,omitempty"`
	User    string `json:"user,omitempty"`
	Exclude string `json:"exclude,omitempty"`
	Event   *Event `json:"event"`
}

func NewBridge(client *redis.Client) *Bridge {
	return &Bridge{
		client:     client,
		instanceID: uuid.NewString(),
	}
}

func (b *Bridge) publish(env *envelope) {
	frame := bridgeFrame{
		Origin:  b.instanceID,
		Room:    env.room,
		User:    env.user,
		Exclude: env.exclude,
		Event:   env.event,
	}
	switch env.scope {
	case scopeRoom:
		frame.Scope = "room"
	case scopePersonal:
		frame.Scope = "personal"
	case scopePresence:
		frame.Scope = "presence"
	default:
		return
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		log.Printf("chat bridge encode: %v", err)
		return
	}

	// Publish off the hub goroutine; local delivery already happened.
	go func() {
		if err := b.client.Publish(context.Background(), bridgeChannel, payload).Err(); err != nil {
			log.Printf("chat bridge publish: %v", err)
		}
	}()
}

// Run subscribes and feeds remotely originated envelopes into the hub
// until ctx is canceled.
func (b *Bridge) Run(ctx context.Context, hub *Hub) {
	sub := b.client.Subscribe(ctx, bridgeChannel)
	defer func() {
		_ = sub.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}

			var frame bridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Printf("chat bridge decode: %v", err)
				continue
			}
			if frame.Origin == b.instanceID || frame.Event == nil {
				continue
			}

			env := &envelope{
				room:    frame.Room,
				user:    frame.User,
				exclude: frame.Exclude,
				event:   frame.Event,
			}
			switch frame.Scope {
			case "room":
				env.scope = scopeRoom
			case "personal":
				env.scope = scopePersonal
			case "presence":
				env.scope = scopePresence
			default:
				continue
			}
			hub.injectRemote(env)
		}
	}
}
