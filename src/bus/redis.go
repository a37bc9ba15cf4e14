package bus

import (
	"context"
	"encoding/json"

	goredis "github.com/redis/go-redis/v9"

	"presence/src/concurrency"
	"presence/src/logging"
)

// channelPattern matches every per-user status topic in one subscription,
// per spec.md §4.C's requirement that a single replication channel carry
// every subject's envelopes.
const channelPattern = "status:*"

// Redis is a cross-instance Bus: Join/Leave/local delivery are handled by
// an embedded Local, while Publish and inbound replication go through
// Redis Pub/Sub so every instance in the fleet observes every envelope —
// including the one it just published, via the same read loop. This
// keeps delivery to a single code path instead of a local-then-remote
// fork that could double-deliver.
type Redis struct {
	rdb    *goredis.Client
	local  *Local
	pubsub *goredis.PubSub
	done   chan struct{}
}

// NewRedis starts the replication bridge. Callers must call Close to stop
// the background read loop.
func NewRedis(rdb *goredis.Client) *Redis {
	r := &Redis{
		rdb:    rdb,
		local:  NewLocal(),
		pubsub: rdb.PSubscribe(context.Background(), channelPattern),
		done:   make(chan struct{}),
	}
	concurrency.GoSafe(r.readLoop)
	return r
}

func (r *Redis) Join(topic string, sub *Subscriber)  { r.local.Join(topic, sub) }
func (r *Redis) Leave(topic string, sub *Subscriber) { r.local.Leave(topic, sub) }

// Publish marshals env and publishes it to topic. Delivery to local
// subscribers happens only when the read loop observes the message come
// back from Redis, same as for every other instance in the fleet.
func (r *Redis) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, topic, data).Err()
}

func (r *Redis) readLoop() {
	ch := r.pubsub.Channel()
	for {
		select {
		case <-r.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logging.Log.WithError(err).Warn("bus: dropping malformed envelope")
				continue
			}
			_ = r.local.Publish(context.Background(), msg.Channel, env)
		}
	}
}

// Close stops the replication bridge. Local subscribers already joined
// keep their inboxes; they simply stop receiving remote traffic.
func (r *Redis) Close() error {
	close(r.done)
	return r.pubsub.Close()
}

var _ Bus = (*Redis)(nil)
