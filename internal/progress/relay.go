package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Relay mirrors progress events onto Redis Pub/Sub so feeds can be
// consumed from other instances of the service.
type Relay struct {
	client *redis.Client
}

// NewRelay creates a relay over an existing Redis client
func NewRelay(client *redis.Client) *Relay {
	return &Relay{client: client}
}

func progressChannel(jobID string) string {
	return fmt.Sprintf("conversion:progress:%s", jobID)
}

// Publish mirrors one event onto the job's Redis channel.
func (r *Relay) Publish(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, progressChannel(e.JobID), data).Err()
}

// Subscribe attaches to a job's Redis channel.
func (r *Relay) Subscribe(ctx context.Context, jobID string) *RemoteSubscription {
	pubsub := r.client.Subscribe(ctx, progressChannel(jobID))
	return &RemoteSubscription{
		pubsub: pubsub,
		ch:     pubsub.Channel(),
	}
}

// SubscribeAll attaches to every job's progress channel.
func (r *Relay) SubscribeAll(ctx context.Context) *RemoteSubscription {
	pubsub := r.client.PSubscribe(ctx, progressChannel("*"))
	return &RemoteSubscription{
		pubsub: pubsub,
		ch:     pubsub.Channel(),
	}
}

// Mirror pumps events relayed by other instances into the local
// publisher, so SSE and WebSocket subscribers here can follow jobs
// running elsewhere. isLocal filters out this instance's own events,
// which already flow through the publisher directly. Blocks until ctx
// is cancelled.
func (r *Relay) Mirror(ctx context.Context, pub *Publisher, isLocal func(jobID string) bool) {
	sub := r.SubscribeAll(ctx)
	defer sub.Close()

	events := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if isLocal != nil && isLocal(e.JobID) {
				continue
			}
			pub.Publish(e.JobID, e)
		}
	}
}

// Ping verifies the Redis connection.
func (r *Relay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RemoteSubscription wraps a Redis pub/sub subscription for progress events
type RemoteSubscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

// Channel returns a channel that receives progress events
func (s *RemoteSubscription) Channel() <-chan *Event {
	eventCh := make(chan *Event)

	go func() {
		defer close(eventCh)
		for msg := range s.ch {
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			eventCh <- &e
		}
	}()

	return eventCh
}

// Close closes the subscription
func (s *RemoteSubscription) Close() error {
	return s.pubsub.Close()
}
