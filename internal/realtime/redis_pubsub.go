package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "participant:"
	publishTTL    = 5 * time.Second
)

// Channel is the Redis pub/sub channel carrying a participant's notifications.
func Channel(participantID uuid.UUID) string {
	return channelPrefix + participantID.String()
}

// Message is what travels on a participant channel.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub publishes and subscribes to participant channels. Chat gateways subscribe
// to the same channels to render notifications.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for participant events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishParticipantEvent publishes an event on the participant's channel.
func (r *RedisPubSub) PublishParticipantEvent(ctx context.Context, participantID uuid.UUID, event string, payload []byte) error {
	body, err := json.Marshal(Message{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTTL)
	defer cancel()
	if err := r.client.Publish(ctx, Channel(participantID), body).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// SubscribeParticipant calls handler for each message on the participant's channel until
// the returned cancel function is called.
func (r *RedisPubSub) SubscribeParticipant(participantID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel(participantID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					r.logger.Debug("dropping malformed participant message", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(m.Event, m.Data)
			}
		}
	}()
	return cancelCtx, nil
}
