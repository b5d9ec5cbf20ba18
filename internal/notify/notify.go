// Package notify publishes upload lifecycle events so operators and dashboards
// can follow the worker without polling /stat.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "uploadmgr:jobs"

const publishTimeout = 5 * time.Second

// Lifecycle events.
const (
	EventUploadStarted  = "upload_started"
	EventUploadFinished = "upload_finished"
	EventUploadFailed   = "upload_failed"
)

// Notification is the JSON message published for each lifecycle event.
type Notification struct {
	Event   string `json:"event"`
	EventID string `json:"event_id"`
	RoomID  uint64 `json:"room_id"`
	AVID    *int64 `json:"avid,omitempty"`
	Error   string `json:"error,omitempty"`
	At      int64  `json:"at"`
}

// Publisher delivers notifications. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Publish(context.Context, Notification) error { return nil }

// RedisPubSub publishes notifications on a Redis channel.
type RedisPubSub struct {
	client  *redis.Client
	channel string
	now     func() time.Time
	logger  *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub publisher on channel.
func NewRedisPubSub(client *redis.Client, channel string, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPubSub{client: client, channel: channel, now: time.Now, logger: logger}
}

// Publish sends n to the channel, stamping At when unset.
func (r *RedisPubSub) Publish(ctx context.Context, n Notification) error {
	if n.At == 0 {
		n.At = r.now().Unix()
	}
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", n.Event, err)
	}
	return nil
}

// Subscribe calls handler for every notification on the channel until ctx is done.
func (r *RedisPubSub) Subscribe(ctx context.Context, handler func(Notification)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				r.logger.Debug("skipping malformed notification", zap.Error(err))
				continue
			}
			handler(n)
		}
	}
}
