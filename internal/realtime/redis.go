package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	goretry "github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"campverse/internal/attendance"
)

// ChannelPrefix prefixes the Redis channel of each slot and date.
const ChannelPrefix = "attendance:slot:"

type envelope struct {
	Origin  string              `json:"origin"`
	Topic   string              `json:"topic"`
	Records []attendance.Record `json:"records"`
}

// RedisBridge publishes snapshots to local subscribers and on Redis Pub/Sub
// so subscribers attached to other instances receive them too.
type RedisBridge struct {
	hub    *Hub
	client *redis.Client
	id     string
	log    *zap.Logger

	reconnects atomic.Int64
}

func NewRedisBridge(hub *Hub, client *redis.Client, log *zap.Logger) *RedisBridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBridge{hub: hub, client: client, id: uuid.NewString(), log: log}
}

// Publish delivers locally, then forwards to the other instances. A Redis
// failure only costs remote delivery.
func (b *RedisBridge) Publish(ctx context.Context, key attendance.SlotKey, records []attendance.Record) {
	b.hub.Publish(ctx, key, records)
	payload, err := json.Marshal(envelope{Origin: b.id, Topic: key.String(), Records: records})
	if err != nil {
		b.log.Error("encode snapshot", zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, ChannelPrefix+key.String(), payload).Err(); err != nil {
		b.log.Warn("redis publish failed", zap.String("topic", key.String()), zap.Error(err))
	}
}

func (b *RedisBridge) Subscribe(key attendance.SlotKey, fn func([]attendance.Record)) func() {
	return b.hub.Subscribe(key, fn)
}

// Run relays snapshots published by other instances until ctx ends.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			b.relay([]byte(msg.Payload))
		}
	}
}

// Serve keeps Run alive until ctx ends, resubscribing after every failure
// with a fixed delay.
func (b *RedisBridge) Serve(ctx context.Context, reconnectDelay time.Duration) error {
	err := goretry.Do(ctx, goretry.NewConstant(reconnectDelay), func(ctx context.Context) error {
		err := b.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		n := b.reconnects.Add(1)
		b.log.Warn("snapshot bridge lost redis, reconnecting",
			zap.Int64("attempt", n), zap.Duration("delay", reconnectDelay), zap.Error(err))
		return goretry.RetryableError(err)
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (b *RedisBridge) relay(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.Warn("drop malformed snapshot", zap.Error(err))
		return
	}
	if env.Origin == b.id {
		return
	}
	b.hub.deliver(env.Topic, env.Records)
}

var _ attendance.Broadcaster = (*RedisBridge)(nil)
