package feed

import (
	"context"
	"encoding/json"
	"errors"

	"group_buy/internal/model"
	"group_buy/pkg/logger"

	rd "github.com/redis/go-redis/v9"
)

// RedisBridge 通过 Redis pub/sub 让多个实例共享同一份变更流。
type RedisBridge struct {
	rdb     *rd.Client
	channel string
	origin  string
	out     chan model.Change
	logg    *logger.Logger
}

func NewRedisBridge(rdb *rd.Client, channel, origin string, buffer int, logg *logger.Logger) *RedisBridge {
	if buffer <= 0 {
		buffer = 256
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &RedisBridge{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		out:     make(chan model.Change, buffer),
		logg:    logg,
	}
}

// Forward 非阻塞入队，队列满时丢弃。
func (b *RedisBridge) Forward(change model.Change) {
	select {
	case b.out <- change:
	default:
		b.logg.Warn(b.logg.WithField(context.Background(), "id", change.ID), "feed bridge queue full, change not forwarded")
	}
}

// Run 订阅频道：远端变更投递给 hub，本地变更发布到频道。ctx 取消时返回。
func (b *RedisBridge) Run(ctx context.Context, hub *Hub) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-b.out:
			raw, err := json.Marshal(change)
			if err != nil {
				continue
			}
			if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil && !errors.Is(err, context.Canceled) {
				b.logg.Error(ctx, "feed bridge publish failed", err)
			}
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			var change model.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logg.Warn(b.logg.WithField(ctx, "payload", msg.Payload), "feed bridge dropped malformed message")
				continue
			}
			if change.Origin == b.origin {
				continue
			}
			hub.Deliver(change)
		}
	}
}
