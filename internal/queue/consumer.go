package queue

import (
	"context"

	"group_buy/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Handler 处理一条已通过信封校验的消息。
type Handler func(ctx context.Context, key, value []byte) error

// reader 便于测试替换 kafka.Reader。
type reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	r      reader
	handle Handler
	logg   *logger.Logger
}

func NewConsumer(brokers []string, topic, groupID string, handle Handler, logg *logger.Logger) *Consumer {
	return newConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	}), handle, logg)
}

func newConsumer(r reader, handle Handler, logg *logger.Logger) *Consumer {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Consumer{r: r, handle: handle, logg: logg}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run 循环消费直到 ctx 取消。
// ReadMessage 在消费者组模式下会自动提交 offset：处理失败的消息只记日志，不会重投（至多一次）。
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}

		logCtx := c.logg.WithFields(ctx, map[string]any{
			"key":       string(m.Key),
			"partition": m.Partition,
			"offset":    m.Offset,
		})
		if err := ValidateEnvelope(m.Value); err != nil {
			c.logg.Error(logCtx, "consumer dropped invalid envelope", err)
			continue
		}
		if err := c.handle(ctx, m.Key, m.Value); err != nil {
			c.logg.Error(logCtx, "consumer handle failed", err)
			continue
		}
	}
}
