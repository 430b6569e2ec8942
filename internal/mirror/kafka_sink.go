package mirror

import (
	"context"
	"encoding/json"
)

type kafkaPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaSink 把信封写入 Kafka，由 mirror-forwarder 转发到镜像端点。
type KafkaSink struct {
	producer kafkaPublisher
}

func NewKafkaSink(producer kafkaPublisher) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, ev.Key, body)
}
