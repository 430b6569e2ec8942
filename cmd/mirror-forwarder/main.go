package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"group_buy/internal/config"
	"group_buy/internal/mirror"
	"group_buy/internal/queue"
	"group_buy/pkg/logger"
)

// mirror-forwarder 消费 Kafka 上的镜像事件并转发到镜像 HTTP 端点。
// 消费即提交：转发失败只记日志，保持与直连 HTTP 相同的至多一次语义。
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror-forwarder: %v\n", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: cfg.ServiceName + "-mirror-forwarder",
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	if !cfg.MirrorEnabled() {
		fmt.Fprintln(os.Stderr, "mirror-forwarder: MIRROR_URL is required")
		os.Exit(1)
	}
	client, err := mirror.NewClient(cfg.MirrorURL, mirror.WithTimeout(cfg.MirrorTimeout))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror-forwarder: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.MirrorTopic, cfg.MirrorGroupID,
		func(ctx context.Context, _ []byte, value []byte) error {
			return client.Post(ctx, value)
		}, logg)
	defer consumer.Close()

	logg.Info(logg.WithFields(ctx, map[string]any{"topic": cfg.MirrorTopic, "group": cfg.MirrorGroupID}), "mirror forwarder started")
	consumer.Run(ctx)
	logg.Info(ctx, "mirror forwarder stopped")
}
