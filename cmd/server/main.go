package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"group_buy/internal/campaign"
	"group_buy/internal/checkout"
	"group_buy/internal/config"
	"group_buy/internal/feed"
	"group_buy/internal/member"
	"group_buy/internal/metrics"
	"group_buy/internal/mirror"
	"group_buy/internal/queue"
	"group_buy/internal/router"
	"group_buy/internal/store"
	"group_buy/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. 配置与日志
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logg := logger.New(logger.Options{
		ServiceName: cfg.ServiceName,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	// 2. 实时推送：进程内 hub + Redis 跨实例桥接
	instanceID := uuid.NewString()
	hub := feed.NewHub(feed.HubOptions{Buffer: cfg.FeedBuffer, Origin: instanceID, Metrics: rec, Logger: logg})

	// 3. 存储（建表）
	db, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return err
	}
	st := store.New(db, store.WithNotifier(hub))

	// 4. Redis：限流、幂等、推送桥接。不可用时相关功能降级
	rdb := rd.NewClient(&rd.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	redisUp := rdb.Ping(ctx).Err() == nil
	if !redisUp {
		logg.Warn(logg.WithField(ctx, "addr", cfg.RedisAddr), "redis unreachable, rate limit and idempotency fail open")
	}

	// 5. 外部镜像：写入按传输方式选择，读取只走 HTTP
	var (
		mirrorClient *mirror.Client
		sink         mirror.Sink
		producer     *queue.Producer
	)
	if cfg.MirrorEnabled() {
		if mirrorClient, err = mirror.NewClient(cfg.MirrorURL, mirror.WithTimeout(cfg.MirrorTimeout)); err != nil {
			return err
		}
	}
	switch cfg.MirrorTransport {
	case config.MirrorTransportHTTP:
		if mirrorClient != nil {
			sink = mirrorClient
		}
	case config.MirrorTransportKafka:
		producer = queue.NewProducer(cfg.KafkaBrokers, cfg.MirrorTopic)
		sink = mirror.NewKafkaSink(producer)
	}
	var (
		publisher  mirror.Publisher = mirror.NopPublisher{}
		dispatcher *mirror.Dispatcher
	)
	if sink != nil {
		dispatcher = mirror.NewDispatcher(sink, mirror.DispatcherOptions{
			Workers:   cfg.MirrorWorkers,
			QueueSize: cfg.MirrorQueueSize,
			Timeout:   cfg.MirrorTimeout,
			Logger:    logg,
			Metrics:   rec,
		})
		publisher = dispatcher
	} else {
		logg.Warn(ctx, "mirror propagation disabled")
	}

	// 6. 业务服务
	engine, err := checkout.NewEngine(st, publisher, checkout.Options{
		MaxAttempts: cfg.CheckoutMaxAttempts,
		Logger:      logg,
		Metrics:     rec,
	})
	if err != nil {
		return err
	}
	campaigns, err := campaign.NewService(st, publisher, campaign.Options{MaxAttempts: cfg.CheckoutMaxAttempts, Logger: logg})
	if err != nil {
		return err
	}
	members, err := member.NewService(st, publisher, logg)
	if err != nil {
		return err
	}

	// 存储为空时退回镜像读取；未配置镜像则只读存储
	loader := feed.NewLoader(st, nil, rec, logg)
	if mirrorClient != nil {
		loader = feed.NewLoader(st, mirrorClient, rec, logg)
	}
	view := feed.NewCampaignView(loader, store.CampaignQuery{})

	deps := router.Deps{
		Config:    cfg,
		Store:     st,
		Engine:    engine,
		Campaigns: campaigns,
		Members:   members,
		Loader:    loader,
		View:      view,
		Hub:       hub,
		Logger:    logg,
		Gatherer:  reg,
	}
	if redisUp {
		deps.Redis = rdb
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	router.Setup(r, deps)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info(logg.WithField(ctx, "addr", cfg.HTTPAddr), "http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	viewSub := hub.Subscribe()
	g.Go(func() error {
		return view.Run(gctx, viewSub, cfg.FeedPollInterval)
	})
	if redisUp {
		bridge := feed.NewRedisBridge(rdb, cfg.FeedChannel, instanceID, cfg.FeedBuffer, logg)
		hub.SetForwarder(bridge)
		g.Go(func() error {
			if err := bridge.Run(gctx, hub); err != nil {
				logg.Error(gctx, "feed bridge stopped", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		viewSub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// 7. 释放资源：先排空镜像队列，再关闭连接
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var closeErr error
	if dispatcher != nil {
		closeErr = multierr.Append(closeErr, dispatcher.Close(closeCtx))
	}
	if producer != nil {
		closeErr = multierr.Append(closeErr, producer.Close())
	}
	closeErr = multierr.Append(closeErr, rdb.Close())
	if sqlDB, err := db.DB(); err == nil {
		closeErr = multierr.Append(closeErr, sqlDB.Close())
	}
	logg.Info(ctx, "server stopped")
	return multierr.Append(runErr, closeErr)
}
