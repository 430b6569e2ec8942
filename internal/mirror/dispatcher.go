package mirror

import (
	"context"
	"sync"
	"time"

	"group_buy/internal/metrics"
	"group_buy/pkg/logger"
)

// Sink 是镜像的实际投递通道（HTTP 端点或 Kafka）。
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Publisher 由领域服务持有：发布即返回，不等待结果。
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher 未配置镜像时使用。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}

// DispatcherOptions 投递器参数。
type DispatcherOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Logger    *logger.Logger
	Metrics   *metrics.Recorder
}

// Dispatcher 把事件放入有界队列，由固定数量的 worker 尽力投递。
// 语义是至多一次：队列满直接丢弃，投递失败只记日志，不重试。
type Dispatcher struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration
	logg    *logger.Logger
	rec     *metrics.Recorder

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, opts.QueueSize),
		timeout: opts.Timeout,
		logg:    opts.Logger,
		rec:     opts.Metrics,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish 非阻塞入队。
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, ev, "dispatcher closed")
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.drop(ctx, ev, "mirror queue full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, ev Event, reason string) {
	d.rec.Mirror(string(ev.Type), metrics.MirrorDropped)
	logCtx := d.logg.WithFields(ctx, map[string]any{"event_type": ev.Type, "key": ev.Key})
	d.logg.Warn(logCtx, "mirror event dropped: "+reason)
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	logCtx := d.logg.WithFields(ctx, map[string]any{"event_type": ev.Type, "key": ev.Key})
	if err := d.sink.Send(ctx, ev); err != nil {
		d.rec.Mirror(string(ev.Type), metrics.MirrorFailed)
		d.logg.Error(logCtx, "mirror sync failed", err)
		return
	}
	d.rec.Mirror(string(ev.Type), metrics.MirrorSent)
	d.logg.Debug(logCtx, "mirror event sent")
}

// Close 停止接收新事件，并在 ctx 截止前尽量投递完队列中的事件。
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
