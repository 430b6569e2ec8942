package feed

import (
	"context"
	"sync"

	"group_buy/internal/metrics"
	"group_buy/internal/model"
	"group_buy/pkg/logger"
)

// Forwarder 把本实例的变更转发给其他实例。
type Forwarder interface {
	Forward(change model.Change)
}

// Subscription 一个订阅者；缓冲区满时丢弃最旧的变更。
type Subscription struct {
	hub *Hub
	ch  chan model.Change
}

func (s *Subscription) C() <-chan model.Change { return s.ch }

// Close 取消订阅并关闭通道，可重复调用。
func (s *Subscription) Close() { s.hub.remove(s) }

// Hub 进程内变更分发。实现 store.Notifier。
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	buffer  int
	origin  string
	forward Forwarder
	rec     *metrics.Recorder
	logg    *logger.Logger
}

type HubOptions struct {
	Buffer  int
	Origin  string // 实例标识，用于桥接时过滤自己发出的消息
	Metrics *metrics.Recorder
	Logger  *logger.Logger
}

func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Hub{
		subs:   map[*Subscription]struct{}{},
		buffer: opts.Buffer,
		origin: opts.Origin,
		rec:    opts.Metrics,
		logg:   opts.Logger,
	}
}

// SetForwarder 接入跨实例桥接。
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forward = f
}

func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan model.Change, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}

// Publish 分发本实例提交的变更，并交给桥接转发。
func (h *Hub) Publish(change model.Change) {
	if change.Origin == "" {
		change.Origin = h.origin
	}
	h.mu.Lock()
	forward := h.forward
	h.mu.Unlock()
	h.Deliver(change)
	if forward != nil {
		forward.Forward(change)
	}
}

// Deliver 只做本地分发，桥接收到的远端变更走这里。
func (h *Hub) Deliver(change model.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.offer(s, change)
	}
}

func (h *Hub) offer(s *Subscription, change model.Change) {
	for {
		select {
		case s.ch <- change:
			return
		default:
		}
		select {
		case <-s.ch:
			h.rec.FeedDropped()
			h.logg.Warn(h.logg.WithFields(context.Background(), map[string]any{
				"kind": change.Kind,
				"id":   change.ID,
			}), "feed subscriber buffer full, oldest change dropped")
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
