package feed

import (
	"context"
	"sync"
	"time"

	"group_buy/internal/metrics"
	"group_buy/internal/mirror"
	"group_buy/internal/model"
	"group_buy/internal/store"
	"group_buy/pkg/logger"
)

// 列表数据来源。
const (
	SourceStore  = "store"
	SourceMirror = "mirror"
)

type recordStore interface {
	ListCampaigns(ctx context.Context, q store.CampaignQuery) ([]model.Campaign, error)
	ListOrders(ctx context.Context, q store.OrderQuery) ([]model.Order, error)
}

type mirrorReader interface {
	FetchCampaigns(ctx context.Context) (mirror.FetchResult[model.Campaign], error)
	FetchOrders(ctx context.Context) (mirror.FetchResult[model.Order], error)
}

// Listing 一次完整的列表结果；来自镜像时不与存储数据合并。
type Listing[T any] struct {
	Source      string `json:"source"`
	Records     []T    `json:"records"`
	Quarantined int    `json:"quarantined,omitempty"`
}

// Loader 优先查询存储；存储为空时退回镜像的读端点。
type Loader struct {
	store  recordStore
	mirror mirrorReader
	rec    *metrics.Recorder
	logg   *logger.Logger
}

func NewLoader(st recordStore, mr mirrorReader, rec *metrics.Recorder, logg *logger.Logger) *Loader {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Loader{store: st, mirror: mr, rec: rec, logg: logg}
}

func (l *Loader) Campaigns(ctx context.Context, q store.CampaignQuery) (Listing[model.Campaign], error) {
	list, err := l.store.ListCampaigns(ctx, q)
	if err != nil {
		return Listing[model.Campaign]{}, err
	}
	if len(list) > 0 || l.mirror == nil {
		return Listing[model.Campaign]{Source: SourceStore, Records: nonNil(list)}, nil
	}
	res, err := l.mirror.FetchCampaigns(ctx)
	if err != nil {
		return Listing[model.Campaign]{}, err
	}
	l.quarantined(ctx, mirror.ActionGetGroupBuys, res.Quarantined)
	records := make([]model.Campaign, 0, len(res.Records))
	for _, c := range res.Records {
		if q.Status == "" || c.Status == q.Status {
			records = append(records, c)
		}
	}
	return Listing[model.Campaign]{Source: SourceMirror, Records: records, Quarantined: res.Quarantined}, nil
}

func (l *Loader) Orders(ctx context.Context, q store.OrderQuery) (Listing[model.Order], error) {
	list, err := l.store.ListOrders(ctx, q)
	if err != nil {
		return Listing[model.Order]{}, err
	}
	if len(list) > 0 || l.mirror == nil {
		return Listing[model.Order]{Source: SourceStore, Records: nonNil(list)}, nil
	}
	res, err := l.mirror.FetchOrders(ctx)
	if err != nil {
		return Listing[model.Order]{}, err
	}
	l.quarantined(ctx, mirror.ActionGetOrders, res.Quarantined)
	records := make([]model.Order, 0, len(res.Records))
	for _, o := range res.Records {
		if (q.UserID == "" || o.UserID == q.UserID) && (q.GroupBuyID == "" || o.GroupBuyID == q.GroupBuyID) {
			records = append(records, o)
		}
	}
	return Listing[model.Order]{Source: SourceMirror, Records: records, Quarantined: res.Quarantined}, nil
}

func (l *Loader) quarantined(ctx context.Context, action string, n int) {
	if n == 0 {
		return
	}
	l.rec.Quarantined(action, n)
	l.logg.Warn(l.logg.WithFields(ctx, map[string]any{"action": action, "count": n}), "mirror records quarantined")
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// CampaignView 订阅方持有的活动列表：每次变更重新加载；来源为镜像时按间隔轮询。
// 每次加载整体替换，最后一次写入生效。
type CampaignView struct {
	loader *Loader
	query  store.CampaignQuery
	logg   *logger.Logger

	mu      sync.RWMutex
	current Listing[model.Campaign]
	loaded  bool
}

func NewCampaignView(loader *Loader, q store.CampaignQuery) *CampaignView {
	return &CampaignView{loader: loader, query: q, logg: loader.logg}
}

// Snapshot 返回当前视图；尚未加载时 ok=false。
func (v *CampaignView) Snapshot() (Listing[model.Campaign], bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current, v.loaded
}

// Refresh 重新加载并替换视图。失败时保留旧视图。
func (v *CampaignView) Refresh(ctx context.Context) error {
	listing, err := v.loader.Campaigns(ctx, v.query)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.current = listing
	v.loaded = true
	v.mu.Unlock()
	return nil
}

// Run 跟随订阅刷新视图，直到 ctx 取消或订阅关闭。
func (v *CampaignView) Run(ctx context.Context, sub *Subscription, poll time.Duration) error {
	if err := v.Refresh(ctx); err != nil {
		v.logg.Error(ctx, "campaign view initial load failed", err)
	}
	var tick <-chan time.Time
	if poll > 0 {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-sub.C():
			if !ok {
				return nil
			}
			if change.Kind != model.ChangeCampaign {
				continue
			}
			if err := v.Refresh(ctx); err != nil {
				v.logg.Error(ctx, "campaign view reload failed", err)
			}
		case <-tick:
			if snap, loaded := v.Snapshot(); loaded && snap.Source == SourceStore {
				continue
			}
			if err := v.Refresh(ctx); err != nil {
				v.logg.Warn(v.logg.WithField(ctx, "error", err.Error()), "campaign view mirror poll failed")
			}
		}
	}
}
