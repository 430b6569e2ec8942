package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"group_buy/internal/metrics"
	"group_buy/internal/mirror"
	"group_buy/internal/model"
	"group_buy/internal/store"
	pkgerrors "group_buy/pkg/errors"
	"group_buy/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// CartItem 客户端暂存的购物车行；价格仅供参考，提交时以存储中的价格为准。
type CartItem struct {
	GroupBuyID  string `json:"groupBuyId" validate:"required"`
	ProductID   string `json:"productId" validate:"required"`
	VariantID   string `json:"variantId" validate:"required"`
	Name        string `json:"name"`
	VariantName string `json:"variantName"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity" validate:"gte=1"`
}

// Actor 下单人；UserID 为空按访客处理。
type Actor struct {
	UserID string
}

type campaignStore interface {
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	CommitOrder(ctx context.Context, c *model.Campaign, expected int64, order *model.Order) error
}

// Options 引擎参数。
type Options struct {
	MaxAttempts int
	RetryBase   time.Duration
	Logger      *logger.Logger
	Metrics     *metrics.Recorder
	Now         func() time.Time
	NewID       func() string
}

// Engine 把购物车转成订单：按活动分区，每个分区独立地做条件写入，保证不超卖。
type Engine struct {
	store       campaignStore
	mirror      mirror.Publisher
	maxAttempts int
	retryBase   time.Duration
	logg        *logger.Logger
	rec         *metrics.Recorder
	now         func() time.Time
	newID       func() string
}

func NewEngine(st campaignStore, publisher mirror.Publisher, opts Options) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("campaign store required")
	}
	if publisher == nil {
		publisher = mirror.NopPublisher{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 2 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		store:       st,
		mirror:      publisher,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		logg:        opts.Logger,
		rec:         opts.Metrics,
		now:         opts.Now,
		newID:       opts.NewID,
	}, nil
}

// SubmitOrder 校验输入后逐个活动分区提交。
// 输入不合法时返回 VALIDATION_ERROR 且不做任何写入；分区失败记录在 Result.Errors 中，不影响其他分区。
func (e *Engine) SubmitOrder(ctx context.Context, items []CartItem, ship model.ShippingInfo, actor Actor) (Result, error) {
	ship.Name = strings.TrimSpace(ship.Name)
	ship.Phone = strings.TrimSpace(ship.Phone)
	if err := validateInput(items, ship); err != nil {
		e.rec.Partition(metrics.OutcomeInvalid)
		return Result{}, err
	}
	userID := strings.TrimSpace(actor.UserID)
	if userID == "" {
		userID = model.GuestUserID
	}
	ctx = e.logg.WithUserID(ctx, userID)

	res := Result{OrderIDs: []string{}}
	for _, p := range partition(items) {
		pctx := e.logg.WithCampaignID(ctx, p.groupBuyID)
		order, skipped, err := e.commitPartition(pctx, p, ship, userID)
		switch {
		case err != nil:
			e.rec.Partition(outcomeOf(err))
			e.logg.Warn(e.logg.WithField(pctx, "error", err.Error()), "partition aborted")
			res.Errors = append(res.Errors, PartitionError{GroupBuyID: p.groupBuyID, Err: err})
		case skipped:
			// 活动不存在：不建单也不报错
			e.rec.Partition(metrics.OutcomeSkipped)
			e.logg.Warn(pctx, "campaign not found at commit, partition skipped")
		default:
			e.rec.Partition(metrics.OutcomeCommitted)
			res.OrderIDs = append(res.OrderIDs, order.ID)
			res.Orders = append(res.Orders, *order)
			e.logg.Info(e.logg.WithField(pctx, "order_id", order.ID), "order committed")
			e.mirror.Publish(pctx, mirror.OrderPlaced(*order, e.now()))
		}
	}
	return res, nil
}

type cartPartition struct {
	groupBuyID string
	items      []CartItem
}

// partition 按活动 id 分组，保持首次出现的顺序。
func partition(items []CartItem) []cartPartition {
	index := map[string]int{}
	var out []cartPartition
	for _, it := range items {
		i, ok := index[it.GroupBuyID]
		if !ok {
			i = len(out)
			index[it.GroupBuyID] = i
			out = append(out, cartPartition{groupBuyID: it.GroupBuyID})
		}
		out[i].items = append(out[i].items, it)
	}
	return out
}

// commitPartition 读取 → 校验库存 → 条件写入；版本冲突时从读取重新开始，次数有上限。
func (e *Engine) commitPartition(ctx context.Context, p cartPartition, ship model.ShippingInfo, userID string) (*model.Order, bool, error) {
	var (
		committed *model.Order
		skipped   bool
	)
	backoff := retry.NewExponential(e.retryBase)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithCappedDuration(50*time.Millisecond, backoff)
	backoff = retry.WithMaxRetries(uint64(e.maxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := e.store.GetCampaign(ctx, p.groupBuyID)
		if errors.Is(err, store.ErrNotFound) {
			skipped = true
			return nil
		}
		if err != nil {
			return err
		}
		order, next, err := e.reserve(c, p.items, ship, userID)
		if err != nil {
			return err
		}
		if err := e.store.CommitOrder(ctx, next, c.Version, order); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				e.rec.Retry()
				return retry.RetryableError(err)
			}
			return err
		}
		committed = order
		return nil
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeTransactionConflict, err,
			fmt.Sprintf("campaign %s changed concurrently, gave up after %d attempts", p.groupBuyID, e.maxAttempts))
	}
	if err != nil {
		return nil, false, err
	}
	return committed, skipped, nil
}

// reserve 在快照副本上累加 sold 并生成订单；任一行库存不足则整个分区放弃。
func (e *Engine) reserve(c *model.Campaign, items []CartItem, ship model.ShippingInfo, userID string) (*model.Order, *model.Campaign, error) {
	if c.Status == model.CampaignDraft {
		return nil, nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "活动 %s 尚未开放", c.Title)
	}
	products := c.Products.Clone()
	lines := make(model.LineItems, 0, len(items))
	for _, it := range items {
		pi, vi, ok := products.FindVariant(it.ProductID, it.VariantID)
		if !ok {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "商品 %s 规格不存在", itemName(it))
		}
		prod := products[pi]
		v := &products[pi].Variants[vi]
		if v.Stock-v.Sold < it.Quantity {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeInsufficientStock, "商品 %s 库存不足", prod.Name).
				WithDetails(map[string]any{"productId": prod.ID, "variantId": v.ID, "available": v.Available()})
		}
		v.Sold += it.Quantity
		lines = append(lines, model.LineItem{
			ProductID:   prod.ID,
			VariantID:   v.ID,
			Name:        prod.Name,
			VariantName: v.Name,
			Price:       v.Price,
			Quantity:    it.Quantity,
		})
	}

	next := *c
	next.Products = products
	order := &model.Order{
		ID:            e.newID(),
		UserID:        userID,
		GroupBuyID:    c.ID,
		GroupBuyTitle: c.Title,
		Items:         lines,
		TotalAmount:   lines.Total(),
		Status:        model.OrderUnshipped,
		ShippingInfo:  ship,
		CreatedAt:     e.now(),
	}
	return order, &next, nil
}

func validateInput(items []CartItem, ship model.ShippingInfo) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}
	if err := validate.Struct(ship); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "shipping name and phone are required")
	}
	for i, it := range items {
		if err := validate.Struct(it); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("cart item %d is invalid", i))
		}
	}
	return nil
}

func itemName(it CartItem) string {
	if it.Name != "" {
		return it.Name
	}
	return it.VariantID
}

func outcomeOf(err error) string {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInsufficientStock:
		return metrics.OutcomeInsufficientStock
	case pkgerrors.CodeTransactionConflict:
		return metrics.OutcomeConflict
	case pkgerrors.CodeValidation, pkgerrors.CodeNotFound, pkgerrors.CodeStateConflict:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}
