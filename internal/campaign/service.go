package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

// Definition 管理端提交的活动定义。
type Definition struct {
	Title          string          `json:"title" validate:"required"`
	Description    string          `json:"description"`
	ThresholdValue int64           `json:"thresholdValue" validate:"gte=0"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        time.Time       `json:"endTime" validate:"required"`
	Products       []model.Product `json:"products" validate:"dive"`
}

type campaignStore interface {
	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id string) (*model.Campaign, error)
	SwapCampaign(ctx context.Context, c *model.Campaign, expected int64) error
}

type Options struct {
	MaxAttempts int
	RetryBase   time.Duration
	Logger      *logger.Logger
	Now         func() time.Time
	NewID       func() string
}

// Service 管理活动状态：draft → open → closed，没有回退。
type Service struct {
	store       campaignStore
	mirror      mirror.Publisher
	maxAttempts int
	retryBase   time.Duration
	logg        *logger.Logger
	now         func() time.Time
	newID       func() string
}

func NewService(st campaignStore, publisher mirror.Publisher, opts Options) (*Service, error) {
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
	return &Service{
		store:       st,
		mirror:      publisher,
		maxAttempts: opts.MaxAttempts,
		retryBase:   opts.RetryBase,
		logg:        opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
	}, nil
}

// Open 直接以 open 状态创建活动，currentValue 从 0 开始。
func (s *Service) Open(ctx context.Context, def Definition) (*model.Campaign, error) {
	c, err := s.create(ctx, def, model.CampaignOpen)
	if err != nil {
		return nil, err
	}
	s.mirror.Publish(ctx, mirror.CampaignCreated(*c, s.now()))
	return c, nil
}

// CreateDraft 保存草稿，不同步到镜像。
func (s *Service) CreateDraft(ctx context.Context, def Definition) (*model.Campaign, error) {
	return s.create(ctx, def, model.CampaignDraft)
}

// Publish 草稿上架。已经 open 的活动直接返回。
func (s *Service) Publish(ctx context.Context, id string) (*model.Campaign, error) {
	var transitioned bool
	c, err := s.mutate(ctx, id, func(c *model.Campaign) (bool, error) {
		switch c.Status {
		case model.CampaignOpen:
			return false, nil
		case model.CampaignClosed:
			return false, pkgerrors.New(pkgerrors.CodeStateConflict, "campaign already closed")
		}
		c.Status = model.CampaignOpen
		transitioned = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if transitioned {
		s.logg.Info(s.logg.WithCampaignID(ctx, c.ID), "campaign published")
		s.mirror.Publish(ctx, mirror.CampaignCreated(*c, s.now()))
	}
	return c, nil
}

// Update 修改活动定义。沿用 id 的规格保留 sold；新规格 sold 从 0 开始；未出现的规格被移除。
// 草稿只落库，上架时再整体同步到镜像。
func (s *Service) Update(ctx context.Context, id string, def Definition) (*model.Campaign, error) {
	if err := s.checkDefinition(&def); err != nil {
		return nil, err
	}
	c, err := s.mutate(ctx, id, func(c *model.Campaign) (bool, error) {
		if c.Status == model.CampaignClosed {
			return false, pkgerrors.New(pkgerrors.CodeStateConflict, "closed campaigns cannot be edited")
		}
		products := mergeProducts(c.Products, def.Products)
		// 在最新读到的 sold 上校验，并发下单的累加同样被覆盖
		if err := checkStockCoversSold(products); err != nil {
			return false, err
		}
		c.Title = def.Title
		c.Description = def.Description
		c.ThresholdValue = def.ThresholdValue
		c.StartTime = def.StartTime
		c.EndTime = def.EndTime
		c.Products = products
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft {
		s.mirror.Publish(ctx, mirror.CampaignUpdated(*c, s.now()))
	}
	return c, nil
}

// SetProgress 管理端手动设置团购进度，与 sold 无关。
func (s *Service) SetProgress(ctx context.Context, id string, current int64) (*model.Campaign, error) {
	if current < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currentValue must not be negative")
	}
	var changed bool
	c, err := s.mutate(ctx, id, func(c *model.Campaign) (bool, error) {
		if c.Status == model.CampaignClosed {
			return false, pkgerrors.New(pkgerrors.CodeStateConflict, "closed campaigns cannot be edited")
		}
		if c.CurrentValue == current {
			return false, nil
		}
		c.CurrentValue = current
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if changed && c.Status != model.CampaignDraft {
		s.mirror.Publish(ctx, mirror.CampaignUpdated(*c, s.now()))
	}
	return c, nil
}

// Close 结单：必须显式确认；所有规格 stock 归零，sold 保留。重复结单不再写入也不再同步。
// 草稿须先上架才能结单。
func (s *Service) Close(ctx context.Context, id string, confirm bool) (*model.Campaign, error) {
	if !confirm {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "closing a campaign requires confirm=true")
	}
	var transitioned bool
	c, err := s.mutate(ctx, id, func(c *model.Campaign) (bool, error) {
		switch c.Status {
		case model.CampaignClosed:
			return false, nil
		case model.CampaignDraft:
			return false, pkgerrors.New(pkgerrors.CodeStateConflict, "draft campaigns must be published before closing")
		}
		c.Status = model.CampaignClosed
		for pi := range c.Products {
			for vi := range c.Products[pi].Variants {
				c.Products[pi].Variants[vi].Stock = 0
			}
		}
		transitioned = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if transitioned {
		s.logg.Info(s.logg.WithCampaignID(ctx, c.ID), "campaign closed")
		s.mirror.Publish(ctx, mirror.CampaignClosed(c.ID, s.now()))
	}
	return c, nil
}

func (s *Service) create(ctx context.Context, def Definition, status model.CampaignStatus) (*model.Campaign, error) {
	if err := s.checkDefinition(&def); err != nil {
		return nil, err
	}
	c := &model.Campaign{
		ID:             s.newID(),
		Title:          def.Title,
		Description:    def.Description,
		Status:         status,
		ThresholdValue: def.ThresholdValue,
		StartTime:      def.StartTime,
		EndTime:        def.EndTime,
		Products:       mergeProducts(nil, def.Products),
	}
	if c.StartTime.IsZero() {
		c.StartTime = s.now()
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"group_buy_id": c.ID, "status": c.Status}), "campaign created")
	return c, nil
}

// mutate 读取 → 修改 → 条件写入，与下单共用同一版本号，避免覆盖并发的 sold 累加。
// fn 返回 false 表示无需写入。
func (s *Service) mutate(ctx context.Context, id string, fn func(c *model.Campaign) (bool, error)) (*model.Campaign, error) {
	backoff := retry.NewExponential(s.retryBase)
	backoff = retry.WithJitterPercent(50, backoff)
	backoff = retry.WithCappedDuration(50*time.Millisecond, backoff)
	backoff = retry.WithMaxRetries(uint64(s.maxAttempts-1), backoff)

	var out *model.Campaign
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := s.store.GetCampaign(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "campaign %s not found", id)
		}
		if err != nil {
			return err
		}
		expected := c.Version
		c.Products = c.Products.Clone()
		write, err := fn(c)
		if err != nil {
			return err
		}
		if !write {
			out = c
			return nil
		}
		if err := s.store.SwapCampaign(ctx, c, expected); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = c
		return nil
	})
	if errors.Is(err, store.ErrVersionConflict) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeTransactionConflict, err, "campaign changed concurrently, try again")
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) checkDefinition(def *Definition) error {
	def.Title = strings.TrimSpace(def.Title)
	if err := validate.Struct(def); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid campaign definition")
	}
	if !def.StartTime.IsZero() && def.EndTime.Before(def.StartTime) {
		return pkgerrors.New(pkgerrors.CodeValidation, "endTime must not be before startTime")
	}
	return nil
}

func checkStockCoversSold(products model.Products) error {
	for _, p := range products {
		for _, v := range p.Variants {
			if v.Stock < v.Sold {
				return pkgerrors.Newf(pkgerrors.CodeValidation,
					"variant %s/%s stock %d is below sold %d", p.ID, v.ID, v.Stock, v.Sold)
			}
		}
	}
	return nil
}

// mergeProducts 用新定义替换商品树，按规格 id 继承旧的 sold，缺失的 id 自动生成。
func mergeProducts(current model.Products, next []model.Product) model.Products {
	sold := map[string]int64{}
	for _, p := range current {
		for _, v := range p.Variants {
			sold[p.ID+"/"+v.ID] = v.Sold
		}
	}
	out := make(model.Products, 0, len(next))
	for _, p := range next {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		variants := make([]model.Variant, 0, len(p.Variants))
		for _, v := range p.Variants {
			if v.ID == "" {
				v.ID = uuid.NewString()
			}
			v.Sold = sold[p.ID+"/"+v.ID]
			variants = append(variants, v)
		}
		p.Variants = variants
		out = append(out, p)
	}
	return out
}
