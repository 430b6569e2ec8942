package store

import (
	"context"
	"time"

	"group_buy/internal/model"

	"gorm.io/gorm"
)

// CampaignQuery 活动列表查询条件。
type CampaignQuery struct {
	Status  model.CampaignStatus
	EndDesc bool // 管理端按结束时间倒序，前台按正序
}

// CreateCampaign 新建活动，版本号从 1 开始。
func (s *Store) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Products == nil {
		c.Products = model.Products{}
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return err
	}
	s.publish(model.Change{Kind: model.ChangeCampaign, ID: c.ID, Version: c.Version})
	return nil
}

// GetCampaign 按 id 读取活动聚合（含商品与规格）。
func (s *Store) GetCampaign(ctx context.Context, id string) (*model.Campaign, error) {
	var c model.Campaign
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListCampaigns 按结束时间排序的活动列表。
func (s *Store) ListCampaigns(ctx context.Context, q CampaignQuery) ([]model.Campaign, error) {
	tx := s.db.WithContext(ctx).Model(&model.Campaign{})
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	order := "end_time ASC"
	if q.EndDesc {
		order = "end_time DESC"
	}
	var list []model.Campaign
	if err := tx.Order(order).Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// SwapCampaign 条件写入整棵活动树：仅当版本号仍为 expected 时成功，并把版本号加一。
func (s *Store) SwapCampaign(ctx context.Context, c *model.Campaign, expected int64) error {
	if err := swapCampaign(s.db.WithContext(ctx), c, expected, s.now()); err != nil {
		return err
	}
	s.publish(model.Change{Kind: model.ChangeCampaign, ID: c.ID, Version: c.Version})
	return nil
}

// CommitOrder 在同一事务内完成活动树的条件写入与订单创建。
// 任一步失败整体回滚；版本冲突返回 ErrVersionConflict。
func (s *Store) CommitOrder(ctx context.Context, c *model.Campaign, expected int64, order *model.Order) error {
	now := s.now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := swapCampaign(tx, c, expected, now); err != nil {
			return err
		}
		return tx.Create(order).Error
	})
	if err != nil {
		c.Version = expected
		return err
	}
	s.publish(
		model.Change{Kind: model.ChangeCampaign, ID: c.ID, Version: c.Version},
		model.Change{Kind: model.ChangeOrder, ID: order.ID},
	)
	return nil
}

func swapCampaign(tx *gorm.DB, c *model.Campaign, expected int64, now time.Time) error {
	res := tx.Model(&model.Campaign{}).
		Where("id = ? AND version = ?", c.ID, expected).
		Updates(map[string]any{
			"title":           c.Title,
			"description":     c.Description,
			"status":          c.Status,
			"threshold_value": c.ThresholdValue,
			"current_value":   c.CurrentValue,
			"start_time":      c.StartTime,
			"end_time":        c.EndTime,
			"products":        c.Products,
			"version":         expected + 1,
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	c.Version = expected + 1
	return nil
}
