package store

import (
	"context"

	"group_buy/internal/model"
)

// OrderQuery 订单查询条件；UserID 为空时返回全部订单。
type OrderQuery struct {
	UserID     string
	GroupBuyID string
	Limit      int
}

// Revenue 营收汇总，已取消订单不计入。
type Revenue struct {
	OrderCount  int64 `json:"order_count"`
	TotalAmount int64 `json:"total_amount"`
}

// GetOrder 按 id 读取订单。
func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// ListOrders 按创建时间倒序。
func (s *Store) ListOrders(ctx context.Context, q OrderQuery) ([]model.Order, error) {
	tx := s.db.WithContext(ctx).Model(&model.Order{})
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.GroupBuyID != "" {
		tx = tx.Where("group_buy_id = ?", q.GroupBuyID)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var list []model.Order
	if err := tx.Order("created_at DESC").Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateOrderStatus 管理员修改订单状态；不会影响规格的 sold。
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	s.publish(model.Change{Kind: model.ChangeOrder, ID: id})
	return nil
}

// Revenue 统计未取消订单的数量与金额。
func (s *Store) Revenue(ctx context.Context) (Revenue, error) {
	var out Revenue
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Select("COUNT(*) AS order_count, COALESCE(SUM(total_amount), 0) AS total_amount").
		Where("status <> ?", model.OrderCancelled).
		Scan(&out).Error
	return out, err
}
