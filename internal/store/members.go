package store

import (
	"context"

	"group_buy/internal/model"

	"gorm.io/gorm/clause"
)

// UpsertMember 以 uid 为键写入会员资料，重复注册覆盖联系方式。
func (s *Store) UpsertMember(ctx context.Context, m *model.Member) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "phone", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return err
	}
	s.publish(model.Change{Kind: model.ChangeMember, ID: m.UID})
	return nil
}

func (s *Store) GetMember(ctx context.Context, uid string) (*model.Member, error) {
	var m model.Member
	if err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}
