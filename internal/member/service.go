package member

import (
	"context"
	"fmt"
	"strings"
	"time"

	"group_buy/internal/mirror"
	"group_buy/internal/model"
	pkgerrors "group_buy/pkg/errors"
	"group_buy/pkg/logger"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Registration 注册资料；身份凭证由外部服务签发，这里只收 uid。
type Registration struct {
	UID   string `json:"uid" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone"`
}

type memberStore interface {
	UpsertMember(ctx context.Context, m *model.Member) error
}

type Service struct {
	store  memberStore
	mirror mirror.Publisher
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(st memberStore, publisher mirror.Publisher, logg *logger.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("member store required")
	}
	if publisher == nil {
		publisher = mirror.NopPublisher{}
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{store: st, mirror: publisher, logg: logg, now: time.Now}, nil
}

// Register 保存会员资料并同步 register 事件；重复注册覆盖联系方式。
func (s *Service) Register(ctx context.Context, reg Registration) (*model.Member, error) {
	reg.UID = strings.TrimSpace(reg.UID)
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Email = strings.TrimSpace(reg.Email)
	reg.Phone = strings.TrimSpace(reg.Phone)
	if err := validate.Struct(reg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "uid and name are required")
	}
	m := &model.Member{UID: reg.UID, Name: reg.Name, Email: reg.Email, Phone: reg.Phone}
	if err := s.store.UpsertMember(ctx, m); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save member")
	}
	s.logg.Info(s.logg.WithUserID(ctx, m.UID), "member registered")
	s.mirror.Publish(ctx, mirror.MemberRegistered(*m, s.now()))
	return m, nil
}
