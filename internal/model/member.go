package model

import "time"

// Member 会员资料；登录凭证由外部身份服务管理，这里只保存联系方式。
type Member struct {
	UID       string    `gorm:"primaryKey;size:128" json:"uid"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Email     string    `gorm:"size:255" json:"email"`
	Phone     string    `gorm:"size:32" json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Member) TableName() string { return "members" }
