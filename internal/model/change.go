package model

import "time"

// ChangeKind 已提交变更的实体类型。
type ChangeKind string

const (
	ChangeCampaign ChangeKind = "campaign"
	ChangeOrder    ChangeKind = "order"
	ChangeMember   ChangeKind = "member"
)

// Change 记录存储层一次已提交的写入，推送给实时视图订阅者。
type Change struct {
	Kind    ChangeKind `json:"kind"`
	ID      string     `json:"id"`
	Version int64      `json:"version,omitempty"`
	Origin  string     `json:"origin,omitempty"`
	At      time.Time  `json:"at"`
}
