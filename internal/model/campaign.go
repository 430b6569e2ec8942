package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CampaignStatus 团购活动的持久化状态：draft → open → closed。
type CampaignStatus string

const (
	CampaignDraft  CampaignStatus = "draft"
	CampaignOpen   CampaignStatus = "open"
	CampaignClosed CampaignStatus = "closed"
)

// 仅用于展示的派生状态，不会写入存储。
const (
	DisplaySuccess = "success"
	DisplayFailed  = "failed"
)

// Variant 商品规格：价格、库存上限、已售数量。
type Variant struct {
	ID    string `json:"id"`
	Name  string `json:"name" validate:"required"`
	Price int64  `json:"price" validate:"gte=0"` // 单位：元
	Stock int64  `json:"stock" validate:"gte=0"`
	Sold  int64  `json:"sold" validate:"gte=0"`
}

// Available 可售数量；结单后 stock 归零而 sold 保留，这里不返回负数。
func (v Variant) Available() int64 {
	if v.Stock <= v.Sold {
		return 0
	}
	return v.Stock - v.Sold
}

// Product 只存在于活动内部，没有独立身份。
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name" validate:"required"`
	Description string    `json:"description"`
	Variants    []Variant `json:"variants" validate:"dive"`
}

// Products 以 JSON 形式整体存放在活动行内，使“活动 + 商品 + 规格”成为一次条件写入的单位。
type Products []Product

func (p Products) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Products) Scan(src any) error {
	return scanJSON(src, p)
}

// FindVariant 按 productID/variantID 定位规格下标，找不到返回 ok=false。
func (p Products) FindVariant(productID, variantID string) (pi, vi int, ok bool) {
	for i := range p {
		if p[i].ID != productID {
			continue
		}
		for j := range p[i].Variants {
			if p[i].Variants[j].ID == variantID {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// Clone 深拷贝，避免在重试循环中修改读到的快照。
func (p Products) Clone() Products {
	out := make(Products, len(p))
	for i, prod := range p {
		out[i] = prod
		out[i].Variants = append([]Variant(nil), prod.Variants...)
	}
	return out
}

// Campaign 团购活动聚合根。Version 是条件写入使用的乐观锁版本号。
type Campaign struct {
	ID             string         `gorm:"primaryKey;size:64" json:"id"`
	Title          string         `gorm:"size:255;not null" json:"title"`
	Description    string         `gorm:"type:text" json:"description"`
	Status         CampaignStatus `gorm:"size:16;not null;index" json:"status"`
	ThresholdValue int64          `gorm:"not null;default:0" json:"thresholdValue"`
	CurrentValue   int64          `gorm:"not null;default:0" json:"currentValue"`
	StartTime      time.Time      `json:"startTime"`
	EndTime        time.Time      `gorm:"index" json:"endTime"`
	Products       Products       `gorm:"type:text;not null" json:"products"`
	Version        int64          `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time      `json:"-"`
	UpdatedAt      time.Time      `json:"-"`
}

func (Campaign) TableName() string { return "campaigns" }

// Succeeded 达标判断：currentValue ≥ thresholdValue。
func (c Campaign) Succeeded() bool {
	return c.CurrentValue >= c.ThresholdValue
}

// DisplayStatus 展示用状态；open 会被解读为 success / failed。
func (c Campaign) DisplayStatus() string {
	if c.Status != CampaignOpen {
		return string(c.Status)
	}
	if c.Succeeded() {
		return DisplaySuccess
	}
	return DisplayFailed
}

// HasStock 任一规格仍有可售数量。
func (c Campaign) HasStock() bool {
	for _, p := range c.Products {
		for _, v := range p.Variants {
			if v.Available() > 0 {
				return true
			}
		}
	}
	return false
}

func scanJSON(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
