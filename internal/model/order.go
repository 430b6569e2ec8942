package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// OrderStatus 订单状态，只由管理员修改，不回写 sold。
type OrderStatus string

const (
	OrderUnshipped OrderStatus = "unshipped"
	OrderShipped   OrderStatus = "shipped"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// GuestUserID 未登录下单时写入的用户标记。
const GuestUserID = "guest"

// Valid 判断是否为已知状态。
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderUnshipped, OrderShipped, OrderCompleted, OrderCancelled:
		return true
	}
	return false
}

// LineItem 订单行，价格为提交时的快照。
type LineItem struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId"`
	Name        string `json:"name"`
	VariantName string `json:"variantName"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
}

// Subtotal price × quantity
func (li LineItem) Subtotal() int64 {
	return li.Price * li.Quantity
}

type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *LineItems) Scan(src any) error {
	return scanJSON(src, l)
}

// Total Σ price×quantity
func (l LineItems) Total() int64 {
	var sum int64
	for _, li := range l {
		sum += li.Subtotal()
	}
	return sum
}

// ShippingInfo 收件信息，姓名与电话必填。
type ShippingInfo struct {
	Name  string `gorm:"size:128" json:"name" validate:"required"`
	Phone string `gorm:"size:32" json:"phone" validate:"required"`
}

// Order 团购订单：创建一次，之后仅状态可变，永不删除。
type Order struct {
	ID            string       `gorm:"primaryKey;size:64" json:"id"`
	UserID        string       `gorm:"size:128;not null;index" json:"userId"`
	GroupBuyID    string       `gorm:"size:64;not null;index" json:"groupBuyId"`
	GroupBuyTitle string       `gorm:"size:255" json:"groupBuyTitle"`
	Items         LineItems    `gorm:"type:text;not null" json:"items"`
	TotalAmount   int64        `gorm:"not null" json:"totalAmount"`
	Status        OrderStatus  `gorm:"size:16;not null;index" json:"status"`
	ShippingInfo  ShippingInfo `gorm:"embedded;embeddedPrefix:shipping_" json:"shippingInfo"`
	CreatedAt     time.Time    `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time    `json:"-"`
}

func (Order) TableName() string { return "orders" }
