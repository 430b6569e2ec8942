package mirror

import (
	"encoding/json"
	"time"

	"group_buy/internal/model"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// 以下结构是镜像读取端点的边界模式：字段缺失或越界的记录会被隔离而不是透传。

type variantRecord struct {
	ID    string `json:"id" validate:"required"`
	Name  string `json:"name" validate:"required"`
	Price int64  `json:"price" validate:"gte=0"`
	Stock int64  `json:"stock" validate:"gte=0"`
	Sold  int64  `json:"sold" validate:"gte=0"`
}

type productRecord struct {
	ID          string          `json:"id" validate:"required"`
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description"`
	Variants    []variantRecord `json:"variants" validate:"dive"`
}

type campaignRecord struct {
	ID             string          `json:"id" validate:"required"`
	Title          string          `json:"title" validate:"required"`
	Description    string          `json:"description"`
	Status         string          `json:"status" validate:"oneof=draft open closed"`
	ThresholdValue int64           `json:"thresholdValue" validate:"gte=0"`
	CurrentValue   int64           `json:"currentValue" validate:"gte=0"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        time.Time       `json:"endTime"`
	Products       []productRecord `json:"products" validate:"dive"`
}

type lineItemRecord struct {
	ProductID   string `json:"productId"`
	VariantID   string `json:"variantId"`
	Name        string `json:"name" validate:"required"`
	VariantName string `json:"variantName"`
	Price       int64  `json:"price" validate:"gte=0"`
	Quantity    int64  `json:"quantity" validate:"gte=1"`
}

type shippingRecord struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type orderRecord struct {
	ID            string           `json:"id" validate:"required"`
	UserID        string           `json:"userId"`
	GroupBuyID    string           `json:"groupBuyId" validate:"required"`
	GroupBuyTitle string           `json:"groupBuyTitle"`
	Items         []lineItemRecord `json:"items" validate:"dive"`
	TotalAmount   int64            `json:"totalAmount" validate:"gte=0"`
	Status        string           `json:"status" validate:"oneof=unshipped shipped completed cancelled"`
	ShippingInfo  shippingRecord   `json:"shippingInfo"`
	CreatedAt     time.Time        `json:"createdAt"`
}

func decodeCampaign(raw string) (model.Campaign, error) {
	var rec campaignRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.Campaign{}, err
	}
	if err := validate.Struct(rec); err != nil {
		return model.Campaign{}, err
	}
	products := make(model.Products, 0, len(rec.Products))
	for _, p := range rec.Products {
		variants := make([]model.Variant, 0, len(p.Variants))
		for _, v := range p.Variants {
			variants = append(variants, model.Variant(v))
		}
		products = append(products, model.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Variants:    variants,
		})
	}
	return model.Campaign{
		ID:             rec.ID,
		Title:          rec.Title,
		Description:    rec.Description,
		Status:         model.CampaignStatus(rec.Status),
		ThresholdValue: rec.ThresholdValue,
		CurrentValue:   rec.CurrentValue,
		StartTime:      rec.StartTime,
		EndTime:        rec.EndTime,
		Products:       products,
	}, nil
}

func decodeOrder(raw string) (model.Order, error) {
	var rec orderRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.Order{}, err
	}
	if err := validate.Struct(rec); err != nil {
		return model.Order{}, err
	}
	items := make(model.LineItems, 0, len(rec.Items))
	for _, li := range rec.Items {
		items = append(items, model.LineItem(li))
	}
	return model.Order{
		ID:            rec.ID,
		UserID:        rec.UserID,
		GroupBuyID:    rec.GroupBuyID,
		GroupBuyTitle: rec.GroupBuyTitle,
		Items:         items,
		TotalAmount:   rec.TotalAmount,
		Status:        model.OrderStatus(rec.Status),
		ShippingInfo:  model.ShippingInfo{Name: rec.ShippingInfo.Name, Phone: rec.ShippingInfo.Phone},
		CreatedAt:     rec.CreatedAt,
	}, nil
}
