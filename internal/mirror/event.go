package mirror

import (
	"encoding/json"
	"time"

	"group_buy/internal/model"
)

// EventType 是镜像写入端点识别的 type 字段。
type EventType string

const (
	EventGroupBuy       EventType = "group_buy"
	EventUpdateGroupBuy EventType = "update_group_buy"
	EventDeleteGroupBuy EventType = "delete_group_buy"
	EventOrder          EventType = "order"
	EventRegister       EventType = "register"
)

// Known 判断是否为端点支持的事件类型。
func (t EventType) Known() bool {
	switch t {
	case EventGroupBuy, EventUpdateGroupBuy, EventDeleteGroupBuy, EventOrder, EventRegister:
		return true
	}
	return false
}

// Event 一条待传播的领域事件。序列化为扁平信封 {type, ...payload, created_at}。
type Event struct {
	Type      EventType
	Key       string
	Payload   any
	CreatedAt time.Time
}

func (e Event) MarshalJSON() ([]byte, error) {
	envelope := map[string]any{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, err
		}
	}
	envelope["type"] = e.Type
	envelope["created_at"] = e.CreatedAt.UTC().Format(time.RFC3339)
	return json.Marshal(envelope)
}

type variantPayload struct {
	ID      string `json:"id"`
	Product string `json:"product"`
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	Stock   int64  `json:"stock"`
	Sold    int64  `json:"sold"`
}

type groupBuyPayload struct {
	GroupID     string           `json:"group_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Threshold   int64            `json:"threshold"`
	EndTime     string           `json:"end_time"`
	Variants    []variantPayload `json:"variants"`
}

type deletePayload struct {
	GroupID string `json:"group_id"`
}

type orderItemPayload struct {
	Name     string `json:"name"`
	Variant  string `json:"variant"`
	Quantity int64  `json:"quantity"`
}

type orderPayload struct {
	OrderID     string             `json:"order_id"`
	GroupID     string             `json:"group_id"`
	BuyerName   string             `json:"buyer_name"`
	BuyerPhone  string             `json:"buyer_phone"`
	TotalAmount int64              `json:"total_amount"`
	Status      model.OrderStatus  `json:"status"`
	Items       []orderItemPayload `json:"items"`
}

type registerPayload struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func groupBuy(c model.Campaign) groupBuyPayload {
	p := groupBuyPayload{
		GroupID:     c.ID,
		Title:       c.Title,
		Description: c.Description,
		Threshold:   c.ThresholdValue,
		Variants:    []variantPayload{},
	}
	if !c.EndTime.IsZero() {
		p.EndTime = c.EndTime.UTC().Format(time.RFC3339)
	}
	for _, prod := range c.Products {
		for _, v := range prod.Variants {
			p.Variants = append(p.Variants, variantPayload{
				ID:      v.ID,
				Product: prod.Name,
				Name:    v.Name,
				Price:   v.Price,
				Stock:   v.Stock,
				Sold:    v.Sold,
			})
		}
	}
	return p
}

// CampaignCreated 开团事件。
func CampaignCreated(c model.Campaign, at time.Time) Event {
	return Event{Type: EventGroupBuy, Key: c.ID, Payload: groupBuy(c), CreatedAt: at}
}

// CampaignUpdated 活动编辑事件。
func CampaignUpdated(c model.Campaign, at time.Time) Event {
	return Event{Type: EventUpdateGroupBuy, Key: c.ID, Payload: groupBuy(c), CreatedAt: at}
}

// CampaignClosed 结单事件，对镜像而言等同删除。
func CampaignClosed(id string, at time.Time) Event {
	return Event{Type: EventDeleteGroupBuy, Key: id, Payload: deletePayload{GroupID: id}, CreatedAt: at}
}

// OrderPlaced 下单事件。
func OrderPlaced(o model.Order, at time.Time) Event {
	items := make([]orderItemPayload, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, orderItemPayload{Name: li.Name, Variant: li.VariantName, Quantity: li.Quantity})
	}
	return Event{
		Type: EventOrder,
		Key:  o.ID,
		Payload: orderPayload{
			OrderID:     o.ID,
			GroupID:     o.GroupBuyID,
			BuyerName:   o.ShippingInfo.Name,
			BuyerPhone:  o.ShippingInfo.Phone,
			TotalAmount: o.TotalAmount,
			Status:      o.Status,
			Items:       items,
		},
		CreatedAt: at,
	}
}

// MemberRegistered 会员注册事件。
func MemberRegistered(m model.Member, at time.Time) Event {
	return Event{
		Type:      EventRegister,
		Key:       m.UID,
		Payload:   registerPayload{UID: m.UID, Name: m.Name, Email: m.Email, Phone: m.Phone},
		CreatedAt: at,
	}
}
