package router

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"group_buy/internal/checkout"
	"group_buy/internal/model"
	"group_buy/internal/store"
	pkgerrors "group_buy/pkg/errors"
	pkgredis "group_buy/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	checkoutLockTTL   = 30 * time.Second
)

type submitOrderRequest struct {
	UserID       string              `json:"userId"`
	Items        []checkout.CartItem `json:"items"`
	ShippingInfo model.ShippingInfo  `json:"shippingInfo"`
}

// storedResponse 幂等重放时原样返回的首次响应。
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// submitOrder 下单。带 Idempotency-Key 时，同一用户（访客按 IP）重复提交返回首次结果；并发的重复提交返回 STATE_CONFLICT。
// Redis 不可用时放弃幂等保护，照常下单。
func (h *handlers) submitOrder(c *gin.Context) {
	var req submitOrderRequest
	if !bindJSON(c, h.Logger, &req) {
		return
	}
	ctx := c.Request.Context()
	userID := userIDOf(c, req.UserID)
	// 访客没有身份，按来源 IP 隔离幂等键，避免不同访客互相重放
	scope := userID
	if scope == "" {
		scope = model.GuestUserID + ":" + c.ClientIP()
	}

	idemKey := strings.TrimSpace(c.GetHeader(idempotencyHeader))
	guarded := idemKey != "" && h.Redis != nil
	var token string
	if guarded {
		state, found, err := pkgredis.GetCheckoutState(ctx, h.Redis, scope, idemKey)
		switch {
		case err != nil:
			h.Logger.Warn(h.Logger.WithField(ctx, "error", err.Error()), "idempotency lookup failed, continuing unguarded")
			guarded = false
		case found && state.Status == pkgredis.CheckoutDone:
			var stored storedResponse
			if err := json.Unmarshal([]byte(state.Result), &stored); err == nil {
				c.Header(replayedHeader, "true")
				c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
				return
			}
		}
	}
	if guarded {
		token = uuid.NewString()
		acquired, err := pkgredis.AcquireCheckoutLock(ctx, h.Redis, scope, idemKey, token, checkoutLockTTL)
		switch {
		case err != nil:
			h.Logger.Warn(h.Logger.WithField(ctx, "error", err.Error()), "idempotency lock failed, continuing unguarded")
			guarded = false
		case !acquired:
			fail(c, h.Logger, pkgerrors.New(pkgerrors.CodeStateConflict, "相同的下单请求正在处理"))
			return
		default:
			defer func() {
				if err := pkgredis.ReleaseCheckoutLockIfMatch(ctx, h.Redis, scope, idemKey, token); err != nil {
					h.Logger.Warn(h.Logger.WithField(ctx, "error", err.Error()), "release checkout lock failed")
				}
			}()
		}
	}

	res, err := h.Engine.SubmitOrder(ctx, req.Items, req.ShippingInfo, checkout.Actor{UserID: userID})
	if err != nil {
		fail(c, h.Logger, err)
		return
	}

	status, body := checkoutResponse(res)
	raw, err := json.Marshal(body)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	if guarded {
		stored, _ := json.Marshal(storedResponse{Status: status, Body: raw})
		if err := pkgredis.PutCheckoutState(ctx, h.Redis, scope, idemKey, pkgredis.CheckoutDone, string(stored), h.Config.IdempotencyTTL); err != nil {
			h.Logger.Warn(h.Logger.WithField(ctx, "error", err.Error()), "persist checkout result failed")
		}
	}
	c.Data(status, "application/json; charset=utf-8", raw)
}

// checkoutResponse 至少一个分区成功时返回 200；全部失败时使用第一个失败分区的错误码。
func checkoutResponse(res checkout.Result) (int, gin.H) {
	if len(res.OrderIDs) > 0 || len(res.Errors) == 0 {
		return http.StatusOK, gin.H{"code": 0, "msg": "ok", "data": res}
	}
	first := res.Errors[0]
	code := pkgerrors.CodeOf(first.Err)
	msg := pkgerrors.MetadataFor(code).PublicMessage
	if typed := pkgerrors.As(first.Err); typed != nil {
		msg = typed.Message()
	}
	return pkgerrors.MetadataFor(code).HTTPStatus, gin.H{"code": code, "msg": msg, "data": res}
}

func (h *handlers) myOrders(c *gin.Context) {
	userID := userIDOf(c, "")
	if userID == "" {
		fail(c, h.Logger, pkgerrors.New(pkgerrors.CodeUnauthorized, "缺少用户身份"))
		return
	}
	listing, err := h.Loader.Orders(c.Request.Context(), store.OrderQuery{UserID: userID})
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, gin.H{"source": listing.Source, "orders": listing.Records})
}

func (h *handlers) getOrder(c *gin.Context) {
	o, err := h.Store.GetOrder(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, h.Logger, pkgerrors.New(pkgerrors.CodeNotFound, "订单不存在"))
		return
	}
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, o)
}

func (h *handlers) adminListOrders(c *gin.Context) {
	q := store.OrderQuery{UserID: c.Query("userId"), GroupBuyID: c.Query("groupBuyId")}
	listing, err := h.Loader.Orders(c.Request.Context(), q)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, gin.H{"source": listing.Source, "orders": listing.Records, "quarantined": listing.Quarantined})
}

// updateOrderStatus 只修改订单状态，取消订单不会归还 sold。
func (h *handlers) updateOrderStatus(c *gin.Context) {
	var req struct {
		Status model.OrderStatus `json:"status"`
	}
	if !bindJSON(c, h.Logger, &req) {
		return
	}
	if !req.Status.Valid() {
		fail(c, h.Logger, pkgerrors.Newf(pkgerrors.CodeValidation, "未知的订单状态 %q", req.Status))
		return
	}
	err := h.Store.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, h.Logger, pkgerrors.New(pkgerrors.CodeNotFound, "订单不存在"))
		return
	}
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, gin.H{"id": c.Param("id"), "status": req.Status})
}

func (h *handlers) revenue(c *gin.Context) {
	rev, err := h.Store.Revenue(c.Request.Context())
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, rev)
}
