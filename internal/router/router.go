package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"group_buy/internal/campaign"
	"group_buy/internal/checkout"
	"group_buy/internal/config"
	"group_buy/internal/feed"
	"group_buy/internal/member"
	"group_buy/internal/middleware"
	"group_buy/internal/store"
	pkgerrors "group_buy/pkg/errors"
	"group_buy/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
)

const adminTokenHeader = "X-Admin-Token"

// Deps 路由依赖；Redis、View、Gatherer 可以为空。
type Deps struct {
	Config    config.AppConfig
	Store     *store.Store
	Engine    *checkout.Engine
	Campaigns *campaign.Service
	Members   *member.Service
	Loader    *feed.Loader
	View      *feed.CampaignView
	Hub       *feed.Hub
	Redis     *rd.Client
	Logger    *logger.Logger
	Gatherer  prometheus.Gatherer
}

type handlers struct {
	Deps
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	h := &handlers{Deps: d}

	r.Use(middleware.RequestID(d.Logger), middleware.Logging(d.Logger))

	r.GET("/ping", h.ping)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	// 前台
	api.GET("/campaigns", h.listCampaigns)
	api.GET("/campaigns/:id", h.getCampaign)
	api.POST("/orders", middleware.RedisRateLimit(d.Redis, d.Config.CheckoutRateLimit, d.Config.CheckoutRateWindow), h.submitOrder)
	api.GET("/orders/mine", h.myOrders)
	api.GET("/orders/:id", h.getOrder)
	api.POST("/members/register", h.register)
	api.GET("/feed", h.streamFeed)

	// 管理端
	admin := api.Group("/admin", adminOnly(d.Config.AdminToken))
	admin.GET("/campaigns", h.adminListCampaigns)
	admin.POST("/campaigns", h.openCampaign)
	admin.POST("/campaigns/draft", h.createDraft)
	admin.POST("/campaigns/:id/publish", h.publishCampaign)
	admin.PUT("/campaigns/:id", h.updateCampaign)
	admin.PUT("/campaigns/:id/progress", h.setProgress)
	admin.POST("/campaigns/:id/close", h.closeCampaign)
	admin.GET("/orders", h.adminListOrders)
	admin.PUT("/orders/:id/status", h.updateOrderStatus)
	admin.GET("/revenue", h.revenue)
}

func (h *handlers) ping(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		fail(c, h.Logger, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store unreachable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"msg": "pong"})
}

// adminOnly 简单管理员 token 校验。
func adminOnly(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader(adminTokenHeader) != token {
			meta := pkgerrors.MetadataFor(pkgerrors.CodeUnauthorized)
			c.AbortWithStatusJSON(meta.HTTPStatus, gin.H{"code": pkgerrors.CodeUnauthorized, "msg": "admin token 无效"})
			return
		}
		c.Next()
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok", "data": data})
}

// fail 按错误码输出 {code, msg, details}；非业务错误只暴露通用文案并记录日志。
func fail(c *gin.Context, logg *logger.Logger, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage)
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	if meta.HTTPStatus >= http.StatusInternalServerError {
		logg.Error(c.Request.Context(), "request failed", err)
	}
	body := gin.H{"code": typed.Code(), "msg": typed.Message()}
	if d := typed.Details(); d != nil {
		body["details"] = d
	}
	c.AbortWithStatusJSON(meta.HTTPStatus, body)
}

func bindJSON(c *gin.Context, logg *logger.Logger, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		fail(c, logg, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "请求格式错误"))
		return false
	}
	return true
}

func userIDOf(c *gin.Context, fallback string) string {
	if id := strings.TrimSpace(c.GetHeader(middleware.UserIDHeader)); id != "" {
		return id
	}
	return strings.TrimSpace(fallback)
}
