package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"group_buy/internal/campaign"
	"group_buy/internal/checkout"
	"group_buy/internal/config"
	"group_buy/internal/feed"
	"group_buy/internal/member"
	"group_buy/internal/metrics"
	"group_buy/internal/model"
	"group_buy/internal/store"
	"group_buy/internal/store/storetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	rd "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "test-admin"

type env struct {
	engine *gin.Engine
	store  *store.Store
	hub    *feed.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	hub := feed.NewHub(feed.HubOptions{Origin: "test", Metrics: rec})
	st := storetest.New(t, store.WithNotifier(hub))

	eng, err := checkout.NewEngine(st, nil, checkout.Options{MaxAttempts: 20, RetryBase: time.Millisecond, Metrics: rec})
	require.NoError(t, err)
	camps, err := campaign.NewService(st, nil, campaign.Options{RetryBase: time.Millisecond})
	require.NoError(t, err)
	members, err := member.NewService(st, nil, nil)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := rd.NewClient(&rd.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	Setup(r, Deps{
		Config: config.AppConfig{
			AdminToken:         adminToken,
			CheckoutRateLimit:  100,
			CheckoutRateWindow: time.Minute,
			IdempotencyTTL:     time.Hour,
		},
		Store:     st,
		Engine:    eng,
		Campaigns: camps,
		Members:   members,
		Loader:    feed.NewLoader(st, nil, rec, nil),
		Hub:       hub,
		Redis:     rdb,
		Gatherer:  reg,
	})
	return &env{engine: r, store: st, hub: hub}
}

type envelope struct {
	Code any             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path string, body any, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var out envelope
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

var admin = map[string]string{adminTokenHeader: adminToken}

func (e *env) openCampaign(t *testing.T, stock int64) model.Campaign {
	t.Helper()
	w, out := e.do(t, http.MethodPost, "/api/admin/campaigns", map[string]any{
		"title":          "秋季茶叶团",
		"thresholdValue": 10,
		"endTime":        time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"products": []map[string]any{{
			"id": "p1", "name": "茶叶",
			"variants": []map[string]any{{"id": "v1", "name": "小包", "price": 150, "stock": stock}},
		}},
	}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var c model.Campaign
	require.NoError(t, json.Unmarshal(out.Data, &c))
	return c
}

func orderBody(gid string, qty int64) map[string]any {
	return map[string]any{
		"userId": "u-1",
		"items": []map[string]any{{
			"groupBuyId": gid, "productId": "p1", "variantId": "v1", "quantity": qty,
		}},
		"shippingInfo": map[string]any{"name": "小美", "phone": "0912345678"},
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(t, http.MethodGet, "/api/admin/revenue", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", out.Code)
}

func TestCheckoutFlow(t *testing.T) {
	e := newEnv(t)
	c := e.openCampaign(t, 5)

	w, out := e.do(t, http.MethodPost, "/api/orders", orderBody(c.ID, 3), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		OrderIDs []string `json:"orderIds"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &res))
	require.Len(t, res.OrderIDs, 1)

	w, out = e.do(t, http.MethodPost, "/api/orders", orderBody(c.ID, 3), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", out.Code)

	w, out = e.do(t, http.MethodGet, "/api/orders/mine", nil, map[string]string{"X-User-ID": "u-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(out.Data), res.OrderIDs[0])

	w, _ = e.do(t, http.MethodGet, "/api/orders/mine", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/admin/revenue", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"order_count":1,"total_amount":450}`, string(out.Data))
}

func TestCheckoutValidationError(t *testing.T) {
	e := newEnv(t)
	c := e.openCampaign(t, 5)
	body := orderBody(c.ID, 1)
	body["shippingInfo"] = map[string]any{"name": "", "phone": ""}
	w, out := e.do(t, http.MethodPost, "/api/orders", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", out.Code)
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	e := newEnv(t)
	c := e.openCampaign(t, 5)
	key := map[string]string{"Idempotency-Key": "cart-42"}

	w1, out1 := e.do(t, http.MethodPost, "/api/orders", orderBody(c.ID, 2), key)
	require.Equal(t, http.StatusOK, w1.Code)
	w2, out2 := e.do(t, http.MethodPost, "/api/orders", orderBody(c.ID, 2), key)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "true", w2.Header().Get(replayedHeader))
	assert.JSONEq(t, string(out1.Data), string(out2.Data))

	got, err := e.store.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Products[0].Variants[0].Sold)
}

func TestGuestIdempotencyKeysScopedByClient(t *testing.T) {
	e := newEnv(t)
	c := e.openCampaign(t, 5)
	guest := func(qty int64) map[string]any {
		body := orderBody(c.ID, qty)
		delete(body, "userId")
		return body
	}

	w1, out1 := e.do(t, http.MethodPost, "/api/orders", guest(1),
		map[string]string{"Idempotency-Key": "cart-1", "X-Forwarded-For": "203.0.113.7"})
	require.Equal(t, http.StatusOK, w1.Code)
	w2, out2 := e.do(t, http.MethodPost, "/api/orders", guest(2),
		map[string]string{"Idempotency-Key": "cart-1", "X-Forwarded-For": "198.51.100.9"})
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Empty(t, w2.Header().Get(replayedHeader))
	assert.NotEqual(t, string(out1.Data), string(out2.Data))

	w3, _ := e.do(t, http.MethodPost, "/api/orders", guest(1),
		map[string]string{"Idempotency-Key": "cart-1", "X-Forwarded-For": "203.0.113.7"})
	require.Equal(t, http.StatusOK, w3.Code)
	assert.Equal(t, "true", w3.Header().Get(replayedHeader))

	got, err := e.store.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Products[0].Variants[0].Sold)
}

func TestCampaignLifecycleRoutes(t *testing.T) {
	e := newEnv(t)
	c := e.openCampaign(t, 5)

	w, out := e.do(t, http.MethodPost, "/api/admin/campaigns/"+c.ID+"/close", map[string]any{}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", out.Code)

	w, _ = e.do(t, http.MethodPut, "/api/admin/campaigns/"+c.ID+"/progress", map[string]any{"currentValue": 12}, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/campaigns", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(out.Data), `"displayStatus":"success"`)

	w, _ = e.do(t, http.MethodPost, "/api/admin/campaigns/"+c.ID+"/close", map[string]any{"confirm": true}, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w, out = e.do(t, http.MethodPost, "/api/orders", orderBody(c.ID, 1), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", out.Code)

	w, out = e.do(t, http.MethodPut, "/api/admin/campaigns/"+c.ID+"/progress", map[string]any{"currentValue": 1}, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "STATE_CONFLICT", out.Code)
}

func TestDraftHiddenFromStorefront(t *testing.T) {
	e := newEnv(t)
	w, out := e.do(t, http.MethodPost, "/api/admin/campaigns/draft", map[string]any{
		"title": "草稿", "endTime": time.Now().Add(time.Hour).Format(time.RFC3339),
	}, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var draft model.Campaign
	require.NoError(t, json.Unmarshal(out.Data, &draft))

	w, _ = e.do(t, http.MethodGet, "/api/campaigns/"+draft.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, out = e.do(t, http.MethodGet, "/api/admin/campaigns", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(out.Data), draft.ID)

	w, _ = e.do(t, http.MethodPost, "/api/admin/campaigns/"+draft.ID+"/publish", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = e.do(t, http.MethodGet, "/api/campaigns/"+draft.ID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOrderStatusUpdate(t *testing.T) {
	e := newEnv(t)
	c := e.openCampaign(t, 5)
	_, out := e.do(t, http.MethodPost, "/api/orders", orderBody(c.ID, 1), nil)
	var res struct {
		OrderIDs []string `json:"orderIds"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &res))
	id := res.OrderIDs[0]

	w, out := e.do(t, http.MethodPut, "/api/admin/orders/"+id+"/status", map[string]any{"status": "lost"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", out.Code)

	w, _ = e.do(t, http.MethodPut, "/api/admin/orders/"+id+"/status", map[string]any{"status": "cancelled"}, admin)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodPut, "/api/admin/orders/missing/status", map[string]any{"status": "shipped"}, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, out = e.do(t, http.MethodGet, "/api/admin/revenue", nil, admin)
	assert.JSONEq(t, `{"order_count":0,"total_amount":0}`, string(out.Data))

	// 取消不会归还已售数量
	got, err := e.store.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Products[0].Variants[0].Sold)
}

func TestRegisterMember(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(t, http.MethodPost, "/api/members/register", map[string]any{"name": "阿明", "email": "ming@example.com"},
		map[string]string{"X-User-ID": "u-9"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	m, err := e.store.GetMember(context.Background(), "u-9")
	require.NoError(t, err)
	assert.Equal(t, "阿明", m.Name)
}

func TestPingAndMetrics(t *testing.T) {
	e := newEnv(t)
	w, _ := e.do(t, http.MethodGet, "/ping", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	c := e.openCampaign(t, 1)
	e.do(t, http.MethodPost, "/api/orders", orderBody(c.ID, 1), nil)
	w, _ = e.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `checkout_partitions_total{outcome="committed"} 1`)
}

func TestFeedStreamsChanges(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/feed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return e.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	e.hub.Publish(model.Change{Kind: model.ChangeCampaign, ID: "gb-live", At: time.Now()})

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "data:") && strings.Contains(line, "gb-live") {
				return
			}
		case <-timeout:
			t.Fatal("change not streamed")
		}
	}
}
