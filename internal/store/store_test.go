package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"group_buy/internal/model"
	"group_buy/internal/store"
	"group_buy/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []model.Change
}

func (r *recorder) Publish(c model.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) kinds() []model.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChangeKind, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

func seedCampaign(id string, end time.Time, stock int64) *model.Campaign {
	return &model.Campaign{
		ID:             id,
		Title:          "团购 " + id,
		Status:         model.CampaignOpen,
		ThresholdValue: 10,
		StartTime:      end.Add(-48 * time.Hour),
		EndTime:        end,
		Products: model.Products{{
			ID:   "p1",
			Name: "茶叶",
			Variants: []model.Variant{
				{ID: "v1", Name: "小包", Price: 100, Stock: stock},
			},
		}},
	}
}

func TestCampaignRoundTripKeepsTree(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := storetest.New(t, store.WithNotifier(rec))

	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateCampaign(ctx, seedCampaign("gb-1", end, 5)))

	got, err := s.GetCampaign(ctx, "gb-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Products, 1)
	assert.Equal(t, int64(5), got.Products[0].Variants[0].Stock)
	assert.Equal(t, []model.ChangeKind{model.ChangeCampaign}, rec.kinds())

	_, err = s.GetCampaign(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSwapCampaignRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	require.NoError(t, s.CreateCampaign(ctx, seedCampaign("gb-1", time.Now(), 5)))

	first, err := s.GetCampaign(ctx, "gb-1")
	require.NoError(t, err)
	second, err := s.GetCampaign(ctx, "gb-1")
	require.NoError(t, err)

	first.Products[0].Variants[0].Sold = 2
	require.NoError(t, s.SwapCampaign(ctx, first, 1))
	assert.Equal(t, int64(2), first.Version)

	second.Products[0].Variants[0].Sold = 4
	assert.ErrorIs(t, s.SwapCampaign(ctx, second, 1), store.ErrVersionConflict)

	got, err := s.GetCampaign(ctx, "gb-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Products[0].Variants[0].Sold)
	assert.Equal(t, int64(2), got.Version)
}

func TestCommitOrderIsAtomic(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := storetest.New(t, store.WithNotifier(rec))
	require.NoError(t, s.CreateCampaign(ctx, seedCampaign("gb-1", time.Now(), 5)))

	c, err := s.GetCampaign(ctx, "gb-1")
	require.NoError(t, err)
	c.Products[0].Variants[0].Sold = 1
	order := &model.Order{
		ID:         "o-1",
		UserID:     "u-1",
		GroupBuyID: "gb-1",
		Items:      model.LineItems{{ProductID: "p1", VariantID: "v1", Price: 100, Quantity: 1}},
		Status:     model.OrderUnshipped,
	}
	require.NoError(t, s.CommitOrder(ctx, c, 1, order))

	// 重复的订单主键让事务回滚，活动树不应被修改
	c.Products[0].Variants[0].Sold = 2
	dup := *order
	assert.Error(t, s.CommitOrder(ctx, c, 2, &dup))
	assert.Equal(t, int64(2), c.Version)

	got, err := s.GetCampaign(ctx, "gb-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Products[0].Variants[0].Sold)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, []model.ChangeKind{model.ChangeCampaign, model.ChangeCampaign, model.ChangeOrder}, rec.kinds())
}

func TestListCampaignsOrderedByEndTime(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateCampaign(ctx, seedCampaign("late", base.Add(72*time.Hour), 1)))
	require.NoError(t, s.CreateCampaign(ctx, seedCampaign("early", base, 1)))
	closed := seedCampaign("closed", base.Add(24*time.Hour), 1)
	closed.Status = model.CampaignClosed
	require.NoError(t, s.CreateCampaign(ctx, closed))

	asc, err := s.ListCampaigns(ctx, store.CampaignQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "closed", "late"}, ids(asc))

	desc, err := s.ListCampaigns(ctx, store.CampaignQuery{EndDesc: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"late", "closed", "early"}, ids(desc))

	open, err := s.ListCampaigns(ctx, store.CampaignQuery{Status: model.CampaignOpen})
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, ids(open))
}

func TestOrdersQueriesAndRevenue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s := storetest.New(t)
	require.NoError(t, s.CreateCampaign(ctx, seedCampaign("gb-1", now, 100)))

	for i, o := range []model.Order{
		{ID: "o-1", UserID: "alice", TotalAmount: 300},
		{ID: "o-2", UserID: "bob", TotalAmount: 500},
		{ID: "o-3", UserID: "alice", TotalAmount: 200},
	} {
		c, err := s.GetCampaign(ctx, "gb-1")
		require.NoError(t, err)
		o.GroupBuyID = "gb-1"
		o.Status = model.OrderUnshipped
		o.Items = model.LineItems{}
		o.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.CommitOrder(ctx, c, c.Version, &o))
	}

	all, err := s.ListOrders(ctx, store.OrderQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"o-3", "o-2", "o-1"}, orderIDs(all))

	mine, err := s.ListOrders(ctx, store.OrderQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, []string{"o-3", "o-1"}, orderIDs(mine))

	require.NoError(t, s.UpdateOrderStatus(ctx, "o-2", model.OrderCancelled))
	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, "nope", model.OrderShipped), store.ErrNotFound)

	rev, err := s.Revenue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev.OrderCount)
	assert.Equal(t, int64(500), rev.TotalAmount)
}

func TestUpsertMember(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	require.NoError(t, s.UpsertMember(ctx, &model.Member{UID: "u-1", Name: "小明", Phone: "0911"}))
	require.NoError(t, s.UpsertMember(ctx, &model.Member{UID: "u-1", Name: "小明", Phone: "0922"}))

	m, err := s.GetMember(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "0922", m.Phone)
}

func ids(list []model.Campaign) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func orderIDs(list []model.Order) []string {
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}
