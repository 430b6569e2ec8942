package router

import (
	"errors"

	"group_buy/internal/campaign"
	"group_buy/internal/feed"
	"group_buy/internal/model"
	"group_buy/internal/store"
	pkgerrors "group_buy/pkg/errors"

	"github.com/gin-gonic/gin"
)

// campaignView 活动加上派生的展示字段。
type campaignView struct {
	model.Campaign
	Display string `json:"displayStatus"`
	InStock bool   `json:"hasStock"`
}

func present(list []model.Campaign) []campaignView {
	out := make([]campaignView, 0, len(list))
	for _, c := range list {
		out = append(out, campaignView{Campaign: c, Display: c.DisplayStatus(), InStock: c.HasStock()})
	}
	return out
}

// listCampaigns 前台列表：优先使用订阅视图，草稿不对外展示。
func (h *handlers) listCampaigns(c *gin.Context) {
	var listing feed.Listing[model.Campaign]
	loaded := false
	if h.View != nil {
		listing, loaded = h.View.Snapshot()
	}
	if !loaded {
		var err error
		if listing, err = h.Loader.Campaigns(c.Request.Context(), store.CampaignQuery{}); err != nil {
			fail(c, h.Logger, err)
			return
		}
	}
	visible := make([]model.Campaign, 0, len(listing.Records))
	for _, cp := range listing.Records {
		if cp.Status != model.CampaignDraft {
			visible = append(visible, cp)
		}
	}
	ok(c, gin.H{"source": listing.Source, "campaigns": present(visible)})
}

func (h *handlers) getCampaign(c *gin.Context) {
	cp, err := h.Store.GetCampaign(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) || (err == nil && cp.Status == model.CampaignDraft) {
		fail(c, h.Logger, pkgerrors.New(pkgerrors.CodeNotFound, "活动不存在"))
		return
	}
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, present([]model.Campaign{*cp})[0])
}

// adminListCampaigns 管理端列表：结束时间倒序，含草稿。
func (h *handlers) adminListCampaigns(c *gin.Context) {
	q := store.CampaignQuery{Status: model.CampaignStatus(c.Query("status")), EndDesc: true}
	listing, err := h.Loader.Campaigns(c.Request.Context(), q)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, gin.H{"source": listing.Source, "campaigns": present(listing.Records), "quarantined": listing.Quarantined})
}

func (h *handlers) openCampaign(c *gin.Context) {
	var def campaign.Definition
	if !bindJSON(c, h.Logger, &def) {
		return
	}
	cp, err := h.Campaigns.Open(c.Request.Context(), def)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, cp)
}

func (h *handlers) createDraft(c *gin.Context) {
	var def campaign.Definition
	if !bindJSON(c, h.Logger, &def) {
		return
	}
	cp, err := h.Campaigns.CreateDraft(c.Request.Context(), def)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, cp)
}

func (h *handlers) publishCampaign(c *gin.Context) {
	cp, err := h.Campaigns.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, cp)
}

func (h *handlers) updateCampaign(c *gin.Context) {
	var def campaign.Definition
	if !bindJSON(c, h.Logger, &def) {
		return
	}
	cp, err := h.Campaigns.Update(c.Request.Context(), c.Param("id"), def)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, cp)
}

func (h *handlers) setProgress(c *gin.Context) {
	var req struct {
		CurrentValue int64 `json:"currentValue"`
	}
	if !bindJSON(c, h.Logger, &req) {
		return
	}
	cp, err := h.Campaigns.SetProgress(c.Request.Context(), c.Param("id"), req.CurrentValue)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, cp)
}

// closeCampaign 结单不可逆，body 必须带 confirm=true。
func (h *handlers) closeCampaign(c *gin.Context) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if !bindJSON(c, h.Logger, &req) {
		return
	}
	cp, err := h.Campaigns.Close(c.Request.Context(), c.Param("id"), req.Confirm)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, cp)
}
