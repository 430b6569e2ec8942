package router

import (
	"group_buy/internal/member"

	"github.com/gin-gonic/gin"
)

func (h *handlers) register(c *gin.Context) {
	var req member.Registration
	if !bindJSON(c, h.Logger, &req) {
		return
	}
	if uid := userIDOf(c, ""); uid != "" {
		req.UID = uid
	}
	m, err := h.Members.Register(c.Request.Context(), req)
	if err != nil {
		fail(c, h.Logger, err)
		return
	}
	ok(c, m)
}
