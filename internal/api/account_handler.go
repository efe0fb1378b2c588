package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"civy/internal/service"
)

// AccountHandler 处理数据导出与付费权益。
type AccountHandler struct {
	resumes *service.ResumeService
	billing *service.BillingService
}

func NewAccountHandler(resumes *service.ResumeService, billing *service.BillingService) *AccountHandler {
	return &AccountHandler{resumes: resumes, billing: billing}
}

// ExportData 以附件形式下载用户的全部数据（含已删除简历）。
func (h *AccountHandler) ExportData(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	out, err := h.resumes.ExportUserData(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	filename := fmt.Sprintf("civy-export-%s.json", out.ExportedAt.Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.IndentedJSON(http.StatusOK, out)
}

type activateRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	Tier           string `json:"tier"`
}

// Activate 在前端完成订阅后授予付费权益。
func (h *AccountHandler) Activate(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.SubscriptionID) == "" || strings.TrimSpace(req.Tier) == "" {
		BadRequest(c, "subscriptionId and tier are required")
		return
	}

	until, err := h.billing.GrantPremium(c.Request.Context(), userID, req.SubscriptionID, service.Tier(req.Tier))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "premium_until": until})
}

// Webhook 处理订阅状态回调，未知事件同样返回 received。
func (h *AccountHandler) Webhook(c *gin.Context) {
	var ev service.WebhookEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		BadRequest(c, "invalid payload")
		return
	}
	if _, err := h.billing.HandleEvent(c.Request.Context(), ev); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
