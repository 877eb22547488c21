package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
)

func (s *Server) PurchaseSubscription(c *gin.Context) {
	var req subscriptiondomain.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}

	resp, err := s.invoiceSvc.PurchaseSubscription(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSubscription(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ListSubscriptionUsage(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	rows, err := s.subscriptionSvc.ListUsage(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) AdjustSubscriptionBalance(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	var req subscriptiondomain.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}
	req.SubscriptionID = id
	if req.Reason == "" {
		AbortWithError(c, newValidationError("reason", "required", "reason is required"))
		return
	}

	sub, err := s.subscriptionSvc.AdjustBalance(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	targetID := id.String()
	_ = s.auditSvc.AuditLog(c.Request.Context(), "subscription.adjust_balance", "subscription", &targetID, map[string]any{
		"reason": req.Reason,
	})

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ListCustomerSubscriptions(c *gin.Context) {
	customerID, ok := parseSnowflakeParam(c, "customerId")
	if !ok {
		return
	}

	activeOnly := c.Query("active") == "true"
	subs, err := s.subscriptionSvc.ListByCustomer(c.Request.Context(), customerID, activeOnly)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subs})
}
