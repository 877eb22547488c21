package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/freshfold/freshfold/internal/invoice/domain"
)

func (s *Server) SaveInvoiceDraft(c *gin.Context) {
	orderID, ok := parseSnowflakeParam(c, "orderId")
	if !ok {
		return
	}

	var req invoicedomain.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}
	req.OrderID = orderID

	inv, err := s.invoiceSvc.CreateOrReplaceDraft(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) IssueAckInvoice(c *gin.Context) {
	orderID, ok := parseSnowflakeParam(c, "orderId")
	if !ok {
		return
	}

	var req invoicedomain.IssueAckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}
	req.OrderID = orderID

	inv, err := s.invoiceSvc.IssueAck(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.incInvoiceIssued(invoicedomain.InvoiceTypeAcknowledgement)
	if s.obsMetrics != nil && inv.SubscriptionUtilized {
		s.obsMetrics.UsageDeductions.Add(float64(len(inv.SubscriptionSelections)))
	}
	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) IssueFinalInvoice(c *gin.Context) {
	orderID, ok := parseSnowflakeParam(c, "orderId")
	if !ok {
		return
	}

	var req invoicedomain.IssueFinalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}
	req.OrderID = orderID

	inv, err := s.invoiceSvc.IssueFinal(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.incInvoiceIssued(invoicedomain.InvoiceTypeFinal)
	if s.obsMetrics != nil && inv.SubscriptionUtilized {
		s.obsMetrics.UsageCorrections.Add(float64(len(inv.SubscriptionSelections)))
	}
	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) ListOrderInvoices(c *gin.Context) {
	orderID, ok := parseSnowflakeParam(c, "orderId")
	if !ok {
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), invoicedomain.ListInvoiceRequest{OrderID: &orderID})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices})
}

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListInvoiceRequest
	if raw := strings.TrimSpace(c.Query("order_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("order_id", "invalid_id", "invalid id"))
			return
		}
		req.OrderID = &id
	}
	if raw := strings.TrimSpace(c.Query("invoice_type")); raw != "" {
		invoiceType := invoicedomain.InvoiceType(raw)
		req.InvoiceType = &invoiceType
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := invoicedomain.InvoiceStatus(raw)
		req.Status = &status
	}
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, newValidationError("pagination", "invalid_pagination", "invalid pagination"))
		return
	}

	resp, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	inv, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) GetInvoiceItems(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	items, err := s.invoiceSvc.GetItems(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) VoidInvoice(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}

	inv, err := s.invoiceSvc.Void(c.Request.Context(), id, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.InvoicesVoided.Inc()
	}
	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) ReverseInvoiceUsage(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	if err := s.invoiceSvc.ReverseUsage(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"reversed": true}})
}

func (s *Server) UpdateInvoicePayment(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	var req invoicedomain.PaymentUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "invalid request body"))
		return
	}

	inv, err := s.invoiceSvc.UpdateSubscriptionAndPayment(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.PaymentUpdates.WithLabelValues(string(req.Status)).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) RegenerateInvoicePDF(c *gin.Context) {
	id, ok := parseSnowflakeParam(c, "id")
	if !ok {
		return
	}

	url, err := s.invoiceSvc.RegeneratePDF(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"pdf_url": url}})
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
