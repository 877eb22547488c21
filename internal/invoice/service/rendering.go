package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	invoicedomain "github.com/freshfold/freshfold/internal/invoice/domain"
	"github.com/freshfold/freshfold/internal/providers/pdf"
	"go.uber.org/zap"
)

// branding is the shape of the draft's branding snapshot. Branch
// details are frozen at draft time so a later branch rename never
// rewrites an issued document.
type branding struct {
	BusinessName    string `json:"business_name"`
	BusinessAddress string `json:"business_address"`
	BusinessPhone   string `json:"business_phone"`
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
}

// renderAfterIssue generates the document outside the issuing
// transaction. Rendering failures are logged, never surfaced; the
// invoice is already committed and RegeneratePDF can retry.
func (s *Service) renderAfterIssue(ctx context.Context, inv *invoicedomain.Invoice) {
	items, err := s.GetItems(ctx, inv.ID)
	if err != nil {
		s.log.Warn("pdf render skipped", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		return
	}
	url, err := s.renderAndStore(ctx, inv, items)
	if err != nil {
		s.log.Warn("pdf render failed", zap.String("invoice_id", inv.ID.String()), zap.Error(err))
		return
	}
	if url != "" {
		inv.PDFURL = &url
	}
}

func (s *Service) renderAndStore(ctx context.Context, inv *invoicedomain.Invoice, items []invoicedomain.InvoiceItem) (string, error) {
	reader, err := s.pdf.GenerateInvoice(ctx, s.buildInvoiceData(inv, items))
	if err != nil {
		return "", err
	}
	if reader == nil {
		return "", nil
	}

	doc, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.cfg.PDFOutputDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(s.cfg.PDFOutputDir, fmt.Sprintf("%s.pdf", deref(inv.Code)))
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", err
	}

	if err := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ?", inv.ID).
		Updates(map[string]any{"pdf_url": path, "updated_at": s.clock.Now()}).Error; err != nil {
		return "", err
	}
	return path, nil
}

func (s *Service) buildInvoiceData(inv *invoicedomain.Invoice, items []invoicedomain.InvoiceItem) pdf.InvoiceData {
	var brand branding
	if len(inv.BrandingSnapshot) > 0 {
		_ = json.Unmarshal(inv.BrandingSnapshot, &brand)
	}
	if brand.BusinessName == "" {
		brand.BusinessName = s.cfg.AppName
	}

	data := pdf.InvoiceData{
		BusinessName:    brand.BusinessName,
		BusinessAddress: brand.BusinessAddress,
		BusinessPhone:   brand.BusinessPhone,
		Code:            deref(inv.Code),
		InvoiceType:     invoiceTypeLabel(inv.InvoiceType),
		CustomerName:    brand.CustomerName,
		CustomerAddress: brand.CustomerAddress,
		Subtotal:        formatMoney(inv.SubtotalAmount),
		Tax:             formatMoney(inv.TaxAmount),
		Discount:        formatMoney(inv.DiscountAmount),
		Total:           formatMoney(inv.TotalAmount),
		AmountPaid:      formatMoney(inv.AmountPaid),
		PaymentStatus:   string(inv.PaymentStatus),
		Comments:        inv.Comments,
	}
	if inv.IssuedAt != nil {
		data.IssueDate = inv.IssuedAt.Format("02 Jan 2006")
	}
	if inv.SubscriptionUtilized {
		data.SubscriptionNote = fmt.Sprintf(
			"Covered by subscription: %.1f kg, %d items",
			inv.SubscriptionUsageKg, inv.SubscriptionUsageItems,
		)
	}

	for _, item := range items {
		data.Items = append(data.Items, pdf.InvoiceLine{
			Description: item.Name,
			Qty:         item.Quantity,
			UnitPrice:   formatMoney(item.UnitPrice),
			Amount:      formatMoney(item.Amount),
		})
	}
	return data
}

func invoiceTypeLabel(t invoicedomain.InvoiceType) string {
	switch t {
	case invoicedomain.InvoiceTypeAcknowledgement:
		return "Acknowledgement"
	case invoicedomain.InvoiceTypeFinal:
		return "Tax Invoice"
	case invoicedomain.InvoiceTypeSubscription:
		return "Subscription Invoice"
	default:
		return string(t)
	}
}

// formatMoney renders paise as rupees.
func formatMoney(amount int64) string {
	return fmt.Sprintf("INR %.2f", float64(amount)/100)
}
