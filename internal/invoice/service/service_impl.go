package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/freshfold/freshfold/internal/audit/domain"
	"github.com/freshfold/freshfold/internal/clock"
	"github.com/freshfold/freshfold/internal/config"
	invoicedomain "github.com/freshfold/freshfold/internal/invoice/domain"
	orderdomain "github.com/freshfold/freshfold/internal/order/domain"
	"github.com/freshfold/freshfold/internal/providers/pdf"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
	"github.com/freshfold/freshfold/internal/uow"
	"github.com/freshfold/freshfold/pkg/db"
	"github.com/freshfold/freshfold/pkg/db/option"
	"github.com/freshfold/freshfold/pkg/db/pagination"
	"github.com/freshfold/freshfold/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Dates *clock.DateProvider
	UoW   *uow.UnitOfWork
	Cfg   config.Config

	Subscriptions subscriptiondomain.Service
	Audit         auditdomain.Service
	PDF           pdf.Provider
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	dates *clock.DateProvider
	uow   *uow.UnitOfWork
	cfg   config.Config

	subs  subscriptiondomain.Service
	audit auditdomain.Service
	pdf   pdf.Provider

	invoiceRepo repository.Repository[invoicedomain.Invoice]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,
		dates: p.Dates,
		uow:   p.UoW,
		cfg:   p.Cfg,
		subs:  p.Subscriptions,
		audit: p.Audit,
		pdf:   p.PDF,

		invoiceRepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}
}

// CreateOrReplaceDraft writes the draft for (order, invoice type). A
// second call replaces the previous draft body outright; nothing is
// merged, so the last payload always wins. An issued invoice of the
// same type rejects the write.
func (s *Service) CreateOrReplaceDraft(ctx context.Context, req invoicedomain.DraftRequest) (invoicedomain.Invoice, error) {
	subtotal, total, err := s.validateDraft(&req)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var out invoicedomain.Invoice
	err = s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		if _, err := s.loadOrder(ctx, tx, req.OrderID); err != nil {
			return err
		}

		existing, err := s.findLiveInvoice(ctx, tx, req.OrderID, req.InvoiceType, true)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		inv := invoicedomain.Invoice{
			OrderID:                 &req.OrderID,
			InvoiceType:             req.InvoiceType,
			Status:                  invoicedomain.InvoiceStatusDraft,
			SubtotalAmount:          subtotal,
			TaxAmount:               req.TaxAmount,
			DiscountAmount:          req.DiscountAmount,
			TotalAmount:             total,
			OrderMode:               req.OrderMode,
			SubscriptionSelections:  datatypes.NewJSONSlice(req.SubscriptionSelections),
			SubscriptionUsageKg:     req.SubscriptionUsageKg,
			SubscriptionUsageItems:  req.SubscriptionUsageItems,
			Comments:                req.Comments,
			BrandingSnapshot:        req.BrandingSnapshot,
			NewSubscriptionSnapshot: datatypes.NewJSONSlice(req.NewSubscriptions),
			UpdatedAt:               now,
		}

		if existing != nil {
			if existing.Status == invoicedomain.InvoiceStatusIssued {
				return invoicedomain.ErrInvoiceAlreadyIssued
			}
			inv.ID = existing.ID
			inv.CreatedAt = existing.CreatedAt
			inv.PaymentStatus = existing.PaymentStatus
			inv.PaymentProvider = existing.PaymentProvider
			inv.AmountPaid = existing.AmountPaid

			if err := tx.WithContext(ctx).
				Where("invoice_id = ?", existing.ID).
				Delete(&invoicedomain.InvoiceItem{}).Error; err != nil {
				return err
			}
			if err := tx.WithContext(ctx).Save(&inv).Error; err != nil {
				return err
			}
		} else {
			inv.ID = s.genID.Generate()
			inv.PaymentStatus = orderdomain.PaymentStatusPending
			inv.CreatedAt = now
			if err := tx.WithContext(ctx).Create(&inv).Error; err != nil {
				// A concurrent writer took the live slot for this
				// (order, type); the caller should re-read and retry.
				if db.IsDuplicateKeyErr(err) {
					return invoicedomain.ErrInvoiceAlreadyIssued
				}
				return err
			}
		}

		if len(req.Items) > 0 {
			rows := make([]invoicedomain.InvoiceItem, 0, len(req.Items))
			for _, item := range req.Items {
				rows = append(rows, invoicedomain.InvoiceItem{
					ID:            s.genID.Generate(),
					InvoiceID:     inv.ID,
					ItemType:      item.ItemType,
					Name:          item.Name,
					Quantity:      item.Quantity,
					UnitPrice:     item.UnitPrice,
					Amount:        item.Amount,
					CatalogItemID: item.CatalogItemID,
					SegmentID:     item.SegmentID,
					ServiceID:     item.ServiceID,
					CreatedAt:     now,
				})
			}
			if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
				return err
			}
		}

		out = inv
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.log.Info("invoice draft saved",
		zap.String("order_id", req.OrderID.String()),
		zap.String("invoice_type", string(req.InvoiceType)),
		zap.String("invoice_id", out.ID.String()),
	)
	return out, nil
}

// IssueAck flips the acknowledgement draft to ISSUED: subscription
// deductions, code minting and the status flip commit atomically, so
// a failed deduction leaves the draft untouched and unnumbered.
func (s *Service) IssueAck(ctx context.Context, req invoicedomain.IssueAckRequest) (invoicedomain.Invoice, error) {
	if req.OrderID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrValidation
	}
	if req.WeightKg != nil && *req.WeightKg < 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrValidation
	}
	if req.ItemsCount != nil && *req.ItemsCount < 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrValidation
	}

	var out invoicedomain.Invoice
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}

		inv, err := s.findLiveInvoice(ctx, tx, req.OrderID, invoicedomain.InvoiceTypeAcknowledgement, true)
		if err != nil {
			return err
		}
		if inv == nil {
			return invoicedomain.ErrInvoiceNotDraft
		}
		if inv.Status == invoicedomain.InvoiceStatusIssued {
			return invoicedomain.ErrInvoiceAlreadyIssued
		}

		usageKg := inv.SubscriptionUsageKg
		usageItems := inv.SubscriptionUsageItems
		if req.WeightKg != nil {
			usageKg = *req.WeightKg
		}
		if req.ItemsCount != nil {
			usageItems = *req.ItemsCount
		}

		selections := []subscriptiondomain.Deduction(inv.SubscriptionSelections)
		applied := false
		if req.ApplySubscription && len(selections) > 0 {
			// Measured overrides only make sense when one subscription
			// covers the order; splitting them across several is the
			// caller's job via a fresh draft.
			if (req.WeightKg != nil || req.ItemsCount != nil) && len(selections) > 1 {
				return invoicedomain.ErrValidation
			}
			for i := range selections {
				if req.WeightKg != nil {
					selections[i].Kg = *req.WeightKg
				}
				if req.ItemsCount != nil {
					selections[i].Items = *req.ItemsCount
				}
				_, err := s.subs.DeductTx(ctx, tx, subscriptiondomain.DeductRequest{
					SubscriptionID: selections[i].SubscriptionID,
					OrderID:        order.ID,
					InvoiceID:      &inv.ID,
					Pickups:        selections[i].Pickups,
					Kg:             selections[i].Kg,
					Items:          selections[i].Items,
				})
				if err != nil {
					return err
				}
			}
			applied = true
		}

		now := s.clock.Now()
		code, err := s.nextInvoiceCode(ctx, tx, invoicedomain.InvoiceTypeAcknowledgement, now)
		if err != nil {
			return err
		}

		if err := s.flipToIssued(ctx, tx, inv.ID, map[string]any{
			"status":                   invoicedomain.InvoiceStatusIssued,
			"code":                     code,
			"issued_at":                now,
			"updated_at":               now,
			"subscription_utilized":    applied,
			"subscription_usage_kg":    usageKg,
			"subscription_usage_items": usageItems,
			"subscription_selections":  datatypes.NewJSONSlice(selections),
		}); err != nil {
			return err
		}
		return tx.WithContext(ctx).First(&out, "id = ?", inv.ID).Error
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.recordAudit(ctx, "invoice.issue_ack", out.ID, map[string]any{
		"order_id":              req.OrderID.String(),
		"code":                  deref(out.Code),
		"subscription_utilized": out.SubscriptionUtilized,
	})
	s.renderAfterIssue(ctx, &out)

	s.log.Info("acknowledgement invoice issued",
		zap.String("order_id", req.OrderID.String()),
		zap.String("code", deref(out.Code)),
	)
	return out, nil
}

// IssueFinal flips the final draft to ISSUED. It requires an issued
// acknowledgement for the order, trues the ledger up to actual
// measurements by delta, and fulfils any pending subscription purchase
// once payment is confirmed.
func (s *Service) IssueFinal(ctx context.Context, req invoicedomain.IssueFinalRequest) (invoicedomain.Invoice, error) {
	if req.OrderID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrValidation
	}
	if req.ActualWeightKg != nil && *req.ActualWeightKg < 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrValidation
	}
	if req.ActualItemsCount != nil && *req.ActualItemsCount < 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrValidation
	}

	var out invoicedomain.Invoice
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}

		ack, err := s.findLiveInvoice(ctx, tx, req.OrderID, invoicedomain.InvoiceTypeAcknowledgement, false)
		if err != nil {
			return err
		}
		if ack == nil || ack.Status != invoicedomain.InvoiceStatusIssued {
			return invoicedomain.ErrAckNotIssued
		}

		inv, err := s.findLiveInvoice(ctx, tx, req.OrderID, invoicedomain.InvoiceTypeFinal, true)
		if err != nil {
			return err
		}
		if inv == nil {
			return invoicedomain.ErrInvoiceNotDraft
		}
		if inv.Status == invoicedomain.InvoiceStatusIssued {
			return invoicedomain.ErrInvoiceAlreadyIssued
		}

		usageKg := inv.SubscriptionUsageKg
		usageItems := inv.SubscriptionUsageItems
		if req.ActualWeightKg != nil {
			usageKg = *req.ActualWeightKg
		}
		if req.ActualItemsCount != nil {
			usageItems = *req.ActualItemsCount
		}

		selections := []subscriptiondomain.Deduction(inv.SubscriptionSelections)
		if len(selections) == 0 {
			selections = []subscriptiondomain.Deduction(ack.SubscriptionSelections)
		}
		if ack.SubscriptionUtilized && len(selections) > 0 {
			if (req.ActualWeightKg != nil || req.ActualItemsCount != nil) && len(selections) > 1 {
				return invoicedomain.ErrValidation
			}
			for i := range selections {
				if req.ActualWeightKg != nil {
					selections[i].Kg = *req.ActualWeightKg
				}
				if req.ActualItemsCount != nil {
					selections[i].Items = *req.ActualItemsCount
				}
				_, err := s.subs.CorrectUsageTx(ctx, tx, subscriptiondomain.CorrectUsageRequest{
					OrderID:        order.ID,
					SubscriptionID: selections[i].SubscriptionID,
					NewKg:          selections[i].Kg,
					NewItems:       selections[i].Items,
				})
				if err != nil {
					return err
				}
			}
		}

		now := s.clock.Now()
		updates := map[string]any{
			"status":                   invoicedomain.InvoiceStatusIssued,
			"issued_at":                now,
			"updated_at":               now,
			"subscription_utilized":    ack.SubscriptionUtilized,
			"subscription_usage_kg":    usageKg,
			"subscription_usage_items": usageItems,
			"subscription_selections":  datatypes.NewJSONSlice(selections),
		}

		if len(inv.NewSubscriptionSnapshot) > 0 && inv.NewSubscriptionFulfilledAt == nil && order.PaymentStatus.Confirmed() {
			if _, err := s.createSubscriptionsTx(ctx, tx, order.CustomerID, order.BranchID, inv.NewSubscriptionSnapshot); err != nil {
				return err
			}
			updates["new_subscription_fulfilled_at"] = now
		}

		code, err := s.nextInvoiceCode(ctx, tx, invoicedomain.InvoiceTypeFinal, now)
		if err != nil {
			return err
		}
		updates["code"] = code

		if err := s.flipToIssued(ctx, tx, inv.ID, updates); err != nil {
			return err
		}
		return tx.WithContext(ctx).First(&out, "id = ?", inv.ID).Error
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.recordAudit(ctx, "invoice.issue_final", out.ID, map[string]any{
		"order_id": req.OrderID.String(),
		"code":     deref(out.Code),
	})
	s.renderAfterIssue(ctx, &out)

	s.log.Info("final invoice issued",
		zap.String("order_id", req.OrderID.String()),
		zap.String("code", deref(out.Code)),
	)
	return out, nil
}

// Void is terminal for both drafts and issued invoices. An issued
// invoice keeps its code for the audit trail, and any ledger deduction
// it carries stays in place until ReverseUsage is called explicitly.
func (s *Service) Void(ctx context.Context, invoiceID snowflake.ID, reason string) (invoicedomain.Invoice, error) {
	var out invoicedomain.Invoice
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		inv, err := s.loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoicedomain.InvoiceStatusVoid {
			return invoicedomain.ErrInvoiceVoided
		}

		now := s.clock.Now()
		result := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ? AND status <> ?", invoiceID, invoicedomain.InvoiceStatusVoid).
			Updates(map[string]any{
				"status":     invoicedomain.InvoiceStatusVoid,
				"voided_at":  now,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return invoicedomain.ErrInvoiceVoided
		}
		return tx.WithContext(ctx).First(&out, "id = ?", invoiceID).Error
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.recordAudit(ctx, "invoice.void", invoiceID, map[string]any{
		"reason": reason,
		"code":   deref(out.Code),
	})
	s.log.Info("invoice voided",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("reason", reason),
	)
	return out, nil
}

// ReverseUsage credits a voided invoice's subscription deductions back
// to their subscriptions. It is never triggered by Void itself.
func (s *Service) ReverseUsage(ctx context.Context, invoiceID snowflake.ID) error {
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		inv, err := s.loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != invoicedomain.InvoiceStatusVoid {
			return invoicedomain.ErrValidation
		}
		if inv.OrderID == nil || len(inv.SubscriptionSelections) == 0 {
			return invoicedomain.ErrValidation
		}
		for _, sel := range inv.SubscriptionSelections {
			if _, err := s.subs.ReverseUsageTx(ctx, tx, *inv.OrderID, sel.SubscriptionID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, "invoice.reverse_usage", invoiceID, nil)
	return nil
}

// PurchaseSubscription creates subscriptions from plans and their
// purchase invoices in one transaction. Purchase invoices are born
// ISSUED; there is no draft stage to edit a plan price through.
func (s *Service) PurchaseSubscription(ctx context.Context, req subscriptiondomain.PurchaseRequest) (subscriptiondomain.PurchaseResponse, error) {
	if req.CustomerID == 0 || len(req.Items) == 0 {
		return subscriptiondomain.PurchaseResponse{}, invoicedomain.ErrValidation
	}
	for _, item := range req.Items {
		if item.PlanID == 0 {
			return subscriptiondomain.PurchaseResponse{}, invoicedomain.ErrValidation
		}
	}

	var resp subscriptiondomain.PurchaseResponse
	var issued []invoicedomain.Invoice
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		for _, item := range req.Items {
			sub, snap, err := s.subs.CreateFromPlanTx(ctx, tx, req, item)
			if err != nil {
				return err
			}

			now := s.clock.Now()
			code, err := s.nextInvoiceCode(ctx, tx, invoicedomain.InvoiceTypeSubscription, now)
			if err != nil {
				return err
			}

			snapJSON := datatypes.NewJSONType(*snap)
			inv := invoicedomain.Invoice{
				ID:                           s.genID.Generate(),
				SubscriptionID:               &sub.ID,
				InvoiceType:                  invoicedomain.InvoiceTypeSubscription,
				Code:                         &code,
				Status:                       invoicedomain.InvoiceStatusIssued,
				SubtotalAmount:               snap.Amount,
				TotalAmount:                  snap.Amount,
				PaymentStatus:                orderdomain.PaymentStatusPending,
				SubscriptionPurchaseSnapshot: &snapJSON,
				IssuedAt:                     &now,
				CreatedAt:                    now,
				UpdatedAt:                    now,
			}
			if err := tx.WithContext(ctx).Create(&inv).Error; err != nil {
				return err
			}

			line := invoicedomain.InvoiceItem{
				ID:        s.genID.Generate(),
				InvoiceID: inv.ID,
				ItemType:  "SUBSCRIPTION",
				Name:      snap.PlanName,
				Quantity:  1,
				UnitPrice: snap.Amount,
				Amount:    snap.Amount,
				CreatedAt: now,
			}
			if err := tx.WithContext(ctx).Create(&line).Error; err != nil {
				return err
			}

			resp.Subscriptions = append(resp.Subscriptions, *sub)
			resp.InvoiceIDs = append(resp.InvoiceIDs, inv.ID)
			issued = append(issued, inv)
		}
		return nil
	})
	if err != nil {
		return subscriptiondomain.PurchaseResponse{}, err
	}

	for i := range issued {
		s.recordAudit(ctx, "invoice.subscription_purchase", issued[i].ID, map[string]any{
			"customer_id": req.CustomerID.String(),
			"code":        deref(issued[i].Code),
		})
		s.renderAfterIssue(ctx, &issued[i])
	}
	return resp, nil
}

// UpdateSubscriptionAndPayment records a payment update on the invoice,
// writes the status through to the order, and fulfils a pending
// subscription purchase once money is confirmed.
func (s *Service) UpdateSubscriptionAndPayment(ctx context.Context, invoiceID snowflake.ID, update invoicedomain.PaymentUpdate) (invoicedomain.Invoice, error) {
	if update.Status == "" || update.AmountPaid < 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrValidation
	}

	var out invoicedomain.Invoice
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		inv, err := s.loadInvoiceForUpdate(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == invoicedomain.InvoiceStatusVoid {
			return invoicedomain.ErrInvoiceVoided
		}

		now := s.clock.Now()
		updates := map[string]any{
			"payment_status": update.Status,
			"amount_paid":    update.AmountPaid,
			"updated_at":     now,
		}
		if update.Provider != "" {
			updates["payment_provider"] = update.Provider
		}

		if update.Status.Confirmed() &&
			len(inv.NewSubscriptionSnapshot) > 0 &&
			inv.NewSubscriptionFulfilledAt == nil &&
			inv.OrderID != nil {
			order, err := s.loadOrder(ctx, tx, *inv.OrderID)
			if err != nil {
				return err
			}
			if _, err := s.createSubscriptionsTx(ctx, tx, order.CustomerID, order.BranchID, inv.NewSubscriptionSnapshot); err != nil {
				return err
			}
			updates["new_subscription_fulfilled_at"] = now
		}

		if err := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
			Where("id = ?", invoiceID).
			Updates(updates).Error; err != nil {
			return err
		}

		if inv.OrderID != nil {
			if err := tx.WithContext(ctx).Model(&orderdomain.Order{}).
				Where("id = ?", *inv.OrderID).
				Updates(map[string]any{"payment_status": update.Status, "updated_at": now}).Error; err != nil {
				return err
			}
		}
		return tx.WithContext(ctx).First(&out, "id = ?", invoiceID).Error
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.recordAudit(ctx, "invoice.payment_update", invoiceID, map[string]any{
		"status":      string(update.Status),
		"provider":    update.Provider,
		"amount_paid": update.AmountPaid,
	})
	return out, nil
}

// CountIssuedOnDate reports how many codes of a type were minted on a
// business date. Voided invoices keep their codes, so the count never
// shrinks and the sequence never reuses a number.
func (s *Service) CountIssuedOnDate(ctx context.Context, invoiceType invoicedomain.InvoiceType, dateKey string) (int64, error) {
	pattern := fmt.Sprintf("%s-%s-%%", s.prefixFor(invoiceType), dateKey)
	var count int64
	err := s.db.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("invoice_type = ? AND code LIKE ?", invoiceType, pattern).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Service) RegeneratePDF(ctx context.Context, invoiceID snowflake.ID) (string, error) {
	inv, err := s.GetByID(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	if inv.Code == nil {
		return "", invoicedomain.ErrValidation
	}
	items, err := s.GetItems(ctx, invoiceID)
	if err != nil {
		return "", err
	}
	url, err := s.renderAndStore(ctx, &inv, items)
	if err != nil {
		return "", err
	}
	return url, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := &invoicedomain.Invoice{}
	if req.OrderID != nil {
		filter.OrderID = req.OrderID
	}
	if req.InvoiceType != nil {
		filter.InvoiceType = *req.InvoiceType
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.WithQuerySortBy("created_at", "desc", nil)),
		option.ApplyPagination(req.Pagination),
	}
	if req.CreatedFrom != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.GTE, Value: *req.CreatedFrom}))
	}
	if req.CreatedTo != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LT, Value: *req.CreatedTo}))
	}

	rows, err := s.invoiceRepo.Find(ctx, filter, opts...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	size := req.Pagination.PageSize
	if size <= 0 {
		size = 10
	}
	pageInfo := pagination.BuildCursorPageInfo(rows, int32(size), func(inv *invoicedomain.Invoice) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        inv.ID.String(),
			CreatedAt: inv.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})
	if len(rows) > size {
		rows = rows[:size]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(rows))
	for _, row := range rows {
		invoices = append(invoices, *row)
	}
	return invoicedomain.ListInvoiceResponse{Invoices: invoices, PageInfo: pageInfo}, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	var inv invoicedomain.Invoice
	err := s.db.WithContext(ctx).First(&inv, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
		}
		return invoicedomain.Invoice{}, err
	}
	return inv, nil
}

func (s *Service) GetItems(ctx context.Context, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) validateDraft(req *invoicedomain.DraftRequest) (int64, int64, error) {
	if req.OrderID == 0 {
		return 0, 0, invoicedomain.ErrValidation
	}
	switch req.InvoiceType {
	case invoicedomain.InvoiceTypeAcknowledgement, invoicedomain.InvoiceTypeFinal:
	default:
		// Purchase invoices never pass through the draft stage.
		return 0, 0, invoicedomain.ErrValidation
	}
	if req.TaxAmount < 0 || req.DiscountAmount < 0 {
		return 0, 0, invoicedomain.ErrValidation
	}
	if req.SubscriptionUsageKg < 0 || req.SubscriptionUsageItems < 0 {
		return 0, 0, invoicedomain.ErrValidation
	}

	var subtotal int64
	for i := range req.Items {
		item := &req.Items[i]
		if item.Name == "" || item.Quantity <= 0 || item.UnitPrice < 0 || item.Amount < 0 {
			return 0, 0, invoicedomain.ErrValidation
		}
		if item.Amount == 0 {
			item.Amount = item.Quantity * item.UnitPrice
		}
		subtotal += item.Amount
	}

	for _, sel := range req.SubscriptionSelections {
		if sel.SubscriptionID == 0 || sel.Pickups < 0 || sel.Kg < 0 || sel.Items < 0 {
			return 0, 0, invoicedomain.ErrValidation
		}
	}
	switch req.OrderMode {
	case invoicedomain.OrderModeSubscriptionOnly, invoicedomain.OrderModeBoth:
		// Subscription modes must name the subscription(s) paying
		// for the order.
		if len(req.SubscriptionSelections) == 0 {
			return 0, 0, invoicedomain.ErrValidation
		}
	}
	for _, item := range req.NewSubscriptions {
		if item.PlanID == 0 || item.QuantityMonths < 0 {
			return 0, 0, invoicedomain.ErrValidation
		}
	}

	total := subtotal + req.TaxAmount - req.DiscountAmount
	if total < 0 {
		total = 0
	}
	return subtotal, total, nil
}

func (s *Service) createSubscriptionsTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, branchID *snowflake.ID, items []subscriptiondomain.PurchaseItem) ([]subscriptiondomain.Subscription, error) {
	req := subscriptiondomain.PurchaseRequest{
		CustomerID: customerID,
		BranchID:   branchID,
	}
	subs := make([]subscriptiondomain.Subscription, 0, len(items))
	for _, item := range items {
		sub, _, err := s.subs.CreateFromPlanTx(ctx, tx, req, item)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, nil
}

// flipToIssued is the single writer of the DRAFT to ISSUED transition.
// The guarded update means two racing issuers cannot both win; the
// loser sees zero rows and reports what actually happened.
func (s *Service) flipToIssued(ctx context.Context, tx *gorm.DB, id snowflake.ID, updates map[string]any) error {
	result := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("id = ? AND status = ?", id, invoicedomain.InvoiceStatusDraft).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var current invoicedomain.Invoice
		if err := tx.WithContext(ctx).First(&current, "id = ?", id).Error; err != nil {
			return err
		}
		if current.Status == invoicedomain.InvoiceStatusIssued {
			return invoicedomain.ErrInvoiceAlreadyIssued
		}
		return invoicedomain.ErrInvoiceNotDraft
	}
	return nil
}

// nextInvoiceCode mints <PREFIX>-<YYYYMMDD>-<seq> where the date is the
// business day and seq restarts at 1 each day. Counting existing codes
// inside the issuing transaction keeps the sequence gapless.
func (s *Service) nextInvoiceCode(ctx context.Context, tx *gorm.DB, invoiceType invoicedomain.InvoiceType, now time.Time) (string, error) {
	prefix := s.prefixFor(invoiceType)
	dateKey := s.dates.DateKey(now)
	pattern := fmt.Sprintf("%s-%s-%%", prefix, dateKey)

	var seq int64
	err := tx.WithContext(ctx).Model(&invoicedomain.Invoice{}).
		Where("code LIKE ?", pattern).
		Count(&seq).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%d", prefix, dateKey, seq+1), nil
}

func (s *Service) prefixFor(invoiceType invoicedomain.InvoiceType) string {
	switch invoiceType {
	case invoicedomain.InvoiceTypeFinal:
		return s.cfg.FinalInvoicePrefix
	case invoicedomain.InvoiceTypeSubscription:
		return s.cfg.SubscriptionInvoicePrefix
	default:
		return s.cfg.AckInvoicePrefix
	}
}

func (s *Service) loadOrder(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := tx.WithContext(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, invoicedomain.ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// findLiveInvoice fetches the non-void invoice for (order, type). The
// partial unique index guarantees there is at most one.
func (s *Service) findLiveInvoice(ctx context.Context, tx *gorm.DB, orderID snowflake.ID, invoiceType invoicedomain.InvoiceType, lock bool) (*invoicedomain.Invoice, error) {
	query := tx.WithContext(ctx)
	if lock && !db.IsSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var inv invoicedomain.Invoice
	err := query.
		Where("order_id = ? AND invoice_type = ? AND status <> ?", orderID, invoiceType, invoicedomain.InvoiceStatusVoid).
		First(&inv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Service) loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	query := tx.WithContext(ctx)
	if !db.IsSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var inv invoicedomain.Invoice
	err := query.First(&inv, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, invoiceID snowflake.ID, metadata map[string]any) {
	targetID := invoiceID.String()
	if err := s.audit.AuditLog(ctx, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
