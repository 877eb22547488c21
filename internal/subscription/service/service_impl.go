package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/freshfold/freshfold/internal/clock"
	plandomain "github.com/freshfold/freshfold/internal/plan/domain"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
	"github.com/freshfold/freshfold/internal/uow"
	"github.com/freshfold/freshfold/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	UoW   *uow.UnitOfWork
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	uow   *uow.UnitOfWork
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,
		uow:   p.UoW,
	}
}

func (s *Service) Deduct(ctx context.Context, req subscriptiondomain.DeductRequest) (*subscriptiondomain.SubscriptionUsage, error) {
	var usage *subscriptiondomain.SubscriptionUsage
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		row, err := s.DeductTx(ctx, tx, req)
		if err != nil {
			return err
		}
		usage = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// DeductTx applies one order's usage to a subscription inside the
// caller's transaction. Retries are no-op successes: an existing
// (order, subscription) ledger row short-circuits before any counter
// is touched, and the unique index settles concurrent inserts.
func (s *Service) DeductTx(ctx context.Context, tx *gorm.DB, req subscriptiondomain.DeductRequest) (*subscriptiondomain.SubscriptionUsage, error) {
	if req.SubscriptionID == 0 || req.OrderID == 0 || req.Pickups < 0 || req.Kg < 0 || req.Items < 0 {
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	existing, err := s.findUsage(ctx, tx, req.OrderID, req.SubscriptionID, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	sub, err := s.loadSubscriptionForUpdate(ctx, tx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if !sub.Active {
		return nil, subscriptiondomain.ErrSubscriptionInactive
	}

	// Fully utilized (remaining == 0 after deduction) is valid; only a
	// negative remainder fails.
	if sub.RemainingPickups-req.Pickups < 0 {
		return nil, subscriptiondomain.ErrInsufficientBalance
	}
	if sub.HasKgLimit() && sub.UsedKg+req.Kg > sub.TotalKgLimit {
		return nil, subscriptiondomain.ErrInsufficientBalance
	}
	if sub.HasItemsLimit() && sub.UsedItemsCount+req.Items > sub.TotalItemsLimit {
		return nil, subscriptiondomain.ErrInsufficientBalance
	}

	now := s.clock.Now()
	usage := &subscriptiondomain.SubscriptionUsage{
		ID:                 s.genID.Generate(),
		SubscriptionID:     req.SubscriptionID,
		OrderID:            req.OrderID,
		InvoiceID:          req.InvoiceID,
		DeductedPickups:    req.Pickups,
		DeductedKg:         req.Kg,
		DeductedItemsCount: req.Items,
		CreatedAt:          now,
	}

	inserted, err := s.insertUsage(ctx, tx, usage)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.findUsage(ctx, tx, req.OrderID, req.SubscriptionID, true)
	}

	if err := s.applyCounterDelta(ctx, tx, req.SubscriptionID, -req.Pickups, req.Kg, req.Items, now); err != nil {
		return nil, err
	}

	s.log.Info("subscription usage deducted",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("order_id", req.OrderID.String()),
		zap.Int("pickups", req.Pickups),
		zap.Float64("kg", req.Kg),
		zap.Int("items", req.Items),
	)
	return usage, nil
}

func (s *Service) CorrectUsage(ctx context.Context, req subscriptiondomain.CorrectUsageRequest) (*subscriptiondomain.SubscriptionUsage, error) {
	var usage *subscriptiondomain.SubscriptionUsage
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		row, err := s.CorrectUsageTx(ctx, tx, req)
		if err != nil {
			return err
		}
		usage = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// CorrectUsageTx trues up estimated versus actual kg/items at FINAL
// issuance. Only the delta against the existing row is applied to the
// subscription counters; a negative delta decreases usage.
func (s *Service) CorrectUsageTx(ctx context.Context, tx *gorm.DB, req subscriptiondomain.CorrectUsageRequest) (*subscriptiondomain.SubscriptionUsage, error) {
	if req.OrderID == 0 || req.SubscriptionID == 0 || req.NewKg < 0 || req.NewItems < 0 {
		return nil, subscriptiondomain.ErrInvalidRequest
	}

	usage, err := s.findUsage(ctx, tx, req.OrderID, req.SubscriptionID, true)
	if err != nil {
		return nil, err
	}
	if usage.ReversedAt != nil {
		return nil, subscriptiondomain.ErrUsageAlreadyReversed
	}

	deltaKg := req.NewKg - usage.DeductedKg
	deltaItems := req.NewItems - usage.DeductedItemsCount
	if deltaKg == 0 && deltaItems == 0 {
		return usage, nil
	}
	if usage.CorrectedAt != nil {
		return nil, subscriptiondomain.ErrUsageAlreadyCorrected
	}

	sub, err := s.loadSubscriptionForUpdate(ctx, tx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	if sub.UsedKg+deltaKg < 0 || sub.UsedItemsCount+deltaItems < 0 {
		return nil, subscriptiondomain.ErrInvalidRequest
	}
	if sub.HasKgLimit() && sub.UsedKg+deltaKg > sub.TotalKgLimit {
		return nil, subscriptiondomain.ErrInsufficientBalance
	}
	if sub.HasItemsLimit() && sub.UsedItemsCount+deltaItems > sub.TotalItemsLimit {
		return nil, subscriptiondomain.ErrInsufficientBalance
	}

	now := s.clock.Now()
	if err := s.applyCounterDelta(ctx, tx, req.SubscriptionID, 0, deltaKg, deltaItems, now); err != nil {
		return nil, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE subscription_usages
		 SET deducted_kg = ?, deducted_items_count = ?, corrected_at = ?
		 WHERE id = ?`,
		req.NewKg,
		req.NewItems,
		now,
		usage.ID,
	).Error; err != nil {
		return nil, err
	}

	usage.DeductedKg = req.NewKg
	usage.DeductedItemsCount = req.NewItems
	usage.CorrectedAt = &now

	s.log.Info("subscription usage corrected",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("order_id", req.OrderID.String()),
		zap.Float64("delta_kg", deltaKg),
		zap.Int("delta_items", deltaItems),
	)
	return usage, nil
}

// ReverseUsageTx credits a voided invoice's deduction back. Voiding
// never does this implicitly; it is a separate administrative call and
// a reversed row cannot be reversed twice.
func (s *Service) ReverseUsageTx(ctx context.Context, tx *gorm.DB, orderID, subscriptionID snowflake.ID) (*subscriptiondomain.SubscriptionUsage, error) {
	usage, err := s.findUsage(ctx, tx, orderID, subscriptionID, true)
	if err != nil {
		return nil, err
	}
	if usage.ReversedAt != nil {
		return nil, subscriptiondomain.ErrUsageAlreadyReversed
	}

	now := s.clock.Now()
	if err := s.applyCounterDelta(ctx, tx, subscriptionID, usage.DeductedPickups, -usage.DeductedKg, -usage.DeductedItemsCount, now); err != nil {
		return nil, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE subscription_usages SET reversed_at = ? WHERE id = ?`,
		now,
		usage.ID,
	).Error; err != nil {
		return nil, err
	}
	usage.ReversedAt = &now
	return usage, nil
}

func (s *Service) ListUsage(ctx context.Context, subscriptionID snowflake.ID) ([]subscriptiondomain.SubscriptionUsage, error) {
	var rows []subscriptiondomain.SubscriptionUsage
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
		}
		return subscriptiondomain.Subscription{}, err
	}
	return sub, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID snowflake.ID, activeOnly bool) ([]subscriptiondomain.Subscription, error) {
	query := s.db.WithContext(ctx).Where("customer_id = ?", customerID)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var subs []subscriptiondomain.Subscription
	if err := query.Order("created_at desc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// CreateFromPlanTx materializes a subscription from a plan, capturing
// the plan's limits so later plan edits never change this grant.
func (s *Service) CreateFromPlanTx(ctx context.Context, tx *gorm.DB, req subscriptiondomain.PurchaseRequest, item subscriptiondomain.PurchaseItem) (*subscriptiondomain.Subscription, *subscriptiondomain.PurchaseSnapshot, error) {
	if req.CustomerID == 0 || item.PlanID == 0 {
		return nil, nil, subscriptiondomain.ErrInvalidRequest
	}

	var plan plandomain.Plan
	err := tx.WithContext(ctx).First(&plan, "id = ? AND active = ?", item.PlanID, true).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, subscriptiondomain.ErrPlanNotFound
		}
		return nil, nil, err
	}

	now := s.clock.Now()
	validFrom := item.ValidityStartDate
	if validFrom.IsZero() {
		validFrom = now
	}
	validTill := validFrom.AddDate(0, 0, plan.ValidityDays)
	if item.QuantityMonths > 0 {
		validTill = validFrom.AddDate(0, item.QuantityMonths, 0)
	}

	sub := &subscriptiondomain.Subscription{
		ID:                s.genID.Generate(),
		CustomerID:        req.CustomerID,
		PlanID:            plan.ID,
		BranchID:          req.BranchID,
		DeliveryAddressID: req.DeliveryAddressID,
		ValidFrom:         validFrom,
		ValidTill:         validTill,
		Active:            true,
		RemainingPickups:  plan.MaxPickups,
		TotalMaxPickups:   plan.MaxPickups,
		TotalKgLimit:      plan.KgLimit,
		TotalItemsLimit:   plan.ItemsLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, nil, err
	}

	snapshot := &subscriptiondomain.PurchaseSnapshot{
		PlanID:     plan.ID,
		PlanName:   plan.Name,
		ValidTill:  validTill,
		MaxPickups: plan.MaxPickups,
		KgLimit:    plan.KgLimit,
		ItemsLimit: plan.ItemsLimit,
		Amount:     plan.PriceAmount,
	}
	return sub, snapshot, nil
}

// AdjustBalance is the explicit admin override path. It bypasses the
// ledger's deduction invariants on purpose and is audited by the
// caller.
func (s *Service) AdjustBalance(ctx context.Context, req subscriptiondomain.AdjustBalanceRequest) (subscriptiondomain.Subscription, error) {
	if req.SubscriptionID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidRequest
	}
	if req.RemainingPickups != nil && *req.RemainingPickups < 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidRequest
	}
	if req.UsedKg != nil && *req.UsedKg < 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidRequest
	}
	if req.UsedItemsCount != nil && *req.UsedItemsCount < 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidRequest
	}

	var out subscriptiondomain.Subscription
	err := s.uow.RunInTransaction(ctx, func(tx *gorm.DB) error {
		sub, err := s.loadSubscriptionForUpdate(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		updates := map[string]any{"updated_at": s.clock.Now()}
		if req.RemainingPickups != nil {
			updates["remaining_pickups"] = *req.RemainingPickups
		}
		if req.UsedKg != nil {
			updates["used_kg"] = *req.UsedKg
		}
		if req.UsedItemsCount != nil {
			updates["used_items_count"] = *req.UsedItemsCount
		}
		if err := tx.WithContext(ctx).Model(&subscriptiondomain.Subscription{}).
			Where("id = ?", req.SubscriptionID).
			Updates(updates).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).First(&out, "id = ?", req.SubscriptionID).Error
	})
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.log.Warn("subscription balance adjusted",
		zap.String("subscription_id", req.SubscriptionID.String()),
		zap.String("reason", req.Reason),
	)
	return out, nil
}

// DeactivateExpired flips active=false on subscriptions past their
// validity window. The surrounding platform runs this at order
// boundaries.
func (s *Service) DeactivateExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	result := s.db.WithContext(ctx).Model(&subscriptiondomain.Subscription{}).
		Where("active = ? AND valid_till < ?", true, now).
		Updates(map[string]any{"active": false, "updated_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (s *Service) loadSubscriptionForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	query := tx.WithContext(ctx)
	if !db.IsSQLite(tx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var sub subscriptiondomain.Subscription
	err := query.First(&sub, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Service) findUsage(ctx context.Context, tx *gorm.DB, orderID, subscriptionID snowflake.ID, required bool) (*subscriptiondomain.SubscriptionUsage, error) {
	var usage subscriptiondomain.SubscriptionUsage
	err := tx.WithContext(ctx).
		Where("order_id = ? AND subscription_id = ?", orderID, subscriptionID).
		First(&usage).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			if required {
				return nil, subscriptiondomain.ErrUsageNotFound
			}
			return nil, nil
		}
		return nil, err
	}
	return &usage, nil
}

func (s *Service) insertUsage(ctx context.Context, tx *gorm.DB, usage *subscriptiondomain.SubscriptionUsage) (bool, error) {
	result := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "subscription_id"}},
		DoNothing: true,
	}).Create(usage)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// applyCounterDelta mutates the subscription's running counters with a
// final balance guard so a concurrent writer on a dialect without
// locking reads still cannot drive remaining_pickups negative.
func (s *Service) applyCounterDelta(ctx context.Context, tx *gorm.DB, id snowflake.ID, pickupsDelta int, kgDelta float64, itemsDelta int, now time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET remaining_pickups = remaining_pickups + ?,
		     used_kg = used_kg + ?,
		     used_items_count = used_items_count + ?,
		     updated_at = ?
		 WHERE id = ? AND remaining_pickups + ? >= 0`,
		pickupsDelta,
		kgDelta,
		itemsDelta,
		now,
		id,
		pickupsDelta,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return subscriptiondomain.ErrInsufficientBalance
	}
	return nil
}
