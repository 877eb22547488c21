package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/freshfold/freshfold/internal/clock"
	plandomain "github.com/freshfold/freshfold/internal/plan/domain"
	subscriptiondomain "github.com/freshfold/freshfold/internal/subscription/domain"
	"github.com/freshfold/freshfold/internal/uow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.SubscriptionUsage{},
	))
	return db
}

func newLedger(t *testing.T, db *gorm.DB) (*Service, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		UoW:   uow.New(db),
	})
	return svc.(*Service), fake, node
}

func seedSubscription(t *testing.T, db *gorm.DB, node *snowflake.Node, fake *clock.FakeClock, mutate func(*subscriptiondomain.Subscription)) subscriptiondomain.Subscription {
	t.Helper()
	now := fake.Now()
	sub := subscriptiondomain.Subscription{
		ID:               node.Generate(),
		CustomerID:       node.Generate(),
		PlanID:           node.Generate(),
		ValidFrom:        now.AddDate(0, 0, -1),
		ValidTill:        now.AddDate(0, 1, 0),
		Active:           true,
		RemainingPickups: 4,
		TotalMaxPickups:  4,
		TotalKgLimit:     20,
		TotalItemsLimit:  0,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if mutate != nil {
		mutate(&sub)
	}
	require.NoError(t, db.Create(&sub).Error)
	return sub
}

func reloadSubscription(t *testing.T, db *gorm.DB, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	var sub subscriptiondomain.Subscription
	require.NoError(t, db.First(&sub, "id = ?", id).Error)
	return sub
}

func TestDeduct_AppliesOncePerOrder(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, nil)
	orderID := node.Generate()

	req := subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		Pickups:        1,
		Kg:             5,
	}

	first, err := svc.Deduct(context.Background(), req)
	require.NoError(t, err)

	// Retry with the same order returns the existing row untouched.
	second, err := svc.Deduct(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got := reloadSubscription(t, db, sub.ID)
	assert.Equal(t, 3, got.RemainingPickups)
	assert.Equal(t, 5.0, got.UsedKg)

	var count int64
	require.NoError(t, db.Model(&subscriptiondomain.SubscriptionUsage{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeduct_ExactBoundary(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, func(s *subscriptiondomain.Subscription) {
		s.RemainingPickups = 2
		s.TotalMaxPickups = 2
	})

	// Using the full remaining balance is allowed.
	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        node.Generate(),
		Pickups:        2,
		Kg:             4,
	})
	require.NoError(t, err)

	got := reloadSubscription(t, db, sub.ID)
	assert.Equal(t, 0, got.RemainingPickups)

	// One more pickup would go negative.
	_, err = svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        node.Generate(),
		Pickups:        1,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInsufficientBalance)
}

func TestDeduct_KgLimitBoundary(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, func(s *subscriptiondomain.Subscription) {
		s.TotalKgLimit = 10
	})

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        node.Generate(),
		Pickups:        1,
		Kg:             10,
	})
	require.NoError(t, err)

	_, err = svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        node.Generate(),
		Pickups:        1,
		Kg:             0.5,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInsufficientBalance)
}

func TestDeduct_UnlimitedKgWhenNoLimit(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, func(s *subscriptiondomain.Subscription) {
		s.TotalKgLimit = 0
	})

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        node.Generate(),
		Pickups:        1,
		Kg:             250,
	})
	require.NoError(t, err)
}

func TestDeduct_InactiveSubscription(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, func(s *subscriptiondomain.Subscription) {
		s.Active = false
	})
	// The seeded row must actually persist as inactive; a column
	// default would silently flip a zero-valued field back to true.
	require.False(t, reloadSubscription(t, db, sub.ID).Active)

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        node.Generate(),
		Pickups:        1,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionInactive)
}

func TestCorrectUsage_AppliesDeltaOnly(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, nil)
	orderID := node.Generate()

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		Pickups:        1,
		Kg:             5,
		Items:          0,
	})
	require.NoError(t, err)

	// Actual weight came in lower than the estimate.
	usage, err := svc.CorrectUsage(context.Background(), subscriptiondomain.CorrectUsageRequest{
		OrderID:        orderID,
		SubscriptionID: sub.ID,
		NewKg:          3,
		NewItems:       0,
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, usage.DeductedKg)
	assert.NotNil(t, usage.CorrectedAt)

	got := reloadSubscription(t, db, sub.ID)
	assert.Equal(t, 3.0, got.UsedKg)
	// Pickups are fixed at deduction time; corrections never touch them.
	assert.Equal(t, 3, got.RemainingPickups)
}

func TestCorrectUsage_OnlyOnce(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, nil)
	orderID := node.Generate()

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		Pickups:        1,
		Kg:             5,
	})
	require.NoError(t, err)

	_, err = svc.CorrectUsage(context.Background(), subscriptiondomain.CorrectUsageRequest{
		OrderID:        orderID,
		SubscriptionID: sub.ID,
		NewKg:          4,
	})
	require.NoError(t, err)

	_, err = svc.CorrectUsage(context.Background(), subscriptiondomain.CorrectUsageRequest{
		OrderID:        orderID,
		SubscriptionID: sub.ID,
		NewKg:          6,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrUsageAlreadyCorrected)
}

func TestCorrectUsage_SameValuesIsNoOp(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, nil)
	orderID := node.Generate()

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		Pickups:        1,
		Kg:             5,
	})
	require.NoError(t, err)

	usage, err := svc.CorrectUsage(context.Background(), subscriptiondomain.CorrectUsageRequest{
		OrderID:        orderID,
		SubscriptionID: sub.ID,
		NewKg:          5,
	})
	require.NoError(t, err)
	assert.Nil(t, usage.CorrectedAt)

	got := reloadSubscription(t, db, sub.ID)
	assert.Equal(t, 5.0, got.UsedKg)
}

func TestCorrectUsage_ExceedsLimit(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, func(s *subscriptiondomain.Subscription) {
		s.TotalKgLimit = 10
	})
	orderID := node.Generate()

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		Pickups:        1,
		Kg:             8,
	})
	require.NoError(t, err)

	_, err = svc.CorrectUsage(context.Background(), subscriptiondomain.CorrectUsageRequest{
		OrderID:        orderID,
		SubscriptionID: sub.ID,
		NewKg:          12,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInsufficientBalance)

	got := reloadSubscription(t, db, sub.ID)
	assert.Equal(t, 8.0, got.UsedKg)
}

func TestCorrectUsage_MissingLedgerRow(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, nil)

	_, err := svc.CorrectUsage(context.Background(), subscriptiondomain.CorrectUsageRequest{
		OrderID:        node.Generate(),
		SubscriptionID: sub.ID,
		NewKg:          3,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrUsageNotFound)
}

func TestReverseUsage_CreditsBackOnce(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, nil)
	orderID := node.Generate()

	_, err := svc.Deduct(context.Background(), subscriptiondomain.DeductRequest{
		SubscriptionID: sub.ID,
		OrderID:        orderID,
		Pickups:        1,
		Kg:             5,
	})
	require.NoError(t, err)

	err = uow.New(db).RunInTransaction(context.Background(), func(tx *gorm.DB) error {
		_, err := svc.ReverseUsageTx(context.Background(), tx, orderID, sub.ID)
		return err
	})
	require.NoError(t, err)

	got := reloadSubscription(t, db, sub.ID)
	assert.Equal(t, 4, got.RemainingPickups)
	assert.Equal(t, 0.0, got.UsedKg)

	err = uow.New(db).RunInTransaction(context.Background(), func(tx *gorm.DB) error {
		_, err := svc.ReverseUsageTx(context.Background(), tx, orderID, sub.ID)
		return err
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrUsageAlreadyReversed)
}

func TestAdjustBalance_Overrides(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	sub := seedSubscription(t, db, node, fake, nil)

	remaining := 10
	got, err := svc.AdjustBalance(context.Background(), subscriptiondomain.AdjustBalanceRequest{
		SubscriptionID:   sub.ID,
		RemainingPickups: &remaining,
		Reason:           "goodwill credit",
	})
	require.NoError(t, err)
	assert.Equal(t, 10, got.RemainingPickups)

	negative := -1
	_, err = svc.AdjustBalance(context.Background(), subscriptiondomain.AdjustBalanceRequest{
		SubscriptionID:   sub.ID,
		RemainingPickups: &negative,
		Reason:           "bad",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidRequest)
}

func TestDeactivateExpired(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)
	seedSubscription(t, db, node, fake, func(s *subscriptiondomain.Subscription) {
		s.ValidTill = fake.Now().AddDate(0, 0, -2)
	})
	live := seedSubscription(t, db, node, fake, nil)

	count, err := svc.DeactivateExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got := reloadSubscription(t, db, live.ID)
	assert.True(t, got.Active)
}

func TestCreateFromPlanTx_CapturesLimits(t *testing.T) {
	db := setupLedgerDB(t)
	svc, fake, node := newLedger(t, db)

	plan := plandomain.Plan{
		ID:           node.Generate(),
		Name:         "Monthly 20kg",
		PriceAmount:  149900,
		ValidityDays: 30,
		MaxPickups:   8,
		KgLimit:      20,
		Active:       true,
		CreatedAt:    fake.Now(),
		UpdatedAt:    fake.Now(),
	}
	require.NoError(t, db.Create(&plan).Error)

	req := subscriptiondomain.PurchaseRequest{CustomerID: node.Generate()}
	var sub *subscriptiondomain.Subscription
	var snap *subscriptiondomain.PurchaseSnapshot
	err := uow.New(db).RunInTransaction(context.Background(), func(tx *gorm.DB) error {
		var err error
		sub, snap, err = svc.CreateFromPlanTx(context.Background(), tx, req, subscriptiondomain.PurchaseItem{PlanID: plan.ID})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 8, sub.RemainingPickups)
	assert.Equal(t, 20.0, sub.TotalKgLimit)
	assert.Equal(t, fake.Now().AddDate(0, 0, 30), sub.ValidTill)
	assert.Equal(t, int64(149900), snap.Amount)
	assert.Equal(t, "Monthly 20kg", snap.PlanName)

	// Later plan edits must not change the captured grant.
	require.NoError(t, db.Model(&plandomain.Plan{}).Where("id = ?", plan.ID).Update("kg_limit", 5).Error)
	got := reloadSubscription(t, db, sub.ID)
	assert.Equal(t, 20.0, got.TotalKgLimit)
}
