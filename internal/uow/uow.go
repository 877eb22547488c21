// Package uow gives the billing services a single atomic boundary
// spanning orders, subscriptions, usage rows, invoices and payments.
package uow

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

type UnitOfWork struct {
	db *gorm.DB
}

func New(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// RunInTransaction executes fn with a transaction-scoped handle.
// Either every write inside fn commits or none do. If the receiver is
// already transactional the work joins the open transaction instead of
// nesting a new one; callers compose by passing the scoped handle down.
func (u *UnitOfWork) RunInTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if inTransaction(u.db) {
		return fn(u.db.WithContext(ctx))
	}
	return u.db.WithContext(ctx).Transaction(fn)
}

func inTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(gorm.TxCommitter)
	return ok
}

var Module = fx.Module("uow",
	fx.Provide(New),
)
