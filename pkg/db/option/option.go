package option

import (
	"fmt"

	"github.com/freshfold/freshfold/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm query before execution.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type optionFunc func(db *gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a range/comparison condition to the query.
func ApplyOperator(cond Condition) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		if cond.Field == "" || cond.Operator == "" {
			return db
		}
		return db.Where(fmt.Sprintf("%s %s ?", cond.Field, cond.Operator), cond.Value)
	})
}

type QuerySortBy struct {
	Field     string
	Direction string
	Allow     map[string]bool
}

func WithQuerySortBy(field, direction string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{Field: field, Direction: direction, Allow: allow}
}

// WithSortBy orders results by an allow-listed column. Defaults to
// created_at descending when the requested field is not allowed.
func WithSortBy(sort QuerySortBy) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		field := sort.Field
		if field == "" || (sort.Allow != nil && !sort.Allow[field]) {
			field = "created_at"
		}
		direction := sort.Direction
		if direction != "asc" && direction != "desc" {
			direction = "desc"
		}
		return db.Order(fmt.Sprintf("%s %s", field, direction))
	})
}

// ApplyPagination applies cursor pagination. One extra row is fetched
// so callers can detect a next page.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		size := p.PageSize
		if size <= 0 {
			size = 10
		}
		if p.PageToken != "" {
			cursor, err := pagination.DecodeCursor(p.PageToken)
			if err == nil && cursor != nil && cursor.CreatedAt != "" {
				db = db.Where("created_at < ?", cursor.CreatedAt)
			}
		}
		return db.Limit(size + 1)
	})
}
