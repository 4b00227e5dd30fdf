package option

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"seekcap-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption decorates a gorm query built by the repository.
type QueryOption func(db *gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	NEQ Operator = "<>"
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
	IN  Operator = "IN"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

var columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validColumn(name string) bool {
	return columnPattern.MatchString(name)
}

func ApplyOperator(conditions ...Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, c := range conditions {
			if !validColumn(c.Field) {
				_ = db.AddError(fmt.Errorf("invalid filter column %q", c.Field))
				return db
			}
			switch c.Operator {
			case IN:
				db = db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
			case EQ, NEQ, GT, GTE, LT, LTE:
				db = db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
			default:
				_ = db.AddError(fmt.Errorf("unsupported operator %q", c.Operator))
				return db
			}
		}
		return db
	}
}

// WithRange restricts field to [from, to). Nil bounds are open.
func WithRange(field string, from, to *time.Time) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if !validColumn(field) {
			_ = db.AddError(fmt.Errorf("invalid range column %q", field))
			return db
		}
		if from != nil {
			db = db.Where(fmt.Sprintf("%s >= ?", field), *from)
		}
		if to != nil {
			db = db.Where(fmt.Sprintf("%s < ?", field), *to)
		}
		return db
	}
}

func WithSortBy(sorts ...QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		for _, s := range sorts {
			if s.SortBy == "" {
				s.SortBy = "created_at"
			}
			if s.Allow != nil && !s.Allow[s.SortBy] {
				continue
			}
			if !validColumn(s.SortBy) {
				continue
			}
			desc := strings.EqualFold(s.OrderBy, "desc")
			db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: s.SortBy}, Desc: desc})
		}
		return db
	}
}

func ApplyPagination(p pagination.Pagination) QueryOption {
	p = p.Normalize()
	return func(db *gorm.DB) *gorm.DB {
		return db.Offset(p.Offset).Limit(p.Limit)
	}
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// LockingUpdate adds SELECT ... FOR UPDATE. SQLite ignores the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
