package persistence

import (
	"errors"
	"strings"

	"github.com/erp/reconciler/internal/domain/shared"
	"gorm.io/gorm"
)

// ValidateSortOrder normalizes orderDir to ASC or DESC, returning def for
// anything else. Ledger and history listings default to ASC so that pages
// read in the order rows were written.
func ValidateSortOrder(orderDir, def string) string {
	switch strings.ToUpper(strings.TrimSpace(orderDir)) {
	case "ASC":
		return "ASC"
	case "DESC":
		return "DESC"
	default:
		return def
	}
}

// paginate applies the filter's offset and page size
func paginate(q *gorm.DB, f shared.Filter) *gorm.DB {
	if f.PageSize > 0 {
		q = q.Offset(f.Offset()).Limit(f.PageSize)
	}
	return q
}

// notFound maps gorm's not-found to the domain sentinel
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}
