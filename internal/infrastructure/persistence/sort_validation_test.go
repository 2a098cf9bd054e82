package persistence

import (
	"errors"
	"testing"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestValidateSortOrder(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		def      string
		expected string
	}{
		{"empty string returns default", "", "ASC", "ASC"},
		{"asc lowercase returns ASC", "asc", "DESC", "ASC"},
		{"desc returns DESC", "desc", "ASC", "DESC"},
		{"sql injection attempt returns default", "ASC; DROP TABLE stock_movements;--", "ASC", "ASC"},
		{"whitespace around DESC", "  desc  ", "ASC", "DESC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidateSortOrder(tt.input, tt.def))
		})
	}
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, notFound(gorm.ErrRecordNotFound), shared.ErrNotFound)
	other := errors.New("boom")
	assert.Equal(t, other, notFound(other))
}
