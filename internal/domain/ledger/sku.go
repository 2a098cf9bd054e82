package ledger

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// NormalizeSKU folds the spellings platforms use for the same SKU onto one
// key: full-width forms are narrowed, the string is NFKC-normalized, trimmed
// and upper-cased.
func NormalizeSKU(raw string) string {
	s := width.Narrow.String(raw)
	s = norm.NFKC.String(s)
	return strings.ToUpper(strings.TrimSpace(s))
}
