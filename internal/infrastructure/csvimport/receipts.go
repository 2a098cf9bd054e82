package csvimport

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	ledgerapp "github.com/erp/reconciler/internal/application/ledger"
	"github.com/erp/reconciler/internal/domain/ledger"
	"github.com/erp/reconciler/internal/domain/shared"
)

// Receipt file columns
const (
	ColumnSKU       = "sku"
	ColumnQuantity  = "quantity"
	ColumnReceiptID = "receipt_id"
	ColumnNote      = "note"
)

const (
	maxSKULength       = 100
	maxReceiptIDLength = 64
	maxNoteLength      = 255
)

// ReceiptLine is one validated row of a receipt file
type ReceiptLine struct {
	Row       int    `json:"row"`
	SKU       string `json:"sku"`
	Delta     int64  `json:"delta"`
	ReceiptID string `json:"receipt_id"`
	Note      string `json:"note,omitempty"`
}

// Poster posts one receipt to the ledger
type Poster interface {
	Adjust(ctx context.Context, sku string, req ledgerapp.AdjustRequest) (*ledgerapp.BalanceResponse, error)
}

// ImportResult reports a receipt import
type ImportResult struct {
	TotalRows   int        `json:"total_rows"`
	ValidRows   int        `json:"valid_rows"`
	Posted      int        `json:"posted"`
	DryRun      bool       `json:"dry_run"`
	Errors      []RowError `json:"errors,omitempty"`
	TotalErrors int        `json:"total_errors,omitempty"`
	IsTruncated bool       `json:"is_truncated,omitempty"`
}

// ReceiptImporter validates a whole receipt file before posting any line,
// so a file with errors leaves the ledger untouched. Lines that fail while
// posting, such as a negative receipt that would take available stock below
// zero, are reported and the rest of the file is still posted.
type ReceiptImporter struct {
	poster    Poster
	maxRows   int
	maxErrors int
	logger    *zap.Logger
}

// ImporterOption configures a ReceiptImporter
type ImporterOption func(*ReceiptImporter)

// WithMaxRows caps the number of data rows
func WithMaxRows(rows int) ImporterOption {
	return func(i *ReceiptImporter) {
		if rows > 0 {
			i.maxRows = rows
		}
	}
}

// WithMaxErrors caps the number of row errors kept in the result
func WithMaxErrors(n int) ImporterOption {
	return func(i *ReceiptImporter) {
		if n > 0 {
			i.maxErrors = n
		}
	}
}

// NewReceiptImporter creates an importer posting through poster
func NewReceiptImporter(poster Poster, logger *zap.Logger, opts ...ImporterOption) *ReceiptImporter {
	i := &ReceiptImporter{
		poster:    poster,
		maxRows:   10000,
		maxErrors: 100,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ParsedFile is a validated receipt file
type ParsedFile struct {
	Rows   int
	Lines  []ReceiptLine
	Errors *ErrorCollection
}

// Parse reads and validates every row of r. File level problems are
// returned as an error; row level ones are collected.
func (i *ReceiptImporter) Parse(r io.Reader) (*ParsedFile, error) {
	parser, err := NewCSVParser(r)
	if err != nil {
		return nil, err
	}
	if err := parser.ParseHeader(); err != nil {
		return nil, err
	}
	if missing := parser.MissingHeaders([]string{ColumnSKU, ColumnQuantity, ColumnReceiptID}); len(missing) > 0 {
		return nil, errors.New("missing required columns: " + strings.Join(missing, ", "))
	}

	errs := NewErrorCollection(i.maxErrors)
	seen := make(map[string]int)
	var lines []ReceiptLine
	total := 0

	for {
		row, err := parser.ReadRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			total++
			errs.Add(RowError{Row: parser.currentRow, Code: ErrCodeMalformedRow, Message: err.Error()})
			continue
		}
		if row.IsEmpty() {
			continue
		}
		total++
		if total > i.maxRows {
			return nil, ErrTooManyRows
		}

		line, ok := validateReceiptRow(row, errs)
		if !ok {
			continue
		}
		key := line.SKU + "\x00" + line.ReceiptID
		if first, dup := seen[key]; dup {
			errs.AddDuplicateError(row.LineNumber, ColumnReceiptID, line.ReceiptID, first)
			continue
		}
		seen[key] = row.LineNumber
		lines = append(lines, line)
	}

	if total == 0 {
		return nil, ErrNoDataRows
	}
	return &ParsedFile{Rows: total, Lines: lines, Errors: errs}, nil
}

func validateReceiptRow(row *Row, errs *ErrorCollection) (ReceiptLine, bool) {
	before := errs.TotalCount()
	line := ReceiptLine{Row: row.LineNumber}

	if raw := row.Get(ColumnSKU); raw == "" {
		errs.AddRequiredError(row.LineNumber, ColumnSKU)
	} else if line.SKU = ledger.NormalizeSKU(raw); len(line.SKU) > maxSKULength {
		errs.AddLengthError(row.LineNumber, ColumnSKU, maxSKULength)
	}

	if raw := row.Get(ColumnQuantity); raw == "" {
		errs.AddRequiredError(row.LineNumber, ColumnQuantity)
	} else if delta, err := strconv.ParseInt(raw, 10, 64); err != nil {
		errs.AddTypeError(row.LineNumber, ColumnQuantity, "integer", raw)
	} else if delta == 0 {
		errs.Add(RowError{Row: row.LineNumber, Column: ColumnQuantity, Code: ErrCodeInvalidValue,
			Message: "quantity cannot be zero", Value: raw})
	} else {
		line.Delta = delta
	}

	if line.ReceiptID = row.Get(ColumnReceiptID); line.ReceiptID == "" {
		errs.AddRequiredError(row.LineNumber, ColumnReceiptID)
	} else if len(line.ReceiptID) > maxReceiptIDLength {
		errs.AddLengthError(row.LineNumber, ColumnReceiptID, maxReceiptIDLength)
	}

	if line.Note = row.Get(ColumnNote); len(line.Note) > maxNoteLength {
		errs.AddLengthError(row.LineNumber, ColumnNote, maxNoteLength)
	}

	return line, errs.TotalCount() == before
}

// Import validates r and, unless dryRun is set or validation failed, posts
// every line in file order.
func (i *ReceiptImporter) Import(ctx context.Context, r io.Reader, dryRun bool) (*ImportResult, error) {
	parsed, err := i.Parse(r)
	if err != nil {
		return nil, err
	}
	errs := parsed.Errors

	result := &ImportResult{
		TotalRows: parsed.Rows,
		ValidRows: len(parsed.Lines),
		DryRun:    dryRun,
	}
	if errs.HasErrors() || dryRun {
		result.fill(errs)
		return result, nil
	}

	for _, line := range parsed.Lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, err := i.poster.Adjust(ctx, line.SKU, ledgerapp.AdjustRequest{
			Delta:     line.Delta,
			ReceiptID: line.ReceiptID,
			Note:      line.Note,
		})
		if err != nil {
			errs.Add(RowError{Row: line.Row, Code: postErrorCode(err), Message: err.Error(), Value: line.SKU})
			continue
		}
		result.Posted++
	}

	i.logger.Info("Receipt import finished",
		zap.Int("rows", result.TotalRows),
		zap.Int("posted", result.Posted),
		zap.Int("failed", errs.TotalCount()),
	)
	result.fill(errs)
	return result, nil
}

func (r *ImportResult) fill(errs *ErrorCollection) {
	r.Errors = errs.Errors()
	r.TotalErrors = errs.TotalCount()
	r.IsTruncated = errs.IsTruncated()
}

func postErrorCode(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodePostFailed
}
