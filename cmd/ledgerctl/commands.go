package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/csvimport"
)

var (
	// errNotConverged marks a rebuild whose projections differ from the live ones
	errNotConverged = errors.New("rebuilt projections differ from the live state")
	// errImportIncomplete marks a receipt import with rejected rows
	errImportIncomplete = errors.New("receipt import has rejected rows")
)

func printJSON(app *cliApp, v any) error {
	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func balanceCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <sku>",
		Short: "Show the on-hand, reserved and available quantities of a SKU",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := app.stock.GetBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(app, balance)
		},
	}
}

func auditCommand(app *cliApp) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "audit [sku]",
		Short: "Replay movements and compare with the materialized balances",
		Long: "Without a SKU every SKU with movements or a balance row is audited. " +
			"With --repair diverged balances are overwritten by the replayed position.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				drift, err := app.stock.Audit(cmd.Context(), args[0], repair)
				if err != nil {
					return err
				}
				return printJSON(app, drift)
			}
			report, err := app.stock.AuditAll(cmd.Context(), repair)
			if err != nil {
				return err
			}
			return printJSON(app, report)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "overwrite diverged balances with the replayed position")
	return cmd
}

func rebuildCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Replay the event log into empty projections and compare with the live ones",
		Long: "Processed events and stock receipts are replayed in their original order into an " +
			"in-memory store. The command fails when balances or order statuses differ.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := app.rebuild(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(app, report); err != nil {
				return err
			}
			if !report.Converged() {
				return errNotConverged
			}
			return nil
		},
	}
}

func deadLettersCommand(app *cliApp) *cobra.Command {
	filter := shared.DefaultFilter()

	cmd := &cobra.Command{
		Use:   "dead-letters",
		Short: "List events that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filter.Page < 1 || filter.PageSize < 1 || filter.PageSize > 100 {
				return fmt.Errorf("page must be >= 1 and page-size between 1 and 100")
			}
			page, err := app.events.ListDeadLetters(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(app, page)
		},
	}
	cmd.Flags().IntVar(&filter.Page, "page", filter.Page, "page number")
	cmd.Flags().IntVar(&filter.PageSize, "page-size", filter.PageSize, "events per page")
	return cmd
}

func requeueCommand(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Reset a dead-lettered event so the workers pick it up again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[0], err)
			}
			ev, err := app.events.Requeue(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(app, ev)
		},
	}
}

func importReceiptsCommand(app *cliApp) *cobra.Command {
	var (
		dryRun    bool
		maxRows   int
		maxErrors int
	)

	cmd := &cobra.Command{
		Use:   "import-receipts <file.csv>",
		Short: "Post stock receipts from a CSV file",
		Long: "The file needs the columns sku, quantity and receipt_id; note is optional. " +
			"Negative quantities record write-offs. Nothing is posted when any row fails validation.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			importer := csvimport.NewReceiptImporter(app.stock, app.logger,
				csvimport.WithMaxRows(maxRows), csvimport.WithMaxErrors(maxErrors))
			result, err := importer.Import(cmd.Context(), f, dryRun)
			if err != nil {
				return err
			}
			if err := printJSON(app, result); err != nil {
				return err
			}
			if result.TotalErrors > 0 {
				return errImportIncomplete
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without posting")
	cmd.Flags().IntVar(&maxRows, "max-rows", 10000, "reject files with more data rows")
	cmd.Flags().IntVar(&maxErrors, "max-errors", 100, "stop reporting row errors after this many")
	return cmd
}
