package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	intakeapp "github.com/erp/reconciler/internal/application/intake"
	ledgerapp "github.com/erp/reconciler/internal/application/ledger"
	"github.com/erp/reconciler/internal/application/reconcile"
	"github.com/erp/reconciler/internal/domain/shared"
	"github.com/erp/reconciler/internal/infrastructure/cache"
	"github.com/erp/reconciler/internal/infrastructure/config"
	"github.com/erp/reconciler/internal/infrastructure/ecommerce"
	"github.com/erp/reconciler/internal/infrastructure/logger"
	"github.com/erp/reconciler/internal/infrastructure/persistence"
	"github.com/erp/reconciler/internal/infrastructure/persistence/memory"
)

// stockAPI is the part of the ledger service the CLI drives
type stockAPI interface {
	GetBalance(ctx context.Context, sku string) (*ledgerapp.BalanceResponse, error)
	Audit(ctx context.Context, sku string, repair bool) (*ledgerapp.DriftResponse, error)
	AuditAll(ctx context.Context, repair bool) (*ledgerapp.AuditReport, error)
	Adjust(ctx context.Context, sku string, req ledgerapp.AdjustRequest) (*ledgerapp.BalanceResponse, error)
}

// deadLetterAPI is the part of the intake service the CLI drives
type deadLetterAPI interface {
	ListDeadLetters(ctx context.Context, filter shared.Filter) (shared.Paginated[intakeapp.EventResponse], error)
	Requeue(ctx context.Context, id uuid.UUID) (*intakeapp.EventResponse, error)
}

// rebuildFunc replays the event log into a fresh store
type rebuildFunc func(ctx context.Context) (*reconcile.RebuildReport, error)

// cliApp holds what the commands need, filled in by the pre-run hook
type cliApp struct {
	stock   stockAPI
	events  deadLetterAPI
	rebuild rebuildFunc
	logger  *zap.Logger
	out     io.Writer
	close   func()
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		fmt.Fprintln(os.Stderr, rec)
		os.Exit(1)
	}
}

// connect loads the configuration and opens the live store
func connect(app *cliApp, configPath, logLevel string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if logLevel == "" {
		logLevel = "warn"
	}
	log, err := logger.New(&logger.Config{Level: logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		return err
	}

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, logger.NewGormLogger(log, logger.MapGormLogLevel(logLevel)))
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		if redisClient, err = cache.NewRedisClient(context.Background(), cfg.Redis); err != nil {
			_ = db.Close()
			return err
		}
	}
	var client redis.UniversalClient
	if redisClient != nil {
		client = redisClient
	}
	factory := cache.NewFactory(client, cache.WithLogger(log), cache.WithInMemoryFallback(true))
	locker, err := factory.SKULocker(cfg.Ledger)
	if err != nil {
		_ = db.Close()
		return err
	}

	scope := persistence.NewGormTransactionScope(db.DB)
	repos := persistence.NewRepositories(db.DB)
	normalizers := ecommerce.DefaultRegistry()
	policy := shared.RetryPolicy{
		MaxAttempts: cfg.Worker.MaxAttempts,
		BaseBackoff: cfg.Worker.BaseBackoff,
		MaxBackoff:  cfg.Worker.MaxBackoff,
	}

	app.logger = log
	app.stock = ledgerapp.NewService(scope, repos.Movements(), repos.Balances(), locker, log)
	app.events = intakeapp.NewService(repos.Events(), normalizers, policy, log)
	app.rebuild = func(ctx context.Context) (*reconcile.RebuildReport, error) {
		return reconcile.NewRebuilder(repos, memory.NewStore(), normalizers, log).Rebuild(ctx)
	}
	app.close = func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if err := db.Close(); err != nil {
			log.Warn("Error closing database", zap.Error(err))
		}
		_ = logger.Sync(log)
	}
	return nil
}

// newRootCommand builds the CLI. When app already carries services the
// pre-run hook leaves them alone.
func newRootCommand(app *cliApp) *cobra.Command {
	var configPath, logLevel string

	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and repair the stock ledger and the event log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if app.out == nil {
				app.out = cmd.OutOrStdout()
			}
			if app.logger == nil {
				app.logger = zap.NewNop()
			}
			if app.stock != nil {
				return nil
			}
			return connect(app, configPath, logLevel)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if app.close != nil {
				app.close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (default: ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default: warn)")

	rootCmd.AddCommand(balanceCommand(app))
	rootCmd.AddCommand(auditCommand(app))
	rootCmd.AddCommand(rebuildCommand(app))
	rootCmd.AddCommand(deadLettersCommand(app))
	rootCmd.AddCommand(requeueCommand(app))
	rootCmd.AddCommand(importReceiptsCommand(app))
	return rootCmd
}

func main() {
	defer recoverPanic()

	if err := newRootCommand(&cliApp{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
