// Package main is the entrypoint for the Valkyrie gateway.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"

	apikeydomain "github.com/smallbiznis/valkyrie/internal/apikey/domain"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
	"github.com/smallbiznis/valkyrie/internal/migration"
	"github.com/smallbiznis/valkyrie/internal/scheduler"
	"github.com/smallbiznis/valkyrie/internal/server"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

const commandTimeout = 5 * time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "valkyrie",
		Short: "Valkyrie delivery gateway",
		Long: `Valkyrie admits partner traffic for the delivery platform: API keys,
rate limits, geofences, usage metering and monthly invoicing.

Run 'valkyrie serve' to start the HTTP gateway and billing scheduler.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newBillingCmd(),
		newAPIKeyCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and billing scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				infrastructure,
				domains,
				migration.Module,
				scheduler.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.RunMigrations(sqlDB); err != nil {
					return err
				}
				return printVersion(cmd, conn)
			})
		},
	}

	rollback := &cobra.Command{
		Use:   "rollback [steps]",
		Short: "Roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid steps %q", args[0])
				}
				steps = n
			}
			return withDatabase(cmd.Context(), func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.Rollback(sqlDB, steps); err != nil {
					return err
				}
				return printVersion(cmd, conn)
			})
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(conn *gorm.DB) error {
				return printVersion(cmd, conn)
			})
		},
	}

	cmd.AddCommand(up, rollback, version)
	return cmd
}

func newBillingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Billing operations",
	}

	var (
		partnerID string
		period    string
	)
	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Draft the invoice for a partner and month",
		Long: `Draft the invoice for a partner and month. Closing a month that
already has an invoice prints the existing one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(partnerID)
			if err != nil {
				return fmt.Errorf("invalid partner id %q", partnerID)
			}
			var billingSvc billingdomain.Service
			return withServices(cmd.Context(), []any{&billingSvc}, func(ctx context.Context) error {
				inv, created, err := billingSvc.ClosePeriod(ctx, id, period)
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintln(cmd.ErrOrStderr(), "invoice already exists for this period")
				}
				return printJSON(cmd, inv)
			})
		},
	}
	closeCmd.Flags().StringVar(&partnerID, "partner", "", "partner id")
	closeCmd.Flags().StringVar(&period, "period", "", "billing month (YYYY-MM)")
	_ = closeCmd.MarkFlagRequired("partner")
	_ = closeCmd.MarkFlagRequired("period")

	var schedulerSvc *scheduler.Scheduler
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Close last month for every partner, as the scheduler would",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), []any{&schedulerSvc}, func(ctx context.Context) error {
				return schedulerSvc.RunOnce(ctx)
			}, fx.Provide(scheduler.ProvideConfig), fx.Provide(scheduler.New))
		},
	}

	cmd.AddCommand(closeCmd, runCmd)
	return cmd
}

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Partner API key operations",
	}

	var partnerID string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Issue or rotate a partner's API key",
		Long: `Issue or rotate a partner's API key. The secret is printed once;
the previous key stops working immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(partnerID)
			if err != nil {
				return fmt.Errorf("invalid partner id %q", partnerID)
			}
			var apiKeySvc apikeydomain.Service
			return withServices(cmd.Context(), []any{&apiKeySvc}, func(ctx context.Context) error {
				secret, err := apiKeySvc.Generate(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, secret)
			})
		},
	}
	generate.Flags().StringVar(&partnerID, "partner", "", "partner id")
	_ = generate.MarkFlagRequired("partner")

	cmd.AddCommand(generate)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "valkyrie %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Commit:     %s\n", Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build Date: %s\n", BuildDate)
			fmt.Fprintf(cmd.OutOrStdout(), "  Go:         %s\n", runtime.Version())
		},
	}
}

// withDatabase starts only the infrastructure graph and hands fn the pool.
func withDatabase(parent context.Context, fn func(conn *gorm.DB) error) error {
	var conn *gorm.DB
	return run(parent, fx.Options(infrastructure, fx.Populate(&conn)), func(ctx context.Context) error {
		return fn(conn)
	})
}

// withServices starts the domain graph without the HTTP server, fills
// targets and runs fn.
func withServices(parent context.Context, targets []any, fn func(ctx context.Context) error, extra ...fx.Option) error {
	return run(parent, fx.Options(
		infrastructure,
		domains,
		fx.Options(extra...),
		fx.Populate(targets...),
	), fn)
}

func run(parent context.Context, opts fx.Option, fn func(ctx context.Context) error) error {
	if parent == nil {
		parent = context.Background()
	}
	app := fx.New(opts, fx.NopLogger)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(parent, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	ctx, cancelRun := context.WithTimeout(parent, commandTimeout)
	defer cancelRun()
	return fn(ctx)
}

func printVersion(cmd *cobra.Command, conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, dirty, err := migration.Version(sqlDB)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
