// Command escrowctl runs operator tasks against the escrow database.
//
//	escrowctl migrate
//	escrowctl reconcile [--xlsx report.xlsx]
//	escrowctl backfill-payment-status [--mapping mapping.yaml] [--dry-run]
//	escrowctl sweep
//	escrowctl token --sub <uuid> --role ADMIN [--ttl 1h]
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/srgjo27/escrow_ledger/internal/adapter/handler"
	"github.com/srgjo27/escrow_ledger/internal/adapter/messaging/rabbitmq"
	"github.com/srgjo27/escrow_ledger/internal/adapter/report"
	"github.com/srgjo27/escrow_ledger/internal/adapter/repository/postgres"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/core/services"
	"github.com/srgjo27/escrow_ledger/internal/platform/clock"
	"github.com/srgjo27/escrow_ledger/internal/platform/config"
	"github.com/srgjo27/escrow_ledger/internal/platform/database"
	"github.com/srgjo27/escrow_ledger/internal/platform/logger"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *environment, args []string) error
}

var commands = []command{
	{"migrate", "apply pending schema migrations", runMigrate},
	{"reconcile", "check the ledger invariants and print the report", runReconcile},
	{"backfill-payment-status", "rewrite legacy payment status values", runBackfill},
	{"sweep", "run one auto-confirm pass", runSweep},
	{"token", "issue a bearer token for local testing", runToken},
}

type environment struct {
	cfg *config.Config
	log *slog.Logger
	out io.Writer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// stdout carries the command output; logs go to stderr.
	env := &environment{
		cfg: cfg,
		log: logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text"),
		out: os.Stdout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, env, os.Args[1:]); err != nil {
		env.log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, env *environment, args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		usage(os.Stderr)
		return nil
	}

	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, env, args[1:])
		}
	}

	usage(os.Stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: escrowctl <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-26s %s\n", c.name, c.usage)
	}
}

func (e *environment) openDB(ctx context.Context) (*sql.DB, error) {
	return database.NewPostgresDB(ctx, database.Config{
		URL:        e.cfg.DB.URL,
		Host:       e.cfg.DB.Host,
		Port:       e.cfg.DB.Port,
		User:       e.cfg.DB.User,
		Password:   e.cfg.DB.Password,
		DBName:     e.cfg.DB.Name,
		SSLMode:    e.cfg.DB.SSLMode,
		MaxRetries: 3,
	}, e.log)
}

func (e *environment) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runMigrate(ctx context.Context, env *environment, args []string) error {
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := env.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db, env.log)
	if err != nil {
		return err
	}

	return env.printJSON(map[string]any{"applied": applied})
}

func runReconcile(ctx context.Context, env *environment, args []string) error {
	fs := pflag.NewFlagSet("reconcile", pflag.ContinueOnError)
	xlsxPath := fs.String("xlsx", "", "also write the report as an Excel workbook to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := env.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rep, err := services.NewReconciliationService(postgres.NewLedgerRepository(db), env.log).Run(ctx)
	if err != nil {
		return err
	}

	if *xlsxPath != "" {
		f, err := os.Create(*xlsxPath)
		if err != nil {
			return err
		}
		if err := report.WriteReconciliationXLSX(f, rep); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		env.log.Info("reconciliation workbook written", "path", *xlsxPath)
	}

	if err := env.printJSON(rep); err != nil {
		return err
	}

	if !rep.Clean() {
		return fmt.Errorf("%d ledger violations", len(rep.Violations))
	}
	return nil
}

func runBackfill(ctx context.Context, env *environment, args []string) error {
	fs := pflag.NewFlagSet("backfill-payment-status", pflag.ContinueOnError)
	mappingPath := fs.String("mapping", "", "YAML file with extra legacy -> canonical status mappings")
	dryRun := fs.Bool("dry-run", false, "report the changes without writing them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader
	if *mappingPath != "" {
		f, err := os.Open(*mappingPath)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	mapping, err := services.LoadStatusMapping(r)
	if err != nil {
		return err
	}

	db, err := env.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rep, err := services.NewBackfillService(postgres.NewStore(db), env.log).Run(ctx, mapping, *dryRun)
	if err != nil {
		return err
	}

	return env.printJSON(rep)
}

func runSweep(ctx context.Context, env *environment, args []string) error {
	fs := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	batch := fs.Int("batch-size", env.cfg.SweepBatchSize, "bookings to examine in this pass")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := env.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	store := postgres.NewStore(db)
	pub := rabbitmq.NewLogPublisher(env.log)
	clk := clock.Real()

	// Transfers are left to the server's payout worker; it picks up the new
	// PENDING payouts on its next redrive.
	payouts := services.NewPayoutService(store, nil, pub, clk, env.log, services.PayoutOptions{})
	sweep := services.NewSweepService(store, payouts, pub, clk, env.log, nil, services.SweepOptions{BatchSize: *batch})

	res, err := sweep.RunOnce(ctx)
	if err != nil {
		return err
	}

	return env.printJSON(res)
}

func runToken(_ context.Context, env *environment, args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	sub := fs.String("sub", "", "actor id (uuid)")
	role := fs.String("role", string(domain.RoleAdmin), "CLIENT, PROVIDER or ADMIN")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if env.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if *sub == "" {
		return errors.New("--sub is required")
	}

	tok, err := handler.IssueToken(env.cfg.JWTSecret, *sub, domain.Role(*role), *ttl)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(env.out, tok)
	return err
}
