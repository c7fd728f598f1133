package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medsafar/supplychain/internal/config"
	"github.com/medsafar/supplychain/internal/domain/ledger"
	"github.com/medsafar/supplychain/internal/platform/auth"
	"github.com/medsafar/supplychain/internal/platform/db"
	"github.com/medsafar/supplychain/internal/platform/journal"
	"github.com/medsafar/supplychain/migrations"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "medsafar-server",
		Short:        "Pharmaceutical supply-chain ledger",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving (postgres store only)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServer(migrate bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx := context.Background()
	s, err := buildServer(ctx, cfg, logger, migrate)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Str("owner", cfg.OwnerAccount).Msg("starting server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			migrator, closeFn, err := openMigrator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS), pool.Close, nil
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event journal",
	}

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Print journaled events as JSON lines",
		Long:  "Print journaled events as JSON lines. The journal must not be held open by a running server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("journal")
			from, _ := cmd.Flags().GetUint64("from")
			limit, _ := cmd.Flags().GetInt("limit")
			medicine, _ := cmd.Flags().GetInt64("medicine")

			if path == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				path = cfg.JournalPath
			}
			if path == "" {
				return errors.New("no journal path: set JOURNAL_PATH or pass --journal")
			}
			return tailEvents(cmd.Context(), cmd.OutOrStdout(), path, from, limit, medicine)
		},
	}
	tailCmd.Flags().String("journal", "", "Journal directory (defaults to JOURNAL_PATH)")
	tailCmd.Flags().Uint64("from", 1, "First sequence number to print")
	tailCmd.Flags().Int("limit", 100, "Maximum events to print, 0 for all")
	tailCmd.Flags().Int64("medicine", 0, "Only print events of this medicine id")
	cmd.AddCommand(tailCmd)

	return cmd
}

func tailEvents(ctx context.Context, w io.Writer, path string, from uint64, limit int, medicine int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	j, err := journal.Open(path, zerolog.Nop())
	if err != nil {
		return err
	}
	defer j.Close()

	var events []ledger.Event
	if medicine > 0 {
		events, err = j.ForMedicine(ctx, medicine)
	} else {
		events, err = j.List(ctx, from, limit)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage caller tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a bearer token for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, _ := cmd.Flags().GetString("account")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tok, err := issueToken(cfg, account, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issueCmd.Flags().String("account", "", "Account the token identifies")
	issueCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = issueCmd.MarkFlagRequired("account")
	cmd.AddCommand(issueCmd)

	return cmd
}

func issueToken(cfg *config.Config, account string, ttl time.Duration) (string, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return "", err
	}
	if len(key) == 0 {
		return "", errors.New("AUTH_SIGNING_KEY is not set")
	}
	return auth.IssueToken(key, cfg.AuthIssuer, cfg.AuthAudience, account, ttl)
}
