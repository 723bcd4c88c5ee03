package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pdclinic/pdclinic/internal/config"
	"github.com/pdclinic/pdclinic/internal/domain/snapshot"
	"github.com/pdclinic/pdclinic/internal/platform/auth"
	"github.com/pdclinic/pdclinic/internal/platform/center"
	"github.com/pdclinic/pdclinic/internal/platform/db"
	"github.com/pdclinic/pdclinic/internal/platform/events"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pd-server",
		Short: "Diabetic foot clinic API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadConfig loads and validates the configuration and builds the logger
// every subcommand shares.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (STORE_DRIVER=postgres)",
	}

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
		}

		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		files := db.DefaultMigrations()
		if dir != "" {
			files = os.DirFS(dir)
		}
		return db.NewMigrator(pool, files), pool.Close, nil
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage login accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account (the only way to create Admin accounts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			name, _ := cmd.Flags().GetString("name")
			role, _ := cmd.Flags().GetString("role")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			docs, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			u, err := auth.NewAccounts(docs).Register(cmd.Context(), email, password, name, role)
			if err != nil {
				return err
			}
			fmt.Printf("Created user %s (%s) with id %s\n", u.Email, u.Role, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Login email")
	createCmd.Flags().String("password", "", "Initial password")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("role", auth.RoleAdmin, "Clinic role")

	cmd.AddCommand(createCmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a legacy {users, appState} data file into the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			centerID, _ := cmd.Flags().GetString("center")
			if path == "" {
				return fmt.Errorf("--file is required")
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if centerID == "" {
				centerID = cfg.DefaultCenter
			}
			if !center.Valid(centerID) {
				return fmt.Errorf("invalid center identifier %q", centerID)
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()
			legacy, err := snapshot.ReadLegacyFile(f)
			if err != nil {
				return err
			}

			docs, closeStore, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			app := newApp(docs, nil, events.Nop{}, logger)
			users, res, err := app.importLegacy(cmd.Context(), centerID, legacy)
			if err != nil {
				return err
			}
			fmt.Printf("Imported into center %s: %d users, %d patients, %d episodes, %d visits, %d referrals (%d skipped)\n",
				centerID, users, res.Patients, res.Episodes, res.Visits, res.Referrals, res.Skipped)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the legacy data.json")
	cmd.Flags().String("center", "", "Center that owns the imported records (default DEFAULT_CENTER)")
	return cmd
}

// importLegacy writes a legacy file's accounts and clinical state. Existing
// accounts (by email) are left untouched.
func (a *app) importLegacy(ctx context.Context, centerID string, legacy *snapshot.LegacyFile) (int, snapshot.Result, error) {
	users := 0
	for _, u := range legacy.Users {
		created, err := a.accounts.Import(ctx, u)
		if err != nil {
			return users, snapshot.Result{}, fmt.Errorf("import user %s: %w", u.Email, err)
		}
		if created {
			users++
		}
	}
	res, err := a.snapshot.Apply(ctx, centerID, &legacy.AppState)
	if err != nil {
		return users, res, fmt.Errorf("import clinical state: %w", err)
	}
	return users, res, nil
}
