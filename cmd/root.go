package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andresmejia3/scribe/internal/bridge"
	"github.com/andresmejia3/scribe/internal/config"
	"github.com/andresmejia3/scribe/internal/logging"
	"github.com/andresmejia3/scribe/internal/store"
)

var (
	// Cfg is the loaded configuration shared by subcommands
	Cfg *config.Config
	// Logger is the structured logger shared by subcommands
	Logger *zap.Logger
	// DB is the optional history store, nil when no database is configured
	DB *store.Store

	configPath string
	dbURL      string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "scribe",
	Short:   "Handwriting recognition bridge for a local Keras model",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// Flags win over the config file and environment
		if dbURL != "" {
			cfg.Database.URL = dbURL
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		Cfg = cfg

		Logger, err = logging.New(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if Logger != nil {
			_ = Logger.Sync()
		}
	},
}

// openStore connects to the history database. required controls whether a missing URL is an error.
func openStore(ctx context.Context, required bool) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	if Cfg.Database.URL == "" {
		if required {
			return nil, fmt.Errorf("no database configured: pass --db or set SCRIBE_DB")
		}
		return nil, nil
	}
	s, err := store.New(ctx, Cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}

// newBridge wires the bridge from the loaded configuration.
func newBridge(opts ...bridge.Option) (*bridge.Bridge, error) {
	opts = append([]bridge.Option{bridge.WithLogger(Logger)}, opts...)
	return bridge.New(Cfg, opts...)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to scribe.yaml (default: $SCRIBE_CONFIG or ./scribe.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for prediction history (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}
