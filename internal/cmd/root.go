package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paxocial/scribe-mcp-sub000/internal/config"
	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/registry"
	"github.com/paxocial/scribe-mcp-sub000/internal/state"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Operate an engineering activity ledger",
	Long:  `scribe inspects and maintains a project's append-only engineering log: its SQLite mirror, rotation state, and document drift.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("project-root", "r", ".", "root directory of the project whose ledger is being operated on")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default: <project-root>/.scribe/config.yaml)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "enable debug logging")
}

// newLogger builds the SugaredLogger every subcommand shares, honoring
// --debug and the config's log_level.
func newLogger(debug bool, level string) (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	} else if level != "" {
		if lvl, err := zap.ParseAtomicLevel(level); err == nil {
			zcfg.Level = lvl
		}
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// env bundles the dependencies every subcommand operates against, built
// once from --project-root/--config.
type env struct {
	cfg      *config.Config
	store    *db.Store
	registry *registry.Registry
	state    *state.Manager
	log      *zap.SugaredLogger
	root     string
}

func loadEnv(cmd *cobra.Command) (*env, error) {
	root, _ := cmd.Flags().GetString("project-root")
	configPath, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	if configPath == "" {
		configPath = filepath.Join(absRoot, ".scribe", "config.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(debug, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	sqlitePath := cfg.SQLitePath
	if !filepath.IsAbs(sqlitePath) {
		sqlitePath = filepath.Join(absRoot, sqlitePath)
	}
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure sqlite dir: %w", err)
	}
	store, err := db.Open(sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite mirror: %w", err)
	}

	statePath := cfg.StatePath
	if !filepath.IsAbs(statePath) {
		statePath = filepath.Join(absRoot, statePath)
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	mgr, err := state.Open(statePath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open state manager: %w", err)
	}

	return &env{
		cfg:      cfg,
		store:    store,
		registry: registry.New(store.Queries()),
		state:    mgr,
		log:      logger,
		root:     absRoot,
	}, nil
}

func (e *env) Close() {
	_ = e.log.Sync()
	e.store.Close()
}
