package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/codereview/internal/output"
	"github.com/joescharf/codereview/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	logger    *zap.Logger

	verbose bool
)

const defaultUserID = "local"

var rootCmd = &cobra.Command{
	Use:   "codereview",
	Short: "Review source code with an LLM",
	Long: `codereview reviews source code with a large language model.
Code can come inline, from a screenshot, or from a file in a GitHub
repository. Reviews of images and repository files are cached so the
same revision is never reviewed twice.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	closeDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/codereview/config.yaml)")
	rootCmd.PersistentFlags().String("user", "", "User id reviews and history are scoped to (default: user_id config)")
	_ = viper.BindPFlag("user_id", rootCmd.PersistentFlags().Lookup("user"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CODEREVIEW")
	viper.SetEnvKeyReplacer(envKeyReplacer())
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// envKeyReplacer maps nested keys to env names: retry.max_attempts reads
// CODEREVIEW_RETRY_MAX_ATTEMPTS.
func envKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// setDefaults registers every config key with its default, rooted at dir.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "codereview.db"))

	viper.SetDefault("user_id", defaultUserID)

	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("gemini.model", "gemini-2.5-flash")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	viper.SetDefault("github.token", "")
	viper.SetDefault("github.api_url", "")

	viper.SetDefault("retry.max_attempts", 5)
	viper.SetDefault("retry.base_delay", "1s")
	viper.SetDefault("retry.max_delay", "60s")
	viper.SetDefault("retry.jitter", false)
	viper.SetDefault("retry.attempt_timeout", "2m")

	viper.SetDefault("review.dedupe_inflight", true)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	viper.SetDefault("port", 5600)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	l, err := newLogger(viper.GetString("log.level"), viper.GetString("log.format"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		l, _ = newLogger("info", "console")
	}
	logger = l

	// Store and service are initialized lazily, only when commands need them.
	// This allows config/version commands to run without a db or API keys.
}

// newLogger builds a zap logger. Console output goes to stderr so stdout
// stays clean for command output.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid log.format %q (want console or json)", format)
	}
	cfg.Level = lvl
	if verbose && lvl.Level() > zap.DebugLevel {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func closeDeps() {
	if reviewSvc != nil {
		reviewSvc.Wait()
	}
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if logger != nil {
		_ = logger.Sync()
	}
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
