package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "codereview"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage codereview configuration.

Running bare 'codereview config' is the same as 'codereview config show'.
Every key can also be set with a CODEREVIEW_ environment variable,
e.g. CODEREVIEW_LLM_PROVIDER=anthropic.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# codereview configuration
# See: codereview config show (for effective values and sources)

# State/data directory (default: ~/.config/codereview)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/codereview/codereview.db)
# db_path: {{ .DBPath }}

# User id reviews, history and repository cache entries are scoped to
user_id: "{{ .UserID }}"

# Model provider: gemini or anthropic
llm:
  provider: "{{ .Provider }}"

gemini:
  # Falls back to GEMINI_API_KEY, then GOOGLE_API_KEY
  # api_key: ""
  model: "{{ .GeminiModel }}"

anthropic:
  # Falls back to ANTHROPIC_API_KEY
  # api_key: ""
  model: "{{ .AnthropicModel }}"

github:
  # Falls back to GITHUB_TOKEN; public repositories work without one
  # token: ""
  # API root for GitHub Enterprise, e.g. https://github.example.com/api/v3/
  # api_url: ""

# Retries of model calls on rate limits and transient failures
retry:
  max_attempts: {{ .MaxAttempts }}
  base_delay: {{ .BaseDelay }}
  max_delay: {{ .MaxDelay }}
  jitter: {{ .Jitter }}
  attempt_timeout: {{ .AttemptTimeout }}

review:
  # Concurrent requests for the same uncached subject share one model call
  dedupe_inflight: {{ .DedupeInFlight }}

log:
  level: "{{ .LogLevel }}"
  # console or json
  format: "{{ .LogFormat }}"

# API server port
port: {{ .Port }}
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	UserID         string
	Provider       string
	GeminiModel    string
	AnthropicModel string
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	Jitter         bool
	AttemptTimeout time.Duration
	DedupeInFlight bool
	LogLevel       string
	LogFormat      string
	Port           int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		UserID:         viper.GetString("user_id"),
		Provider:       viper.GetString("llm.provider"),
		GeminiModel:    viper.GetString("gemini.model"),
		AnthropicModel: viper.GetString("anthropic.model"),
		MaxAttempts:    viper.GetInt("retry.max_attempts"),
		BaseDelay:      viper.GetDuration("retry.base_delay"),
		MaxDelay:       viper.GetDuration("retry.max_delay"),
		Jitter:         viper.GetBool("retry.jitter"),
		AttemptTimeout: viper.GetDuration("retry.attempt_timeout"),
		DedupeInFlight: viper.GetBool("review.dedupe_inflight"),
		LogLevel:       viper.GetString("log.level"),
		LogFormat:      viper.GetString("log.format"),
		Port:           viper.GetInt("port"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir"},
	{Key: "db_path"},
	{Key: "user_id"},
	{Key: "llm.provider"},
	{Key: "gemini.api_key", Secret: true},
	{Key: "gemini.model"},
	{Key: "anthropic.api_key", Secret: true},
	{Key: "anthropic.model"},
	{Key: "github.token", Secret: true},
	{Key: "github.api_url"},
	{Key: "retry.max_attempts"},
	{Key: "retry.base_delay"},
	{Key: "retry.max_delay"},
	{Key: "retry.jitter"},
	{Key: "retry.attempt_timeout"},
	{Key: "review.dedupe_inflight"},
	{Key: "log.level"},
	{Key: "log.format"},
	{Key: "port"},
}

// envVarFor returns the environment variable viper reads for key.
func envVarFor(key string) string {
	return "CODEREVIEW_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// displayValue masks secrets so config show is safe to paste.
func displayValue(k configKeyInfo, val any) any {
	s := fmt.Sprint(val)
	if !k.Secret || s == "" {
		return val
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := displayValue(k, viper.Get(k.Key))
		source := detectSource(k.Key, envVarFor(k.Key), fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'codereview config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
