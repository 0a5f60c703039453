package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for onboardbot.
type Config struct {
	General      GeneralConfig      `json:"general"`
	Telegram     TelegramConfig     `json:"telegram"`
	Store        StoreConfig        `json:"store"`
	Exchange     ExchangeConfig     `json:"exchange"`
	Reconcile    ReconcileConfig    `json:"reconcile"`
	Conversation ConversationConfig `json:"conversation"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // "debug" | "info" | "warn" | "error"
}

type TelegramConfig struct {
	Token string `json:"token"`
	// BatchLimit is the maximum number of updates pulled per poll.
	BatchLimit int `json:"batchLimit"`
	// PollTimeoutSeconds is the long-poll timeout passed to getUpdates.
	PollTimeoutSeconds int `json:"pollTimeoutSeconds"`
	// IdleSleepMS throttles the inbound loop when no updates are pending.
	IdleSleepMS int `json:"idleSleepMs"`
	// RetrySleepSeconds is the fixed backoff after a failed poll.
	RetrySleepSeconds int `json:"retrySleepSeconds"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type ExchangeConfig struct {
	BaseURL   string `json:"baseUrl"`
	APIKey    string `json:"apiKey"`
	SecretKey string `json:"secretKey"`
	PageSize  int    `json:"pageSize"`
	// PageDelayMS is the mandatory delay between page requests.
	PageDelayMS    int `json:"pageDelayMs"`
	TimeoutSeconds int `json:"timeoutSeconds"`
	// KnownPolicy controls what happens to records whose account ID is
	// already stored: "refresh" re-includes them so the upsert refreshes
	// balances; "drop" discards them.
	KnownPolicy string `json:"knownPolicy"`
	// ConsecutiveKnownLimit stops pagination after this many known
	// records in a row. 0 disables the heuristic.
	ConsecutiveKnownLimit int `json:"consecutiveKnownLimit"`
	// SentinelAccountID stops pagination when this ID is observed.
	SentinelAccountID string `json:"sentinelAccountId"`
	// UseReportedTotal stops pagination once the provider-reported total
	// number of records has been fetched.
	UseReportedTotal bool `json:"useReportedTotal"`
}

type ReconcileConfig struct {
	// Threshold is the minimum account balance confirming payment.
	Threshold       float64 `json:"threshold"`
	IntervalSeconds int     `json:"intervalSeconds"`
}

type ConversationConfig struct {
	// CatalogPath overrides the embedded reply catalog when set.
	CatalogPath string `json:"catalogPath"`
	// InstructionImage is the photo sent with the account-ID prompt.
	InstructionImage string `json:"instructionImage"`
}

// DefaultConfigDir returns the default config directory (~/.onboardbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".onboardbot"
	}
	return filepath.Join(home, ".onboardbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Conversation.CatalogPath = ExpandPath(cfg.Conversation.CatalogPath)
	cfg.Conversation.InstructionImage = ExpandPath(cfg.Conversation.InstructionImage)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is
// unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Required credentials
// (bot token, exchange keys) are checked by the commands that need them,
// not here, so read-only commands work on a bare config.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Telegram.BatchLimit < 1 || cfg.Telegram.BatchLimit > 100 {
		errs = append(errs, "telegram.batchLimit must be between 1 and 100")
	}
	if cfg.Telegram.PollTimeoutSeconds < 0 || cfg.Telegram.PollTimeoutSeconds > 60 {
		errs = append(errs, "telegram.pollTimeoutSeconds must be between 0 and 60")
	}
	if cfg.Telegram.RetrySleepSeconds < 1 {
		errs = append(errs, "telegram.retrySleepSeconds must be >= 1")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath must not be empty")
	}

	if cfg.Exchange.PageSize < 1 || cfg.Exchange.PageSize > 1000 {
		errs = append(errs, "exchange.pageSize must be between 1 and 1000")
	}
	if cfg.Exchange.PageDelayMS < 0 {
		errs = append(errs, "exchange.pageDelayMs must be >= 0")
	}
	if cfg.Exchange.TimeoutSeconds < 1 {
		errs = append(errs, "exchange.timeoutSeconds must be >= 1")
	}
	switch cfg.Exchange.KnownPolicy {
	case "refresh", "drop":
		// valid
	default:
		errs = append(errs, "exchange.knownPolicy must be one of: refresh, drop")
	}
	if cfg.Exchange.ConsecutiveKnownLimit < 0 {
		errs = append(errs, "exchange.consecutiveKnownLimit must be >= 0")
	}

	if cfg.Reconcile.Threshold <= 0 {
		errs = append(errs, "reconcile.threshold must be > 0")
	}
	if cfg.Reconcile.IntervalSeconds < 1 {
		errs = append(errs, "reconcile.intervalSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
