package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the walletgate daemon.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Gateway  GatewayConfig  `json:"gateway"`
	Warnings WarningsConfig `json:"warnings"`
	Popup    PopupConfig    `json:"popup"`
	Settings SettingsConfig `json:"settings"`
	Notify   NotifyConfig   `json:"notify"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`           // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty"`  // optional log file path
}

// GatewayConfig configures the extension-facing transport surfaces.
type GatewayConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`   // HTTP: /rpc, /popup, /metrics, settings API
	WSPort int    `json:"wsPort"` // WebSocket endpoint
	WSPath string `json:"wsPath"`
}

// WarningsConfig holds the default warning toggles. The settings store
// overrides these at runtime; these are the values used for unset keys.
type WarningsConfig struct {
	Approval       bool   `json:"approval"`
	Listing        bool   `json:"listing"`
	HashSignatures bool   `json:"hashSignatures"`
	AllowlistFile  string `json:"allowlistFile,omitempty"` // YAML bulk import, loaded at startup
}

// PopupConfig configures the warning popup surface.
type PopupConfig struct {
	BaseURL     string `json:"baseUrl,omitempty"`     // default: http://<host>:<port>/popup
	BrowserPath string `json:"browserPath,omitempty"` // Chrome/Chromium binary (empty = auto-detect)
	Headless    bool   `json:"headless,omitempty"`    // headless popups, used by integration tests
}

type SettingsConfig struct {
	DBPath string `json:"dbPath"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures the out-of-band decision notifier.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chatId,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.walletgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".walletgate"
	}
	return filepath.Join(home, ".walletgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

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

	cfg.Settings.DBPath = ExpandPath(cfg.Settings.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Warnings.AllowlistFile = ExpandPath(cfg.Warnings.AllowlistFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match // Keep original if no env var and no default
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

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errs = append(errs, "gateway.port must be between 0 and 65535")
	}
	if cfg.Gateway.WSPort < 0 || cfg.Gateway.WSPort > 65535 {
		errs = append(errs, "gateway.wsPort must be between 0 and 65535")
	}
	if cfg.Gateway.Port != 0 && cfg.Gateway.Port == cfg.Gateway.WSPort {
		errs = append(errs, "gateway.port and gateway.wsPort must differ")
	}
	if cfg.Gateway.WSPath != "" && !strings.HasPrefix(cfg.Gateway.WSPath, "/") {
		errs = append(errs, "gateway.wsPath must start with /")
	}

	if cfg.Settings.DBPath == "" {
		errs = append(errs, "settings.dbPath must not be empty")
	}

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			errs = append(errs, "notify.telegram.token is required when telegram is enabled")
		}
		if cfg.Notify.Telegram.ChatID == 0 {
			errs = append(errs, "notify.telegram.chatId is required when telegram is enabled")
		}
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
