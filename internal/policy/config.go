package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileConfig is the on-disk shape of a Policy's persisted settings,
// loaded/saved under $XDG_CONFIG_HOME/depsolve/config.ini, mirroring the
// teacher's internal/config.Config mapstructure-tagged struct loaded
// through viper, adapted to the spec's single [global] section.
type FileConfig struct {
	Global GlobalConfig `mapstructure:"global"`
}

// GlobalConfig holds the fields every Policy needs, validated with
// go-playground/validator struct tags the way the teacher's
// internal/config.update_validator.go registers custom validation rules.
type GlobalConfig struct {
	NetworkUse      string `mapstructure:"network_use" validate:"required,oneof=full minimal offline"`
	Freshness       int64  `mapstructure:"freshness" validate:"gte=0"`
	HelpWithTesting bool   `mapstructure:"help_with_testing"`
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	return v
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/depsolve, falling back to
// $HOME/.config/depsolve when XDG_CONFIG_HOME is unset, matching 0install's
// basedir convention.
func DefaultConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "depsolve"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("policy: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "depsolve"), nil
}

// LoadGlobalConfig reads [global] settings from configPath (an INI file)
// via viper, applying the same one-month freshness / full-network
// defaults as New(). An absent file is not an error — the defaults are
// returned as-is.
func LoadGlobalConfig(configPath string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetDefault("global.network_use", string(NetworkFull))
	v.SetDefault("global.freshness", defaultFreshnessSeconds)
	v.SetDefault("global.help_with_testing", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("policy: reading config %s: %w", configPath, err)
			}
		}
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("policy: parsing config: %w", err)
	}

	if err := configValidator.Struct(&cfg.Global); err != nil {
		return nil, fmt.Errorf("policy: invalid config: %w", err)
	}

	return &cfg.Global, nil
}

// SaveGlobalConfig writes cfg to configPath as an INI [global] section,
// creating parent directories as needed.
func SaveGlobalConfig(configPath string, cfg *GlobalConfig) error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("policy: refusing to save invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("policy: creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("ini")
	v.Set("global.network_use", cfg.NetworkUse)
	v.Set("global.freshness", cfg.Freshness)
	v.Set("global.help_with_testing", cfg.HelpWithTesting)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("policy: writing config %s: %w", configPath, err)
	}
	return nil
}

// FromGlobalConfig builds a Policy for root from a loaded GlobalConfig,
// with the given Handler (nil selects the console handler).
func FromGlobalConfig(root string, cfg *GlobalConfig, handler Handler) (*Policy, error) {
	if handler == nil {
		handler = NewConsoleHandler()
	}
	p := &Policy{
		Root:            root,
		NetworkUse:      NetworkUse(cfg.NetworkUse),
		Freshness:       cfg.Freshness,
		HelpWithTesting: cfg.HelpWithTesting,
		Handler:         handler,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
