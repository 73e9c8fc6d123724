package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/branding"
	"github.com/permaskills/skills/internal/userdata"
)

const fileType = "yaml"

// Setting keys.
const (
	KeyRegistryCU        = "registry.cu_url"
	KeyRegistryMU        = "registry.mu_url"
	KeyRegistryProcess   = "registry.process_id"
	KeyGatewayURL        = "gateway.url"
	KeyBundlerURL        = "bundler.url"
	KeyWalletPath        = "wallet.path"
	KeyFreeTierBytes     = "publish.free_tier_bytes"
	KeySoftLimitBytes    = "publish.soft_limit_bytes"
	KeyInstallMaxDepth   = "install.max_depth"
	KeyInstallParallel   = "install.parallel"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
	KeyBundleCache       = "install.cache"
	KeyDurabilityTimeout = "publish.durability_timeout"
)

var defaults = map[string]any{
	KeyRegistryCU:        "https://cu.ao-testnet.xyz",
	KeyRegistryMU:        "https://mu.ao-testnet.xyz",
	KeyRegistryProcess:   "",
	KeyGatewayURL:        "https://arweave.net",
	KeyBundlerURL:        "https://upload.ardrive.io",
	KeyWalletPath:        "",
	KeyFreeTierBytes:     100 * 1024,
	KeySoftLimitBytes:    10 * 1024 * 1024,
	KeyInstallMaxDepth:   10,
	KeyInstallParallel:   4,
	KeyLogLevel:          "warn",
	KeyLogFormat:         "text",
	KeyBundleCache:       true,
	KeyDurabilityTimeout: "5m",
}

// Keys returns every known setting key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Known reports whether key is a recognized setting.
func Known(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Config is a loaded settings file layered under environment variables.
type Config struct {
	v    *viper.Viper
	path string
}

// Load reads the settings file at the default location.
func Load() (*Config, error) {
	return LoadFile(userdata.ConfigPath())
}

// LoadFile reads settings from path. A missing file is not an error.
// Environment variables such as PERMASKILLS_GATEWAY_URL take precedence.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(fileType)
	v.SetEnvPrefix(branding.EnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(err, apperr.KindConfiguration, apperr.CodeInvalidInput,
				fmt.Sprintf("cannot read %s", path), "fix or delete the file")
		}
	}
	return &Config{v: v, path: path}, nil
}

// Path returns the settings file location.
func (c *Config) Path() string {
	return c.path
}

// Get returns a value by key. Returns empty string if not set.
func (c *Config) Get(key string) string {
	return c.v.GetString(key)
}

// Int returns an integer value by key.
func (c *Config) Int(key string) int {
	return c.v.GetInt(key)
}

// Bool returns a boolean value by key.
func (c *Config) Bool(key string) bool {
	return c.v.GetBool(key)
}

// Require returns the value of key or a Configuration error naming it.
func (c *Config) Require(key string) (string, error) {
	if s := c.Get(key); s != "" {
		return s, nil
	}
	return "", apperr.New(apperr.KindConfiguration, apperr.CodeMissingSetting,
		fmt.Sprintf("%s is not configured", key),
		fmt.Sprintf("run '%s config set %s <value>' or set %s", branding.CLIName(), key, envName(key)))
}

// WalletPath returns the configured wallet file, or the default location.
func (c *Config) WalletPath() string {
	if p := c.Get(KeyWalletPath); p != "" {
		return p
	}
	return userdata.DefaultWalletPath()
}

// Set writes a config key-value pair and saves the config file.
func (c *Config) Set(key, value string) error {
	if !Known(key) {
		return apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("unknown setting %q", key),
			"known settings: "+strings.Join(Keys(), ", "))
	}
	if err := os.MkdirAll(filepath.Dir(c.path), userdata.DirPermSecure); err != nil {
		return apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO,
			fmt.Sprintf("creating config directory %s", filepath.Dir(c.path)), "")
	}

	c.v.Set(key, value)
	if err := c.v.WriteConfigAs(c.path); err != nil {
		return apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO, "writing config file", "")
	}
	return nil
}

func envName(key string) string {
	return branding.EnvVar(strings.ReplaceAll(key, ".", "_"))
}
