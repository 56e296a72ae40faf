package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// Marginalia is the root configuration for the moderation service.
type Marginalia struct {
	// The version of the configuration file format. Bumped whenever an
	// incompatible change is made to the layout of this file.
	Version int `yaml:"version"`

	Global        Global        `yaml:"global"`
	ModerationAPI ModerationAPI `yaml:"moderation_api"`

	Logging LogrusHook `yaml:"logging"`
}

const currentConfigVersion = 1

type Global struct {
	// The name of the platform this moderation service fronts, used in
	// notification subjects and audit entries.
	PlatformName string `yaml:"platform_name"`

	// The listen address for the HTTP API.
	ListenAddress string `yaml:"listen_address"`

	// The database used by every component unless overridden per-component.
	DatabaseOptions DatabaseOptions `yaml:"database"`

	// Sentry reporting for unexpected failures. Disabled unless a DSN is set.
	Sentry Sentry `yaml:"sentry"`

	// In-memory cache sizing.
	Cache CacheOptions `yaml:"cache"`
}

type Sentry struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

type CacheOptions struct {
	// The estimated maximum size of the in-memory caches, in bytes.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

type LogrusHook struct {
	// The level of logging to output: debug, info, warn or error.
	Level string `yaml:"level"`
}

func (c *Global) Defaults() {
	if c.PlatformName == "" {
		c.PlatformName = "localhost"
	}
	if c.ListenAddress == "" {
		c.ListenAddress = ":8229"
	}
	if c.Cache.MaxSizeBytes == 0 {
		c.Cache.MaxSizeBytes = 16 * 1024 * 1024
	}
}

func (c *Global) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "global.platform_name", c.PlatformName)
	checkNotEmpty(configErrs, "global.database.connection_string", string(c.DatabaseOptions.ConnectionString))
	if c.Sentry.Enabled {
		checkNotEmpty(configErrs, "global.sentry.dsn", c.Sentry.DSN)
	}
}

// Load reads and validates a YAML configuration file.
func Load(configPath string) (*Marginalia, error) {
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return loadConfig(configData)
}

func loadConfig(configData []byte) (*Marginalia, error) {
	var c Marginalia
	c.Defaults()
	if err := yaml.Unmarshal(configData, &c); err != nil {
		return nil, err
	}
	if c.Version != currentConfigVersion {
		return nil, fmt.Errorf("config version must be %d, found %d", currentConfigVersion, c.Version)
	}
	c.Wire()
	var configErrs ConfigErrors
	c.Verify(&configErrs)
	if len(configErrs) > 0 {
		return nil, configErrs
	}
	return &c, nil
}

func (c *Marginalia) Defaults() {
	c.Version = currentConfigVersion
	c.Global.Defaults()
	c.ModerationAPI.Defaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Wire()
}

// Wire points each component section back at the global section. Must be
// called after unmarshalling, which replaces the structs wholesale.
func (c *Marginalia) Wire() {
	c.ModerationAPI.Global = &c.Global
}

func (c *Marginalia) Verify(configErrs *ConfigErrors) {
	c.Global.Verify(configErrs)
	c.ModerationAPI.Verify(configErrs)
}

// ConfigErrors stores problems encountered when parsing a config file.
// It implements the error interface.
type ConfigErrors []string

func (errs *ConfigErrors) Add(str string) {
	*errs = append(*errs, str)
}

func (errs ConfigErrors) Error() string {
	if len(errs) == 1 {
		return errs[0]
	}
	return fmt.Sprintf("%s (and %d other problems)", errs[0], len(errs)-1)
}

// checkNotEmpty verifies the given value is not empty in the configuration.
// If it is, adds an error to the list.
func checkNotEmpty(configErrs *ConfigErrors, key, value string) {
	if value == "" {
		configErrs.Add(fmt.Sprintf("missing config key %q", key))
	}
}

// checkPositive verifies the given value is positive (zero included)
// in the configuration. If it is not, adds an error to the list.
func checkPositive(configErrs *ConfigErrors, key string, value int64) {
	if value < 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", key, value))
	}
}

func containsHeaderInjection(value string) bool {
	return strings.ContainsAny(value, "\r\n")
}
