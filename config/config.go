// Package config loads eventkit host configuration from TOML or YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/logging"
	"github.com/vinayprograms/eventkit/resiliency"
)

// ErrInsecurePermissions is returned when a config file holding bus
// secrets is readable by group or others.
var ErrInsecurePermissions = fmt.Errorf("config file has insecure permissions")

// DefaultPolicy names the policy used when none is given.
const DefaultPolicy = "default"

// Config is the host configuration.
type Config struct {
	Log       LogConfig                      `toml:"log" yaml:"log"`
	Store     StoreConfig                    `toml:"store" yaml:"store"`
	Bus       BusConfig                      `toml:"bus" yaml:"bus"`
	Telemetry TelemetryConfig                `toml:"telemetry" yaml:"telemetry"`
	Host      HostConfig                     `toml:"host" yaml:"host"`
	Policies  map[string]resiliency.Settings `toml:"policies" yaml:"policies"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	// Backend is "memory", "badger" or "nats".
	Backend    string `toml:"backend" yaml:"backend"`
	Path       string `toml:"path" yaml:"path"`
	InMemory   bool   `toml:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `toml:"sync_writes" yaml:"sync_writes"`
	Bucket     string `toml:"bucket" yaml:"bucket"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	// Kind is "memory" or "nats".
	Kind       string `toml:"kind" yaml:"kind"`
	URL        string `toml:"url" yaml:"url"`
	Name       string `toml:"name" yaml:"name"`
	Token      string `toml:"token" yaml:"token"`
	User       string `toml:"user" yaml:"user"`
	Password   string `toml:"password" yaml:"password"`
	BufferSize int    `toml:"buffer_size" yaml:"buffer_size"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// Protocol is "grpc", "http", "stdout" or empty to disable tracing.
	Protocol    string `toml:"protocol" yaml:"protocol"`
	Endpoint    string `toml:"endpoint" yaml:"endpoint"`
	ServiceName string `toml:"service_name" yaml:"service_name"`
	Insecure    bool   `toml:"insecure" yaml:"insecure"`
	Debug       bool   `toml:"debug" yaml:"debug"`
}

// HostConfig tunes the runtime.
type HostConfig struct {
	Workers          int    `toml:"workers" yaml:"workers"`
	Queue            string `toml:"queue" yaml:"queue"`
	MaxEventsPerCall int    `toml:"max_events_per_call" yaml:"max_events_per_call"`
	CommandPolicy    string `toml:"command_policy" yaml:"command_policy"`
}

// Default returns an in-process configuration with the built-in policies
// "default" (exponential), "linear" and "none".
func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info"},
		Store: StoreConfig{Backend: "memory", Bucket: "eventkit-state"},
		Bus:   BusConfig{Kind: "memory", Name: "eventkit"},
		Telemetry: TelemetryConfig{
			ServiceName: "eventkit",
		},
		Host: HostConfig{
			Workers:       4,
			Queue:         "eventkit",
			CommandPolicy: DefaultPolicy,
		},
		Policies: map[string]resiliency.Settings{
			DefaultPolicy: resiliency.SettingsOf(resiliency.CreateDefaultExponentialRetry()),
			"linear":      resiliency.SettingsOf(resiliency.CreateDefaultLinearRetry()),
			"none":        resiliency.SettingsOf(resiliency.None),
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"eventkit.toml", "eventkit.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "eventkit", "eventkit.toml"),
			filepath.Join(home, ".config", "eventkit", "eventkit.yaml"),
		)
	}
	return paths
}

// LoadDefault loads the first existing standard file. With no file it
// returns Default() with environment overrides and an empty path.
func LoadDefault() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg := Default()
	cfg.applyEnv()
	return cfg, "", cfg.Validate()
}

// Load reads path over Default(). The format follows the extension:
// .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, errs.Wrap(err, "parse "+path, errs.WithMetadata("format", "toml"))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(err, "parse "+path, errs.WithMetadata("format", "yaml"))
		}
	default:
		return nil, errs.InvalidInput("unsupported config format: " + path)
	}

	if cfg.hasSecrets() {
		if err := checkPermissions(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) hasSecrets() bool {
	return c.Bus.Token != "" || c.Bus.Password != ""
}

// checkPermissions rejects files readable by group or others.
func checkPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return fmt.Errorf("%w: %s has mode %04o (must not be group or world accessible)",
			ErrInsecurePermissions, path, mode)
	}
	return nil
}

// applyEnv overlays EVENTKIT_* environment variables.
func (c *Config) applyEnv() {
	set := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	set("EVENTKIT_LOG_LEVEL", &c.Log.Level)
	set("EVENTKIT_STORE_BACKEND", &c.Store.Backend)
	set("EVENTKIT_STORE_PATH", &c.Store.Path)
	set("EVENTKIT_BUS_KIND", &c.Bus.Kind)
	set("EVENTKIT_NATS_URL", &c.Bus.URL)
	set("EVENTKIT_NATS_TOKEN", &c.Bus.Token)
	set("EVENTKIT_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	set("EVENTKIT_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("EVENTKIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Host.Workers = n
		}
	}
}

// Validate checks enumerations and every policy.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return errs.InvalidInput(err.Error())
	}
	switch c.Store.Backend {
	case "memory", "nats":
	case "badger":
		if c.Store.Path == "" && !c.Store.InMemory {
			return errs.InvalidInput("store: badger needs a path or in_memory")
		}
	default:
		return errs.InvalidInput("store: unknown backend " + strconv.Quote(c.Store.Backend))
	}
	switch c.Bus.Kind {
	case "memory", "nats":
	default:
		return errs.InvalidInput("bus: unknown kind " + strconv.Quote(c.Bus.Kind))
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http", "stdout":
	default:
		return errs.InvalidInput("telemetry: unknown protocol " + strconv.Quote(c.Telemetry.Protocol))
	}
	for _, name := range c.PolicyNames() {
		if _, err := c.Policies[name].Policy(); err != nil {
			return errs.WrapWithCode(err, errs.ErrCodeInvalidInput, "policy "+name, errs.WithKey(name))
		}
	}
	if _, err := c.Policy(c.Host.CommandPolicy); err != nil {
		return err
	}
	return nil
}

// PolicyNames returns the configured policy names, sorted.
func (c *Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policy returns the named policy; an empty name selects DefaultPolicy.
func (c *Config) Policy(name string) (resiliency.Policy, error) {
	if name == "" {
		name = DefaultPolicy
	}
	s, ok := c.Policies[name]
	if !ok {
		return resiliency.Policy{}, errs.NotFound("unknown policy "+strconv.Quote(name), errs.WithKey(name))
	}
	p, err := s.Policy()
	if err != nil {
		return resiliency.Policy{}, errs.WrapWithCode(err, errs.ErrCodeInvalidInput, "policy "+name, errs.WithKey(name))
	}
	return p, nil
}

// Logger returns a logger at the configured level.
func (c *Config) Logger() *logging.Logger {
	l := logging.New()
	if level, err := logging.ParseLevel(c.Log.Level); err == nil {
		l.SetLevel(level)
	}
	return l
}
