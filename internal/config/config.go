package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGraphitePort    = 2004
	DefaultEncoding        = "pickle"
	DefaultDialTimeoutSec  = 5
	DefaultWriteTimeoutSec = 5
	DefaultWGInterface     = "wg0"
	DefaultSource          = SourceDump
	DefaultScript          = "./wg-json.sh"
	DefaultIntervalSec     = 60
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"

	SourceDump   = "dump"
	SourceScript = "script"

	// EnvPrefix prefixes every environment override, e.g. WGMETRICS_GRAPHITE_HOST.
	EnvPrefix = "WGMETRICS_"
)

// Config holds the agent settings.
type Config struct {
	Graphite    GraphiteConfig  `yaml:"graphite"`
	WireGuard   WireGuardConfig `yaml:"wireguard"`
	IntervalSec int             `yaml:"interval_sec"`
	Log         LogConfig       `yaml:"log"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// GraphiteConfig describes the carbon receiver.
type GraphiteConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Path            string `yaml:"path"`
	Encoding        string `yaml:"encoding"`
	DialTimeoutSec  int    `yaml:"dial_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
}

// WireGuardConfig selects the interface and how its state is read.
type WireGuardConfig struct {
	Interface string `yaml:"interface"`
	Source    string `yaml:"source"`
	Command   string `yaml:"command,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig controls the agent's own Prometheus endpoint. An empty
// Listen disables it.
type TelemetryConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

// Load reads a config file, applies environment overrides and defaults.
// Files ending in .conf or .ini are read in the legacy INI layout.
func Load(path string) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".conf", ".ini":
		cfg, err = loadINI(path)
	default:
		cfg, err = loadYAML(path)
	}
	if err != nil {
		return Config{}, err
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

func loadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// loadINI reads the legacy layout:
//
//	[Graphite] host, port, path
//	[WG]       interface
//	[Main]     interval
//
// Legacy setups ran wg-json.sh from the config directory, so that stays the
// default source for them.
func loadINI(path string) (Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	graphite := f.Section("Graphite")
	wg := f.Section("WG")
	mainSec := f.Section("Main")

	var errs error
	intKey := func(sec *ini.Section, name string) int {
		if !sec.HasKey(name) {
			return 0
		}
		n, err := sec.Key(name).Int()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: [%s] %s: %w", path, sec.Name(), name, err))
		}
		return n
	}

	cfg := Config{
		Graphite: GraphiteConfig{
			Host:     graphite.Key("host").String(),
			Port:     intKey(graphite, "port"),
			Path:     graphite.Key("path").String(),
			Encoding: graphite.Key("encoding").String(),
		},
		WireGuard: WireGuardConfig{
			Interface: wg.Key("interface").String(),
			Source:    wg.Key("source").MustString(SourceScript),
			Command:   wg.Key("command").MustString(filepath.Join(filepath.Dir(path), "wg-json.sh")),
		},
		IntervalSec: intKey(mainSec, "interval"),
	}
	if errs != nil {
		return Config{}, errs
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WGMETRICS_* variables.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}

	str("GRAPHITE_HOST", &cfg.Graphite.Host)
	num("GRAPHITE_PORT", &cfg.Graphite.Port)
	str("GRAPHITE_PATH", &cfg.Graphite.Path)
	str("GRAPHITE_ENCODING", &cfg.Graphite.Encoding)
	str("WG_INTERFACE", &cfg.WireGuard.Interface)
	str("WG_SOURCE", &cfg.WireGuard.Source)
	str("WG_COMMAND", &cfg.WireGuard.Command)
	num("INTERVAL_SEC", &cfg.IntervalSec)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("TELEMETRY_LISTEN", &cfg.Telemetry.Listen)
	return errs
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate reports every missing or invalid field at once.
func Validate(cfg Config) error {
	var errs error
	if cfg.Graphite.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("graphite.host is required"))
	}
	if cfg.Graphite.Port <= 0 || cfg.Graphite.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("graphite.port %d out of range", cfg.Graphite.Port))
	}
	if cfg.Graphite.Path == "" {
		errs = multierr.Append(errs, fmt.Errorf("graphite.path is required"))
	}
	switch cfg.Graphite.Encoding {
	case "pickle", "cbor":
	default:
		errs = multierr.Append(errs, fmt.Errorf("graphite.encoding %q must be pickle or cbor", cfg.Graphite.Encoding))
	}
	if cfg.WireGuard.Interface == "" {
		errs = multierr.Append(errs, fmt.Errorf("wireguard.interface is required"))
	}
	switch cfg.WireGuard.Source {
	case SourceDump:
	case SourceScript:
		if cfg.WireGuard.Command == "" {
			errs = multierr.Append(errs, fmt.Errorf("wireguard.command is required for the script source"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("wireguard.source %q must be dump or script", cfg.WireGuard.Source))
	}
	if cfg.IntervalSec <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("interval_sec must be positive"))
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format %q must be console or json", cfg.Log.Format))
	}
	return errs
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Graphite.Port == 0 {
		cfg.Graphite.Port = DefaultGraphitePort
	}
	if cfg.Graphite.Encoding == "" {
		cfg.Graphite.Encoding = DefaultEncoding
	}
	if cfg.Graphite.DialTimeoutSec == 0 {
		cfg.Graphite.DialTimeoutSec = DefaultDialTimeoutSec
	}
	if cfg.Graphite.WriteTimeoutSec == 0 {
		cfg.Graphite.WriteTimeoutSec = DefaultWriteTimeoutSec
	}
	if cfg.WireGuard.Interface == "" {
		cfg.WireGuard.Interface = DefaultWGInterface
	}
	if cfg.WireGuard.Source == "" {
		cfg.WireGuard.Source = DefaultSource
	}
	if cfg.WireGuard.Source == SourceScript && cfg.WireGuard.Command == "" {
		cfg.WireGuard.Command = DefaultScript
	}
	if cfg.IntervalSec == 0 {
		cfg.IntervalSec = DefaultIntervalSec
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
