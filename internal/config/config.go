// Package config loads the tabmux configuration from a TOML file, TABMUX_
// environment variables and built-in defaults, in that order of precedence
// (environment first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. TABMUX_HTTP_LISTEN.
const EnvPrefix = "TABMUX"

// Backend kinds.
const (
	BackendSSH   = "ssh"
	BackendLocal = "local"
)

// Config is the top-level application configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	DataDir  string         `mapstructure:"data_dir"`
	DBPath   string         `mapstructure:"db_path"`
	Log      LogConfig      `mapstructure:"log"`
	Terminal TerminalConfig `mapstructure:"terminal"`
	Record   RecordConfig   `mapstructure:"record"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Transfer TransferConfig `mapstructure:"transfer"`
}

// HTTPConfig configures the API server. AllowedOrigins lists the browser
// origins (scheme://host[:port], or "*") that may call the API and attach;
// an entry without a port matches any port.
type HTTPConfig struct {
	Listen         string   `mapstructure:"listen"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LogConfig configures logging. An empty File logs to the console only.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// TerminalConfig holds per-tab terminal settings.
type TerminalConfig struct {
	Cols            int           `mapstructure:"cols"`
	Rows            int           `mapstructure:"rows"`
	ScrollbackBytes int           `mapstructure:"scrollback_bytes"`
	ResizeDebounce  time.Duration `mapstructure:"resize_debounce"`
	DefaultTabName  string        `mapstructure:"default_tab_name"`
}

// RecordConfig controls asciinema recordings of sessions.
type RecordConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// BackendConfig selects and configures the session backend.
type BackendConfig struct {
	Kind        string        `mapstructure:"kind"`
	Shell       string        `mapstructure:"shell"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	KnownHosts  string        `mapstructure:"known_hosts"`
}

// TransferConfig configures transfer progress reporting.
type TransferConfig struct {
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Listen:         "127.0.0.1:8080",
			AllowedOrigins: []string{"http://localhost", "http://127.0.0.1", "http://[::1]"},
		},
		DataDir: "data",
		Log:     LogConfig{Level: "info"},
		Terminal: TerminalConfig{
			Cols:            80,
			Rows:            24,
			ScrollbackBytes: 256 * 1024,
			ResizeDebounce:  200 * time.Millisecond,
			DefaultTabName:  "New Connection",
		},
		Backend: BackendConfig{
			Kind:        BackendSSH,
			Shell:       "/bin/sh",
			DialTimeout: 60 * time.Second,
		},
		Transfer: TransferConfig{ProgressInterval: 500 * time.Millisecond},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/tabmux/config.toml (or the platform
// equivalent).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "tabmux", "config.toml"), nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("http.listen", cfg.HTTP.Listen)
	v.SetDefault("http.allowed_origins", cfg.HTTP.AllowedOrigins)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("terminal.cols", cfg.Terminal.Cols)
	v.SetDefault("terminal.rows", cfg.Terminal.Rows)
	v.SetDefault("terminal.scrollback_bytes", cfg.Terminal.ScrollbackBytes)
	v.SetDefault("terminal.resize_debounce", cfg.Terminal.ResizeDebounce)
	v.SetDefault("terminal.default_tab_name", cfg.Terminal.DefaultTabName)
	v.SetDefault("record.enabled", cfg.Record.Enabled)
	v.SetDefault("record.dir", cfg.Record.Dir)
	v.SetDefault("backend.kind", cfg.Backend.Kind)
	v.SetDefault("backend.shell", cfg.Backend.Shell)
	v.SetDefault("backend.dial_timeout", cfg.Backend.DialTimeout)
	v.SetDefault("backend.known_hosts", cfg.Backend.KnownHosts)
	v.SetDefault("transfer.progress_interval", cfg.Transfer.ProgressInterval)
}

// Load reads configuration from path. An empty path uses DefaultPath; a
// missing file is not an error.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolvePaths fills the paths derived from DataDir and expands ~ and
// environment variables.
func (c *Config) resolvePaths() {
	c.DataDir = expandPath(c.DataDir)
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "tabmux.db")
	}
	if c.Record.Dir == "" {
		c.Record.Dir = filepath.Join(c.DataDir, "recordings")
	}
	c.DBPath = expandPath(c.DBPath)
	c.Record.Dir = expandPath(c.Record.Dir)
	c.Log.File = expandPath(c.Log.File)
	c.Backend.KnownHosts = expandPath(c.Backend.KnownHosts)
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Listen) == "" {
		return errors.New("http.listen is required")
	}
	for _, origin := range c.HTTP.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("http.allowed_origins: %q is not scheme://host[:port]", origin)
		}
	}
	if c.Terminal.Cols <= 0 || c.Terminal.Rows <= 0 {
		return fmt.Errorf("terminal size %dx%d must be positive", c.Terminal.Cols, c.Terminal.Rows)
	}
	if c.Terminal.ScrollbackBytes <= 0 {
		return errors.New("terminal.scrollback_bytes must be positive")
	}
	if c.Terminal.ResizeDebounce < 0 {
		return errors.New("terminal.resize_debounce must not be negative")
	}
	switch c.Backend.Kind {
	case BackendSSH, BackendLocal:
	default:
		return fmt.Errorf("unsupported backend.kind %q", c.Backend.Kind)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
