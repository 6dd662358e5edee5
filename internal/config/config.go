package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/env"
	"github.com/loykin/asyncblocks/internal/ipc"
	"github.com/loykin/asyncblocks/internal/logger"
	"github.com/loykin/asyncblocks/internal/publish"
	apitls "github.com/loykin/asyncblocks/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. ASYNCBLOCKS_IPC_TCP_PORT.
const EnvPrefix = "ASYNCBLOCKS"

const appDir = "asyncblocks"

var ErrInvalid = errors.New("invalid configuration")

// Config is the daemon and notifier configuration file.
type Config struct {
	Env       []string        `mapstructure:"env"`
	EnvFiles  []string        `mapstructure:"env_files"`
	StatusBar StatusBarConfig `mapstructure:"statusbar"`
	Block     BlockDefaults   `mapstructure:"block"`
	IPC       IPCConfig       `mapstructure:"ipc"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	History   HistoryConfig   `mapstructure:"history"`
	API       APIConfig       `mapstructure:"api"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	PIDFile   string          `mapstructure:"pid_file"`

	path     string
	settings map[string]any
}

type StatusBarConfig struct {
	Delimiter string        `mapstructure:"delimiter"`
	Blocks    []BlockConfig `mapstructure:"blocks"`
}

type BlockConfig struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	// Interval in whole seconds; absent means the block only refreshes on request.
	Interval *int          `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Env      []string      `mapstructure:"env"`
}

type BlockDefaults struct {
	ClickedEnvVariable string `mapstructure:"clicked_env_variable"`
}

type IPCConfig struct {
	Type        string        `mapstructure:"type"`
	TCP         TCPConfig     `mapstructure:"tcp"`
	UDS         UDSConfig     `mapstructure:"uds"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	ReadLimit   int           `mapstructure:"read_limit"`
	QueueSize   int           `mapstructure:"queue_size"`
}

type TCPConfig struct {
	Port int `mapstructure:"port"`
}

type UDSConfig struct {
	Addr               string `mapstructure:"addr"`
	ForceRemoveUDSFile bool   `mapstructure:"force_remove_uds_file"`
	AbstractNamespace  bool   `mapstructure:"abstract_namespace"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type HistoryConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Sinks     []string `mapstructure:"sinks"`
	QueueSize int      `mapstructure:"queue_size"`
}

type APIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Listen   string        `mapstructure:"listen"`
	BasePath string        `mapstructure:"base_path"`
	TLS      apitls.Config `mapstructure:"tls"`
}

type PublisherConfig struct {
	// Type is xsetroot, stdout or none.
	Type    string `mapstructure:"type"`
	Command string `mapstructure:"command"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("statusbar.delimiter", " ")
	v.SetDefault("block.clicked_env_variable", block.DefaultClickedEnvVar)
	v.SetDefault("ipc.type", string(ipc.TransportTCP))
	v.SetDefault("ipc.tcp.port", ipc.DefaultTCPPort)
	v.SetDefault("ipc.uds.addr", ipc.DefaultUnixPath)
	v.SetDefault("ipc.uds.force_remove_uds_file", false)
	v.SetDefault("ipc.uds.abstract_namespace", false)
	v.SetDefault("ipc.read_timeout", "5s")
	v.SetDefault("ipc.read_limit", 64*1024)
	v.SetDefault("ipc.queue_size", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9144")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.queue_size", 256)
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", "127.0.0.1:44080")
	v.SetDefault("api.base_path", "/api")
	v.SetDefault("api.tls.enabled", false)
	v.SetDefault("publisher.type", publish.TypeXSetRoot)
	v.SetDefault("publisher.command", "xsetroot")
	v.SetDefault("pid_file", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (yaml, yml, toml or json by extension) over the defaults.
// An empty path yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if strings.EqualFold(filepath.Ext(path), ".yml") {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	c.path = path
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the built-in configuration with environment overrides,
// without validating it.
func Default() (*Config, error) {
	return decode(newViper())
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.settings = v.AllSettings()
	return &c, nil
}

// Candidates lists the files Discover checks, in order.
func Candidates() []string {
	var dirs []string
	if x := os.Getenv("XDG_CONFIG_HOME"); x != "" {
		dirs = append(dirs, filepath.Join(x, appDir))
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		dirs = append(dirs, filepath.Join(h, ".config", appDir))
	}
	var out []string
	for _, d := range dirs {
		for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
			out = append(out, filepath.Join(d, name))
		}
	}
	return out
}

// Discover returns the first existing candidate file, or "" when none exists.
func Discover() string {
	for _, p := range Candidates() {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

// LoadDefault loads path when given, otherwise the discovered file, otherwise defaults.
func LoadDefault(path string) (*Config, error) {
	if path == "" {
		path = Discover()
	}
	return Load(path)
}

// Path is the file the configuration was read from, "" for defaults.
func (c *Config) Path() string { return c.path }

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	for i, b := range c.StatusBar.Blocks {
		if b.Name == "" {
			bad("statusbar.blocks[%d]: name is required", i)
		}
		if strings.TrimSpace(b.Command) == "" {
			bad("statusbar.blocks[%d] (%s): command is required", i, b.Name)
		}
		if b.Interval != nil && *b.Interval <= 0 {
			bad("statusbar.blocks[%d] (%s): interval must be a positive number of seconds", i, b.Name)
		}
		if b.Timeout < 0 {
			bad("statusbar.blocks[%d] (%s): timeout must not be negative", i, b.Name)
		}
	}
	if v := c.Block.ClickedEnvVariable; v == "" || strings.ContainsAny(v, "= \t") {
		bad("block.clicked_env_variable %q is not a valid variable name", v)
	}
	switch ipc.Transport(c.IPC.Type) {
	case ipc.TransportTCP:
		if c.IPC.TCP.Port < 1025 || c.IPC.TCP.Port > 65535 {
			bad("ipc.tcp.port %d must be between 1025 and 65535", c.IPC.TCP.Port)
		}
	case ipc.TransportUnix:
		if c.IPC.UDS.Addr == "" {
			bad("ipc.uds.addr is required")
		}
	default:
		bad("ipc.type %q must be tcp or uds", c.IPC.Type)
	}
	if c.IPC.ReadTimeout < 0 {
		bad("ipc.read_timeout must not be negative")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	switch c.Log.Format {
	case logger.FormatText, logger.FormatJSON, logger.FormatColor:
	default:
		bad("log.format %q must be text, json or color", c.Log.Format)
	}
	switch c.Publisher.Type {
	case publish.TypeXSetRoot, publish.TypeStdout, publish.TypeNone:
	default:
		bad("publisher.type %q must be xsetroot, stdout or none", c.Publisher.Type)
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		bad("history.enabled requires at least one sink dsn")
	}
	return errors.Join(errs...)
}

// GlobalEnv returns env_files contents followed by env entries, later
// entries overriding earlier ones.
func (c *Config) GlobalEnv() ([]string, error) {
	var out []string
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, c.Env...), nil
}

// Blocks builds the configured blocks in order, sharing one environment.
func (c *Config) Blocks() ([]*block.Block, error) {
	global, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}
	e := env.New(global)
	out := make([]*block.Block, 0, len(c.StatusBar.Blocks))
	for _, bc := range c.StatusBar.Blocks {
		opts := []block.Option{
			block.WithClickedEnvVar(c.Block.ClickedEnvVariable),
			block.WithEnv(e, bc.Env),
		}
		if bc.Interval != nil {
			opts = append(opts, block.WithInterval(time.Duration(*bc.Interval)*time.Second))
		}
		if bc.Timeout > 0 {
			opts = append(opts, block.WithTimeout(bc.Timeout))
		}
		b, err := block.New(bc.Name, bc.Command, bc.Args, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// IPCConfig converts the ipc section for the transport package.
func (c *Config) IPCConfig() ipc.Config {
	return ipc.Config{
		Transport: ipc.Transport(c.IPC.Type),
		TCP:       ipc.TCPConfig{Port: c.IPC.TCP.Port},
		Unix: ipc.UnixConfig{
			Path:        c.IPC.UDS.Addr,
			ForceRemove: c.IPC.UDS.ForceRemoveUDSFile,
			Abstract:    c.IPC.UDS.AbstractNamespace,
		},
		ReadTimeout: c.IPC.ReadTimeout,
		ReadLimit:   c.IPC.ReadLimit,
	}
}

// LoggerConfig converts the log section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File: logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// YAML renders the effective settings, defaults included.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.settings)
}

// LoadEnvFile parses a .env file with KEY=VALUE lines. Blank lines and lines
// starting with # are skipped; surrounding quotes on values are removed.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}
