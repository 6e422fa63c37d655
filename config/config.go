// Package config loads the gymbridge YAML configuration.
package config

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/gym-bridge/env"
	"github.com/wippyai/gym-bridge/errors"
	"github.com/wippyai/gym-bridge/python"
	"github.com/wippyai/gym-bridge/transport"
)

const (
	DefaultEnv        = "CartPole-v1"
	DefaultAddr       = "127.0.0.1:8765"
	DefaultPath       = "/env"
	DefaultLogLevel   = "info"
	DefaultLogMaxSize = 100
)

type Config struct {
	Python    PythonConfig    `yaml:"python"`
	Env       EnvConfig       `yaml:"env"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

type PythonConfig struct {
	SitePackages string `yaml:"site_packages"`
	Include      string `yaml:"include"`
	Shutdown     bool   `yaml:"shutdown"`
}

type EnvConfig struct {
	Name       string          `yaml:"name"`
	RenderMode string          `yaml:"render_mode"`
	Params     map[string]any  `yaml:"params,omitempty"`
	Wrappers   []WrapperConfig `yaml:"wrappers,omitempty"`
	Seed       *int64          `yaml:"seed,omitempty"`
}

// WrapperConfig names an observation wrapper and its keyword arguments.
type WrapperConfig struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args,omitempty"`
}

type TransportConfig struct {
	// Addr is the address serve listens on.
	Addr string `yaml:"addr"`
	// URL is the server remote connects to. Empty means ws://Addr/env.
	URL         string        `yaml:"url,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Compress    bool          `yaml:"compress"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file,omitempty"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Env: EnvConfig{
			Name:       DefaultEnv,
			RenderMode: env.DefaultRenderMode,
		},
		Transport: TransportConfig{
			Addr:        DefaultAddr,
			Timeout:     transport.DefaultTimeout,
			MaxAttempts: transport.DefaultMaxAttempts,
			Backoff:     transport.DefaultBackoff,
		},
		Log: LogConfig{
			Level:     DefaultLogLevel,
			MaxSizeMB: DefaultLogMaxSize,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read "+path)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path(path).
			Cause(err).
			Detail("parse %s", path).
			Build()
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindUnsupported, err, "encode config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "write "+path)
	}
	return nil
}

// ApplyEnv overrides the interpreter directories from the environment.
func (c *Config) ApplyEnv() {
	p := c.Python.Host()
	c.Python.SitePackages, c.Python.Include = p.SitePackages, p.Include
}

// Validate checks every section. Interpreter directories are checked by
// python.Config.Validate when the host starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Env.Name) == "" {
		return invalid("env.name", "environment name is empty")
	}
	if _, err := c.Env.Options(nil); err != nil {
		return err
	}
	t := c.Transport
	switch {
	case t.Timeout < 0:
		return invalid("transport.timeout", "negative timeout %s", t.Timeout)
	case t.Backoff < 0:
		return invalid("transport.backoff", "negative backoff %s", t.Backoff)
	case t.MaxAttempts < 0:
		return invalid("transport.max_attempts", "negative attempt count %d", t.MaxAttempts)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "unknown level %q", c.Log.Level)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return invalid("log.max_size_mb", "negative rotation limits")
	}
	return nil
}

func invalid(path, msg string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Path(strings.Split(path, ".")...).
		Detail(msg, args...).
		Build()
}

// Host returns the interpreter configuration with environment overrides.
func (p PythonConfig) Host() python.Config {
	return python.Config{
		SitePackages: p.SitePackages,
		Include:      p.Include,
		Shutdown:     p.Shutdown,
	}.WithEnv()
}

// Options converts the section to session options. m may be nil.
func (e EnvConfig) Options(m *env.Metrics) ([]env.Option, error) {
	opts := []env.Option{env.WithRenderMode(e.RenderMode)}
	if len(e.Params) > 0 {
		opts = append(opts, env.WithParams(e.Params))
	}
	if len(e.Wrappers) > 0 {
		ws := make([]env.Wrapper, 0, len(e.Wrappers))
		for _, wc := range e.Wrappers {
			w, err := env.ParseWrapper(wc.Name, wc.Args)
			if err != nil {
				return nil, err
			}
			ws = append(ws, w)
		}
		opts = append(opts, env.WithWrappers(ws...))
	}
	if e.Seed != nil {
		opts = append(opts, env.WithSeed(*e.Seed))
	}
	if m != nil {
		opts = append(opts, env.WithMetrics(m))
	}
	return opts, nil
}

// Client returns the transport client configuration.
func (t TransportConfig) Client() transport.Config {
	u := t.URL
	if u == "" {
		u = "ws://" + t.Addr + DefaultPath
	}
	return transport.Config{
		URL:         u,
		Timeout:     t.Timeout,
		MaxAttempts: t.MaxAttempts,
		Backoff:     t.Backoff,
		Compress:    t.Compress,
	}
}
