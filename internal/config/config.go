package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KaramelBytes/gemdash-cli/internal/render"
	"github.com/KaramelBytes/gemdash-cli/internal/service"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Global configuration structure.
type Global struct {
	ServiceURL     string `mapstructure:"service_url" yaml:"service_url"`
	HTTPTimeoutSec int    `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
	PreviewRows    int    `mapstructure:"preview_rows" yaml:"preview_rows"`
	DefaultModel   string `mapstructure:"default_model" yaml:"default_model"`

	// Output
	TableFormat string `mapstructure:"table_format" yaml:"table_format"`
	ChartFormat string `mapstructure:"chart_format" yaml:"chart_format"`
	OutputDir   string `mapstructure:"output_dir" yaml:"output_dir"`

	// Shell
	HistoryFile string `mapstructure:"history_file" yaml:"history_file"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
}

// Keys lists the settable configuration keys in display order.
var Keys = []string{
	"service_url", "http_timeout_sec", "preview_rows", "default_model",
	"table_format", "chart_format", "output_dir", "history_file", "log_level",
}

var defaults = map[string]any{
	"service_url":      "http://localhost:8000",
	"http_timeout_sec": 120,
	"preview_rows":     service.DefaultPreviewRows,
	"default_model":    string(service.ModelXGBoost),
	"table_format":     string(render.FormatTable),
	"chart_format":     string(render.ChartHTML),
	"output_dir":       "gemdash-out",
	"history_file":     "",
	"log_level":        "info",
}

// Dir returns ~/.gemdash.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".gemdash"), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.gemdash/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	path := cfgFile
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: env (GEMDASH_*) > config file > defaults. CLI flags are applied
// on top by the caller.
func Load(cfgFile string) (*Global, error) {
	c, err := load(cfgFile, true)
	if err != nil {
		return nil, err
	}
	if c.HistoryFile == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		c.HistoryFile = filepath.Join(dir, "history")
	}
	return c, nil
}

// LoadFile loads only the config file over the defaults, ignoring GEMDASH_*
// env vars. Use it to edit and Save the file without persisting overrides.
func LoadFile(cfgFile string) (*Global, error) {
	return load(cfgFile, false)
}

func load(cfgFile string, env bool) (*Global, error) {
	v := viper.New()
	if env {
		v.SetEnvPrefix("GEMDASH")
		v.AutomaticEnv()
	}
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// optional read
		_ = v.ReadInConfig()
	}

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks every value that has a closed set or a range.
func (c *Global) Validate() error {
	for _, k := range Keys {
		if err := c.Set(k, c.Get(k)); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the string form of a key's value, or "" for unknown keys.
func (c *Global) Get(key string) string {
	switch key {
	case "service_url":
		return c.ServiceURL
	case "http_timeout_sec":
		return strconv.Itoa(c.HTTPTimeoutSec)
	case "preview_rows":
		return strconv.Itoa(c.PreviewRows)
	case "default_model":
		return c.DefaultModel
	case "table_format":
		return c.TableFormat
	case "chart_format":
		return c.ChartFormat
	case "output_dir":
		return c.OutputDir
	case "history_file":
		return c.HistoryFile
	case "log_level":
		return c.LogLevel
	}
	return ""
}

// Set validates val and assigns it to key, normalizing enumerated values.
func (c *Global) Set(key, val string) error {
	val = strings.TrimSpace(val)
	switch key {
	case "service_url":
		if !strings.HasPrefix(val, "http://") && !strings.HasPrefix(val, "https://") {
			return fmt.Errorf("invalid service_url: %q (must start with http:// or https://)", val)
		}
		c.ServiceURL = strings.TrimRight(val, "/")
	case "http_timeout_sec":
		i, err := strconv.Atoi(val)
		if err != nil || i <= 0 {
			return fmt.Errorf("invalid int for http_timeout_sec: %v", val)
		}
		c.HTTPTimeoutSec = i
	case "preview_rows":
		i, err := strconv.Atoi(val)
		if err != nil || i <= 0 {
			return fmt.Errorf("invalid int for preview_rows: %v", val)
		}
		c.PreviewRows = i
	case "default_model":
		m, err := service.ParseModelType(val)
		if err != nil {
			return fmt.Errorf("invalid default_model: %w", err)
		}
		c.DefaultModel = string(m)
	case "table_format":
		f, err := render.ParseTableFormat(val)
		if err != nil {
			return err
		}
		c.TableFormat = string(f)
	case "chart_format":
		f, err := render.ParseChartFormat(val)
		if err != nil {
			return err
		}
		c.ChartFormat = string(f)
	case "output_dir":
		if val == "" {
			return errors.New("output_dir must not be empty")
		}
		c.OutputDir = val
	case "history_file":
		c.HistoryFile = val
	case "log_level":
		if _, err := parseLevel(val); err != nil {
			return err
		}
		c.LogLevel = strings.ToLower(val)
	default:
		return fmt.Errorf("unknown key: %s", key)
	}
	return nil
}

// Level returns the configured slog level, defaulting to info.
func (c *Global) Level() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level: %q (use debug, info, warn or error)", s)
	}
	return l, nil
}
