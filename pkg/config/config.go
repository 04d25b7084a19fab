// Package config loads the mashup configuration: built-in defaults, the
// user file, the project file and environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/mashup/pkg/bus"
	mashuperrors "github.com/odvcencio/mashup/pkg/errors"
	"github.com/odvcencio/mashup/pkg/logging"
	"github.com/odvcencio/mashup/pkg/widget/dataprovider"
	"github.com/odvcencio/mashup/pkg/widget/tableeditor"
)

const (
	// DirName is the per-user configuration directory under $HOME.
	DirName = ".mashup"
	// FileName is the project configuration file in the working directory.
	FileName = "mashup.yaml"
)

// Config is the full configuration.
type Config struct {
	Server   ServerConfig                 `yaml:"server"`
	Bus      bus.Config                   `yaml:"bus"`
	Locale   string                       `yaml:"locale"`
	Logging  LoggingConfig                `yaml:"logging"`
	Tracing  TracingConfig                `yaml:"tracing"`
	Journal  JournalConfig                `yaml:"journal"`
	Widgets  WidgetsConfig                `yaml:"widgets"`
	Messages map[string]map[string]string `yaml:"messages"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	DataDir      string        `yaml:"data_dir"`

	// UseRate and UseBurst limit POST /api/v1/items/{index}/use.
	UseRate  float64 `yaml:"use_rate"`
	UseBurst int     `yaml:"use_burst"`
}

// LoggingConfig configures the JSONL logger.
type LoggingConfig struct {
	Level string `yaml:"level"`

	// Dir receives mashup.jsonl and errors.jsonl. Empty logs to stderr only.
	Dir string `yaml:"dir"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// JournalConfig configures the SQLite event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WidgetsConfig holds the features of the page's widgets.
type WidgetsConfig struct {
	DataProvider DataProviderConfig `yaml:"data_provider"`
	TableEditor  TableEditorConfig  `yaml:"table_editor"`
}

// DataProviderConfig configures the data provider widget.
type DataProviderConfig struct {
	Enabled        bool                  `yaml:"enabled"`
	RequestTimeout time.Duration         `yaml:"request_timeout"`
	Features       dataprovider.Features `yaml:"features"`
}

// TableEditorConfig configures the table editor widget.
type TableEditorConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	Features tableeditor.Features `yaml:"features"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			DataDir:      "data",
			UseRate:      5,
			UseBurst:     10,
		},
		Bus:    bus.DefaultConfig(),
		Locale: "en",
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Tracing: TracingConfig{
			ServiceName: "mashup",
			SampleRatio: 1,
		},
		Journal: JournalConfig{
			Path: filepath.Join(defaultHome(), "journal.db"),
		},
		Widgets: WidgetsConfig{
			DataProvider: DataProviderConfig{
				Enabled:        true,
				RequestTimeout: 15 * time.Second,
				Features: dataprovider.Features{
					Data: dataprovider.DataFeature{
						Resource: "timeSeriesData",
						Items: []dataprovider.Item{
							{Title: "Weekly figures", Location: "/data/weekly.json"},
							{Title: "Quarterly figures", Location: "/data/quarterly.json"},
						},
					},
				},
			},
			TableEditor: TableEditorConfig{
				Enabled: true,
				Features: tableeditor.Features{
					TimeSeries: tableeditor.TimeSeriesFeature{Resource: "timeSeriesData"},
				},
			},
		},
		Messages: map[string]map[string]string{
			dataprovider.MessageKeyFailedLoading: {
				"en": "Failed to load resource [resource].",
				"de": "Die Ressource [resource] konnte nicht geladen werden.",
			},
		},
	}
}

// DataProviderFeatures returns the data provider features with the global
// messages filled in where the widget does not define its own.
func (c *Config) DataProviderFeatures() dataprovider.Features {
	features := c.Widgets.DataProvider.Features
	merged := make(map[string]map[string]string, len(c.Messages))
	for key, texts := range c.Messages {
		merged[key] = texts
	}
	for key, texts := range features.Messages.I18nHTMLMessages {
		merged[key] = texts
	}
	features.Messages.I18nHTMLMessages = merged
	return features
}

// Load loads configuration from the default locations.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if home := userHome(); home != "" {
		userConfigPath := filepath.Join(home, DirName, "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, mashuperrors.Wrap(err, mashuperrors.ErrCodeConfigLoad, "loading user config").
				WithContext("path", userConfigPath)
		}
	}

	if err := loadAndMerge(cfg, FileName); err != nil && !os.IsNotExist(err) {
		return nil, mashuperrors.Wrap(err, mashuperrors.ErrCodeConfigLoad, "loading project config").
			WithContext("path", FileName)
	}

	return finish(cfg)
}

// LoadFromPath loads defaults, then path, then the environment.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, mashuperrors.Wrap(err, mashuperrors.ErrCodeConfigLoad, "loading config").
			WithContext("path", path)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	cfg.Logging.Dir = expandHomeDir(cfg.Logging.Dir)
	cfg.Journal.Path = expandHomeDir(cfg.Journal.Path)
	cfg.Server.DataDir = expandHomeDir(cfg.Server.DataDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies MASHUP_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MASHUP_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MASHUP_BUS_DRIVER"); v != "" {
		cfg.Bus.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MASHUP_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("MASHUP_LOCALE"); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv("MASHUP_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("MASHUP_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
		cfg.Journal.Enabled = true
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return mashuperrors.New(mashuperrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...)).
			WithContext("field", field)
	}

	if strings.TrimSpace(c.Server.Address) == "" {
		return invalid("server.address", "server address is required")
	}
	if c.Server.UseRate < 0 || c.Server.UseBurst < 0 {
		return invalid("server.use_rate", "rate limits must not be negative")
	}

	switch c.Bus.Driver {
	case bus.DriverMemory:
	case bus.DriverNATS:
		if strings.TrimSpace(c.Bus.URL) == "" {
			return invalid("bus.url", "nats driver requires a url")
		}
	default:
		return invalid("bus.driver", "invalid bus driver: %s (valid: memory, nats)", c.Bus.Driver)
	}

	switch logging.Level(c.Logging.Level) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return invalid("logging.level", "invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return invalid("tracing.sample_ratio", "sample ratio must be within [0, 1]")
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return invalid("journal.path", "journal path is required when the journal is enabled")
	}

	if c.Widgets.DataProvider.Enabled {
		if err := c.Widgets.DataProvider.Features.Validate(); err != nil {
			return err
		}
		for i, item := range c.Widgets.DataProvider.Features.Data.Items {
			if strings.TrimSpace(item.Location) == "" {
				return invalid(fmt.Sprintf("widgets.data_provider.features.data.items[%d]", i), "item %q has no location", item.Title)
			}
		}
	}
	if c.Widgets.TableEditor.Enabled {
		if err := c.Widgets.TableEditor.Features.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return home
}

func defaultHome() string {
	if home := userHome(); home != "" {
		return filepath.Join(home, DirName)
	}
	return DirName
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "~" {
		if home := userHome(); home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home := userHome(); home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
