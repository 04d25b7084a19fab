package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Scalars override when non-zero;
// booleans and numbers that may legitimately be zero override when the
// key is present in raw.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Server.Address != "" {
		base.Server.Address = override.Server.Address
	}
	if override.Server.ReadTimeout > 0 {
		base.Server.ReadTimeout = override.Server.ReadTimeout
	}
	if override.Server.WriteTimeout > 0 {
		base.Server.WriteTimeout = override.Server.WriteTimeout
	}
	if override.Server.DataDir != "" {
		base.Server.DataDir = override.Server.DataDir
	}
	if fieldSet(raw, "server", "use_rate") {
		base.Server.UseRate = override.Server.UseRate
	}
	if fieldSet(raw, "server", "use_burst") {
		base.Server.UseBurst = override.Server.UseBurst
	}

	if override.Bus.Driver != "" {
		base.Bus.Driver = override.Bus.Driver
	}
	if override.Bus.URL != "" {
		base.Bus.URL = override.Bus.URL
	}
	if override.Bus.Name != "" {
		base.Bus.Name = override.Bus.Name
	}
	if override.Bus.Timeout > 0 {
		base.Bus.Timeout = override.Bus.Timeout
	}
	if override.Bus.BufferSize > 0 {
		base.Bus.BufferSize = override.Bus.BufferSize
	}

	if override.Locale != "" {
		base.Locale = override.Locale
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if fieldSet(raw, "logging", "dir") {
		base.Logging.Dir = override.Logging.Dir
	}

	if fieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if override.Tracing.ServiceName != "" {
		base.Tracing.ServiceName = override.Tracing.ServiceName
	}
	if fieldSet(raw, "tracing", "sample_ratio") {
		base.Tracing.SampleRatio = override.Tracing.SampleRatio
	}

	if fieldSet(raw, "journal", "enabled") {
		base.Journal.Enabled = override.Journal.Enabled
	}
	if override.Journal.Path != "" {
		base.Journal.Path = override.Journal.Path
	}

	mergeDataProvider(&base.Widgets.DataProvider, override.Widgets.DataProvider, raw)
	mergeTableEditor(&base.Widgets.TableEditor, override.Widgets.TableEditor, raw)

	for key, texts := range override.Messages {
		if base.Messages == nil {
			base.Messages = make(map[string]map[string]string)
		}
		base.Messages[key] = texts
	}
}

func mergeDataProvider(base *DataProviderConfig, override DataProviderConfig, raw map[string]any) {
	if fieldSet(raw, "widgets", "data_provider", "enabled") {
		base.Enabled = override.Enabled
	}
	if override.RequestTimeout > 0 {
		base.RequestTimeout = override.RequestTimeout
	}
	data := override.Features.Data
	if data.Resource != "" {
		base.Features.Data.Resource = data.Resource
	}
	if fieldSet(raw, "widgets", "data_provider", "features", "data", "items") {
		base.Features.Data.Items = data.Items
	}
	if data.BaseURL != "" {
		base.Features.Data.BaseURL = data.BaseURL
	}
	if len(override.Features.Messages.I18nHTMLMessages) > 0 {
		base.Features.Messages = override.Features.Messages
	}
}

func mergeTableEditor(base *TableEditorConfig, override TableEditorConfig, raw map[string]any) {
	if fieldSet(raw, "widgets", "table_editor", "enabled") {
		base.Enabled = override.Enabled
	}
	if override.Features.TimeSeries.Resource != "" {
		base.Features.TimeSeries.Resource = override.Features.TimeSeries.Resource
	}
}

// fieldSet reports whether the key path exists in the raw document.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
