package config

import (
	_ "embed"
	"os"
	"strings"

	"watchreload/internal/config/tomlkeys"
)

// EnvPrefix prefixes environment overrides: log.buffer-size is read from
// WATCHRELOAD_LOG_BUFFER_SIZE.
const EnvPrefix = "WATCHRELOAD_"

//go:embed defaults.toml
var DefaultsPayload []byte

type Settings struct {
	Log     LogSettings
	Loader  LoaderSettings
	Reload  ReloadSettings
	Watcher WatcherSettings
	Server  ServerSettings
	Modules []string
}

type LogSettings struct {
	Level      string
	BufferSize int64
}

type LoaderSettings struct {
	BaseDir    string
	Extensions []string
}

type ReloadSettings struct {
	ContinueOnError bool
	HistorySize     int64
}

type WatcherSettings struct {
	MaxRestartAttempts int64
}

type ServerSettings struct {
	Addr string
}

// Keys lists every setting understood by LoadSettings.
var Keys = []string{
	"log.level",
	"log.buffer-size",
	"loader.base-dir",
	"loader.extensions",
	"reload.continue-on-error",
	"reload.history-size",
	"watcher.max-restart-attempts",
	"server.addr",
	"modules",
}

// LoadSettings layers defaultsPayload, the TOML file at path (skipped when
// empty or missing) and overrides, in that order.
func LoadSettings(path string, defaultsPayload []byte, overrides map[string]any) (Settings, error) {
	defaultsStore, err := tomlkeys.Decode(defaultsPayload)
	if err != nil {
		return Settings{}, err
	}
	defaults := defaultsStore.Flat()
	values := defaultsStore.Flat()

	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Settings{}, err
			}
		} else {
			store, err := tomlkeys.Decode(payload)
			if err != nil {
				return Settings{}, err
			}
			for key, value := range store.Flat() {
				values[key] = value
			}
		}
	}

	for key, value := range overrides {
		normalized := tomlkeys.NormalizeKey(key)
		if normalized == "" {
			continue
		}
		values[normalized] = value
	}

	settings := Settings{}
	settings.Log.Level = stringSetting(values, "log.level", "")
	settings.Log.BufferSize = intSetting(values, "log.buffer-size", 0)
	settings.Loader.BaseDir = stringSetting(values, "loader.base-dir", "")
	settings.Loader.Extensions = stringsSetting(values, "loader.extensions", nil)
	settings.Reload.ContinueOnError = boolSetting(values, "reload.continue-on-error", false)
	settings.Reload.HistorySize = intSetting(values, "reload.history-size", 0)
	settings.Watcher.MaxRestartAttempts = intSetting(values, "watcher.max-restart-attempts", -1)
	settings.Server.Addr = stringSetting(values, "server.addr", "")
	settings.Modules = stringsSetting(values, "modules", nil)

	return normalizeSettings(settings, defaults), nil
}

// EnvOverrides collects WATCHRELOAD_* variables for the known keys from
// environ, in os.Environ form.
func EnvOverrides(environ []string) map[string]any {
	byName := make(map[string]string, len(Keys))
	for _, key := range Keys {
		byName[envName(key)] = key
	}
	overrides := map[string]any{}
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if key, known := byName[name]; known {
			overrides[key] = value
		}
	}
	return overrides
}

func envName(key string) string {
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return EnvPrefix + strings.ToUpper(replacer.Replace(key))
}

func normalizeSettings(settings Settings, defaults map[string]any) Settings {
	if settings.Log.Level == "" {
		settings.Log.Level = stringSetting(defaults, "log.level", "info")
	}
	if settings.Log.BufferSize <= 0 {
		settings.Log.BufferSize = intSetting(defaults, "log.buffer-size", 0)
	}
	if len(settings.Loader.Extensions) == 0 {
		settings.Loader.Extensions = stringsSetting(defaults, "loader.extensions", nil)
	}
	if settings.Reload.HistorySize <= 0 {
		settings.Reload.HistorySize = intSetting(defaults, "reload.history-size", 0)
	}
	if settings.Watcher.MaxRestartAttempts < 0 {
		settings.Watcher.MaxRestartAttempts = intSetting(defaults, "watcher.max-restart-attempts", 0)
	}
	return settings
}

func intSetting(values map[string]any, key string, fallback int64) int64 {
	if parsed, ok := tomlkeys.AsInt64(values[tomlkeys.NormalizeKey(key)]); ok {
		return parsed
	}
	return fallback
}

func stringSetting(values map[string]any, key string, fallback string) string {
	if parsed, ok := values[tomlkeys.NormalizeKey(key)].(string); ok {
		return strings.TrimSpace(parsed)
	}
	return fallback
}

func boolSetting(values map[string]any, key string, fallback bool) bool {
	if parsed, ok := tomlkeys.AsBool(values[tomlkeys.NormalizeKey(key)]); ok {
		return parsed
	}
	return fallback
}

func stringsSetting(values map[string]any, key string, fallback []string) []string {
	if parsed, ok := tomlkeys.AsStrings(values[tomlkeys.NormalizeKey(key)]); ok {
		return parsed
	}
	return fallback
}
