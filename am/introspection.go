package am

import (
	"os"
	"sort"
	"strings"

	"github.com/teranos/ontogen/errors"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceUser        ConfigSource = "user"        // ~/.ontogen/ontogen.toml
	SourceProject     ConfigSource = "project"     // ./ontogen.toml
	SourceExplicit    ConfigSource = "explicit"    // --config
	SourceEnvironment ConfigSource = "environment" // ONTOGEN_* and bound variables
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource // The type of config source
	Path   string       // File path or environment variable name
}

// ConfigSources maps dotted keys to the file that last set them during loading
var ConfigSources = map[string]SourceInfo{}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// ConfigIntrospection provides metadata about the active configuration
type ConfigIntrospection struct {
	ConfigFile string        `json:"config_file"`
	Settings   []SettingInfo `json:"settings"`
}

// boundEnv lists variables bound in BindSensitiveEnvVars, in lookup order
var boundEnv = map[string][]string{
	"generator.api_key": {"ONTOGEN_API_KEY", "OPENROUTER_API_KEY"},
	"segment.start":     {EnvSegmentStart},
	"segment.size":      {EnvSegmentSize},
}

// GetConfigIntrospection returns every effective setting with the source that supplied it.
// The API key value is redacted.
func GetConfigIntrospection() (*ConfigIntrospection, error) {
	v, err := GetViper()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config for introspection")
	}

	introspection := &ConfigIntrospection{
		ConfigFile: v.ConfigFileUsed(),
		Settings:   make([]SettingInfo, 0),
	}

	keys := v.AllKeys()
	sort.Strings(keys)
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := ConfigSources[key]; ok {
			info = si
		}
		if envKey := envOverride(key); envKey != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		value := v.Get(key)
		if key == "generator.api_key" && v.GetString(key) != "" {
			value = "<redacted>"
		}

		introspection.Settings = append(introspection.Settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}

	return introspection, nil
}

// envOverride returns the environment variable that supplies key, if any
func envOverride(key string) string {
	candidates := append(boundEnv[key], "ONTOGEN_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	for _, envKey := range candidates {
		if _, ok := os.LookupEnv(envKey); ok {
			return envKey
		}
	}
	return ""
}

func recordSources(settings map[string]interface{}, prefix string, source SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			recordSources(nested, fullKey, source)
			continue
		}
		ConfigSources[fullKey] = source
	}
}
