package am

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/teranos/ontogen/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// explicitConfigFile is set by --config and takes precedence over discovered files
var explicitConfigFile string

// dotenvPath is loaded into the process environment before viper reads it
var dotenvPath = ".env"

// SetConfigFile selects an explicit TOML file. Call before Load.
func SetConfigFile(path string) {
	explicitConfigFile = path
	globalConfig = nil
	viperInstance = nil
}

// Load reads the ontogen configuration using Viper.
// Precedence (lowest to highest): defaults < user file < project file < --config < environment.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v, err := initViper()
	if err != nil {
		return nil, err
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if config.Generator.APIKey == "" {
		config.Generator.APIKey = vendorAPIKey(config.Generator.BaseURL)
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() (*viper.Viper, error) {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, ignoring the environment
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config from %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	explicitConfigFile = ""
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults
func initViper() (*viper.Viper, error) {
	if viperInstance != nil {
		return viperInstance, nil
	}

	// .env never overrides variables already present in the environment
	if _, err := os.Stat(dotenvPath); err == nil {
		if err := godotenv.Load(dotenvPath); err != nil {
			return nil, errors.Wrapf(err, "failed to load %s", dotenvPath)
		}
	}

	v := viper.New()

	v.SetEnvPrefix("ONTOGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)

	SetDefaults(v)

	if err := mergeConfigFiles(v); err != nil {
		return nil, err
	}

	viperInstance = v
	return v, nil
}

// configCandidates lists config files in ascending precedence with their source kind
func configCandidates() []SourceInfo {
	var candidates []SourceInfo
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, SourceInfo{
			Source: SourceUser,
			Path:   filepath.Join(homeDir, ".ontogen", "ontogen.toml"),
		})
	}
	candidates = append(candidates, SourceInfo{Source: SourceProject, Path: "ontogen.toml"})
	return candidates
}

// mergeConfigFiles merges configuration files in precedence order.
// Discovered files that fail to parse are skipped; an explicit --config file must load.
func mergeConfigFiles(v *viper.Viper) error {
	ConfigSources = map[string]SourceInfo{}

	for _, candidate := range configCandidates() {
		if _, err := os.Stat(candidate.Path); err != nil {
			continue
		}
		_ = mergeFile(v, candidate)
	}

	if explicitConfigFile != "" {
		if err := mergeFile(v, SourceInfo{Source: SourceExplicit, Path: explicitConfigFile}); err != nil {
			return errors.WithHint(
				errors.Wrapf(err, "failed to read config file %s", explicitConfigFile),
				"--config must point to a readable TOML file",
			)
		}
		v.SetConfigFile(explicitConfigFile)
	}
	return nil
}

func mergeFile(v *viper.Viper, source SourceInfo) error {
	tempViper := viper.New()
	tempViper.SetConfigFile(source.Path)
	tempViper.SetConfigType("toml")

	if err := tempViper.ReadInConfig(); err != nil {
		return err
	}

	settings := tempViper.AllSettings()
	// MergeConfigMap keeps environment variables above file values
	if err := v.MergeConfigMap(settings); err != nil {
		return err
	}
	recordSources(settings, "", source)
	return nil
}

// Get returns a configuration value using dot notation
func Get(key string) interface{} {
	v, err := initViper()
	if err != nil {
		return nil
	}
	return v.Get(key)
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	v, err := initViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	v, err := initViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}
