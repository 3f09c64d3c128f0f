package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teranos/ontogen/am"
	"github.com/teranos/ontogen/errors"
)

// AmCmd groups the configuration commands
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate configuration",
	Long: `Show and validate the ontogen configuration.

Configuration sources (later overrides earlier):
1. Built-in defaults
2. User config (~/.ontogen/ontogen.toml)
3. Project config (./ontogen.toml)
4. --config file
5. Environment (ONTOGEN_* , API keys, SEGMENT_START / SEGMENT_SIZE; .env is loaded first)

Examples:
  ontogen am show                    # Show effective configuration as TOML
  ontogen am show --format json
  ontogen am where                   # Show where each setting came from
  ontogen am validate
  ontogen am init                    # Write ./ontogen.toml with the defaults`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate effective configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show the source of every setting",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file holding the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var (
	configFormat string
	initForce    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

// renderConfig encodes cfg in format with the API key redacted
func renderConfig(cfg *am.Config, format string) (string, error) {
	shown := *cfg
	if shown.Generator.APIKey != "" {
		shown.Generator.APIKey = "<redacted>"
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(shown, "", "  ")
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to JSON")
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(shown)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to YAML")
		}
		return "# ontogen configuration\n" + string(data), nil
	case "toml":
		data, err := toml.Marshal(shown)
		if err != nil {
			return "", errors.Wrap(err, "failed to marshal config to TOML")
		}
		return "# ontogen configuration\n" + string(data), nil
	default:
		return "", errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	out, err := renderConfig(cfg, configFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if intro.ConfigFile != "" {
		fmt.Fprintf(w, "Config file: %s\n\n", intro.ConfigFile)
	}
	for _, s := range intro.Settings {
		fmt.Fprintf(w, "%-36s %-24v [%s] %s\n", s.Key, s.Value, s.Source, s.SourcePath)
	}
	return nil
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := "ontogen.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return errors.WithHint(errors.Newf("%s already exists", path), "use --force to overwrite it")
	}

	v := viper.New()
	am.SetDefaults(v)
	defaults, err := am.LoadWithViper(v)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(defaults)
	if err != nil {
		return errors.Wrap(err, "failed to marshal defaults")
	}
	if err := os.WriteFile(path, data, am.DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
	return nil
}
