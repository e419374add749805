package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cadre/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify cadre configuration.

Without arguments, displays every effective configuration value.
With one argument (key), displays the value for that key.
With two arguments (key value), writes the value to the user config file.

Configuration is stored at ~/.config/cadre/config.yaml
Project-specific overrides can be placed in .cadre.yaml
Environment variables CADRE_<SECTION>_<KEY> override both.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch len(args) {
		case 0:
			return displayAllConfig(out)
		case 1:
			return displayConfigKey(out, args[0])
		default:
			return setConfigKey(out, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(out io.Writer) error {
	if path := config.ProjectConfigPath(); path != "" {
		fmt.Fprintf(out, "# project config: %s\n", path)
	}
	fmt.Fprintf(out, "# user config: %s\n", config.UserConfigPath())
	for _, key := range config.Keys() {
		value, err := configValue(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", key, value)
	}
	return nil
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(out io.Writer, key string) error {
	value, err := configValue(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, value)
	return nil
}

// setConfigKey validates and saves a configuration value.
func setConfigKey(out io.Writer, key, value string) error {
	if err := config.SetUserValue(key, value); err != nil {
		return err
	}
	if isSecretKey(key) {
		value = config.MaskAPIKey(value)
	}
	fmt.Fprintf(out, "Set %s = %s\n", strings.ToLower(key), value)
	return nil
}

// configValue formats the effective value of key, masking secrets.
func configValue(key string) (string, error) {
	v, err := config.Value(key)
	if err != nil {
		return "", err
	}
	if isSecretKey(key) {
		s, _ := v.(string)
		return config.MaskAPIKey(s), nil
	}
	switch val := v.(type) {
	case []string:
		return "[" + strings.Join(val, ", ") + "]", nil
	case []any:
		parts := make([]string, len(val))
		for i, p := range val {
			parts[i] = fmt.Sprint(p)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return fmt.Sprint(val), nil
	}
}

func isSecretKey(key string) bool {
	return strings.EqualFold(key, "anthropic.api_key")
}
