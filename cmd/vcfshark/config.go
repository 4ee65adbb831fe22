package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configKey describes one recognised setting: its type, bounds and the
// engine behaviour it feeds. Unknown keys and out-of-range values are
// rejected at set time rather than surfacing later as engine contract
// errors.
type configKey struct {
	kind  string // "int" or "bool"
	min   int
	max   int
	usage string
}

var configKeys = map[string]configKey{
	"neglect_limit":       {kind: "int", min: 0, max: 255, usage: "distinct-value threshold for uniform fields (stored as one archive byte)"},
	"threads":             {kind: "int", min: 1, max: 1 << 10, usage: "compression worker threads"},
	"ploidy":              {kind: "int", min: 1, max: 127, usage: "haplotypes per sample"},
	"extra_variants":      {kind: "bool", usage: "accept records with undeclared INFO/FORMAT fields"},
	"store_sample_header": {kind: "bool", usage: "embed the full textual header in the archive"},
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage vcfshark configuration",
		Long:  "Show, get, or set configuration values. Config is stored in ~/.vcfshark.yaml.",
		Example: `  vcfshark config                       # show effective settings
  vcfshark config set threads 16        # use 16 worker threads by default
  vcfshark config get neglect_limit     # get a value`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSet(args[0], args[1])
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigGet(args[0])
		},
	}
}

func sortedConfigKeys() []string {
	names := make([]string, 0, len(configKeys))
	for name := range configKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownKeyError(key string) error {
	return fmt.Errorf("unknown key %q (valid keys: %s)", key, strings.Join(sortedConfigKeys(), ", "))
}

// parseConfigValue validates value against the key's type and bounds
// and returns the typed value to store.
func parseConfigValue(key, value string) (any, error) {
	ck, ok := configKeys[key]
	if !ok {
		return nil, unknownKeyError(key)
	}
	switch ck.kind {
	case "bool":
		switch value {
		case "true", "yes", "on":
			return true, nil
		case "false", "no", "off":
			return false, nil
		}
		return nil, fmt.Errorf("%s expects a boolean (true/false), got %q", key, value)
	default:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", key, value)
		}
		if n < ck.min || n > ck.max {
			return nil, fmt.Errorf("%s must be in [%d, %d], got %d", key, ck.min, ck.max, n)
		}
		return n, nil
	}
}

// runConfigShow prints the effective value of every recognised key,
// defaults included, so the output always documents the full schema.
func runConfigShow() error {
	settings := make(map[string]any, len(configKeys))
	for name, ck := range configKeys {
		if ck.kind == "bool" {
			settings[name] = viper.GetBool(name)
		} else {
			settings[name] = viper.GetInt(name)
		}
	}

	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

func runConfigSet(key, value string) error {
	typed, err := parseConfigValue(key, value)
	if err != nil {
		return err
	}
	viper.Set(key, typed)

	cfgFile := viper.ConfigFileUsed()
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".vcfshark.yaml")
	}

	if err := viper.WriteConfigAs(cfgFile); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Set %s = %v in %s\n", key, typed, cfgFile)
	return nil
}

func runConfigGet(key string) error {
	ck, ok := configKeys[key]
	if !ok {
		return unknownKeyError(key)
	}
	if ck.kind == "bool" {
		fmt.Println(viper.GetBool(key))
	} else {
		fmt.Println(viper.GetInt(key))
	}
	return nil
}
