package cmd

import (
	"fmt"

	cfgpkg "github.com/KaramelBytes/gemdash-cli/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set gemdash configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		c, err := requireConfig()
		if err != nil {
			fmt.Fprintf(out, "No config loaded: %v\n", err)
			return nil
		}
		for _, k := range cfgpkg.Keys {
			fmt.Fprintf(out, "%s: %s\n", k, c.Get(k))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		// edit the file alone so flag and env overrides are not persisted
		c, err := cfgpkg.LoadFile(cfgFile)
		if err != nil {
			return err
		}
		if err := c.Set(key, val); err != nil {
			return err
		}
		if err := cfgpkg.Save(c, cfgFile); err != nil {
			return err
		}
		if cfg != nil {
			_ = cfg.Set(key, val)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s: %s\n", key, c.Get(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
