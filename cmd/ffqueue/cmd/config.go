package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for inspecting the resolved client configuration.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
FFQUEUE_* environment variables and flags. The API key is masked.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := cfg
	if shown.APIKey != "" {
		shown.APIKey = "********"
	}
	if done, err := printStructured(cmd.OutOrStdout(), shown); done {
		return err
	}

	out, err := yaml.Marshal(shown)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", used)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
