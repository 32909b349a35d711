package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evenscribe/umem/internal/config"
)

var configureShow bool

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write or inspect the configuration file",
	Long: `Write a default configuration file, or print the effective
configuration with --show.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().BoolVar(&configureShow, "show", false, "print the effective configuration")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)

	if configureShow {
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
		return nil
	}

	if err := loader.Save(config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", loader.GetConfigPath())
	return nil
}
