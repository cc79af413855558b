package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaz8081/bmslink/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
