package main

import (
	"os"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print engine and quota statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEngine(cmd.Context(), cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		return writeJSON(os.Stdout, env.Service.Stats())
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
