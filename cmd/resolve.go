package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resolveSite string

var resolveCmd = &cobra.Command{
	Use:   "resolve NAME",
	Short: "Resolve one company to an address",
	Example: `  geolookup resolve "Tata Consultancy Services Ltd." --site "Pune, India"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx, cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Service.Resolve(ctx, args[0], resolveSite)
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		zap.L().Info("resolved",
			zap.String("company", args[0]),
			zap.String("tier", string(rec.SourceTier)),
			zap.Float64("confidence", rec.Confidence),
		)
		return writeJSON(os.Stdout, rec)
	},
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	resolveCmd.Flags().StringVar(&resolveSite, "site", "", `site hint such as "Pune, India"`)
	rootCmd.AddCommand(resolveCmd)
}
