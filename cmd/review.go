package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geolookup/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and resolve the manual review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print pending review items, oldest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEngine(cmd.Context(), cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		return writeJSON(os.Stdout, env.Service.ListReviewQueue())
	},
}

var (
	reviewAddress string
	reviewLat     float64
	reviewLng     float64
	reviewPlaceID string
	reviewNotes   string
)

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve KEY",
	Short: "Apply a corrected address to a review item",
	Long: `Stores the corrected address as a golden mapping for KEY (as printed by
"review list"). With --lat/--lng and no --address the address is filled in
by reverse geocoding.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		corrected := model.AddressRecord{
			FormattedAddress: reviewAddress,
			Latitude:         reviewLat,
			Longitude:        reviewLng,
			PlaceID:          reviewPlaceID,
			Notes:            reviewNotes,
		}
		if corrected.FormattedAddress == "" && corrected.Latitude == 0 && corrected.Longitude == 0 {
			return eris.New("review resolve: --address or --lat/--lng is required")
		}

		env, err := initEngine(ctx, cfg, "resolve")
		if err != nil {
			return err
		}
		defer env.Close()

		key := model.ParseKey(args[0])
		if err := env.Service.ResolveReviewItem(ctx, key, corrected); err != nil {
			return err
		}
		zap.L().Info("review item resolved", zap.String("key", key.String()))
		return nil
	},
}

func init() {
	f := reviewResolveCmd.Flags()
	f.StringVar(&reviewAddress, "address", "", "corrected formatted address")
	f.Float64Var(&reviewLat, "lat", 0, "corrected latitude")
	f.Float64Var(&reviewLng, "lng", 0, "corrected longitude")
	f.StringVar(&reviewPlaceID, "place-id", "", "provider place id")
	f.StringVar(&reviewNotes, "notes", "", "reviewer notes")

	reviewCmd.AddCommand(reviewListCmd, reviewResolveCmd)
	rootCmd.AddCommand(reviewCmd)
}
