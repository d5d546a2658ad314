package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantwell/ingest-cli/internal/geo"
)

var geoCmd = &cobra.Command{
	Use:   "geo",
	Short: "Geographic eligibility tools",
}

var geoParseCmd = &cobra.Command{
	Use:   "parse [location ...]",
	Short: "Resolve location strings to state codes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := geo.NewResolver()
		if err != nil {
			return eris.Wrap(err, "geo resolver")
		}

		codes := resolver.ParseLocations(args)
		fmt.Println(strings.Join(codes, " "))
		return nil
	},
}

var geoValidateID string

var geoValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a stored opportunity's eligibility rows for consistency",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		resolver, err := geo.NewResolver()
		if err != nil {
			return eris.Wrap(err, "geo resolver")
		}

		opp, err := st.GetOpportunityByID(ctx, geoValidateID)
		if err != nil {
			return eris.Wrap(err, "get opportunity")
		}
		if opp == nil {
			return eris.Errorf("opportunity %s not found", geoValidateID)
		}

		result, err := resolver.ValidateEligibility(ctx, opp.ID, opp.IsNational, st)
		if err != nil {
			return eris.Wrap(err, "validate eligibility")
		}
		if !result.IsValid {
			zap.L().Warn("eligibility invalid",
				zap.String("opportunity_id", opp.ID),
				zap.String("reason", result.Error),
			)
			return eris.New(result.Error)
		}

		zap.L().Info("eligibility valid", zap.String("opportunity_id", opp.ID))
		return nil
	},
}

func init() {
	geoValidateCmd.Flags().StringVar(&geoValidateID, "id", "", "opportunity ID (required)")
	_ = geoValidateCmd.MarkFlagRequired("id")

	geoCmd.AddCommand(geoParseCmd)
	geoCmd.AddCommand(geoValidateCmd)
	rootCmd.AddCommand(geoCmd)
}
