package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantwell/ingest-cli/internal/extract"
	"github.com/grantwell/ingest-cli/internal/geo"
	"github.com/grantwell/ingest-cli/internal/model"
	"github.com/grantwell/ingest-cli/internal/pipeline"
	"github.com/grantwell/ingest-cli/pkg/anthropic"
)

var (
	extractFilePath   string
	extractSourceID   string
	extractSourceName string
	extractOutPath    string
	extractForce      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Normalize raw scrape payloads via Claude and store the results",
	Long:  "Reads raw source records from a JSON file, extracts normalized opportunities through the Anthropic API, and either stores them or writes them to a file with --out.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic API key is required (INGEST_ANTHROPIC_KEY)")
		}

		data, err := os.ReadFile(extractFilePath)
		if err != nil {
			return eris.Wrap(err, "read raw records")
		}
		var records []extract.RawRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return eris.Wrap(err, "parse raw records")
		}

		extractor := extract.New(anthropic.NewClient(cfg.Anthropic.Key), extract.Config{
			Model:             cfg.Anthropic.Model,
			TokensPerItem:     cfg.Extract.TokensPerItem,
			OverheadTokens:    cfg.Extract.OverheadTokens,
			RequestsPerSecond: cfg.Extract.RequestsPerSecond,
		})

		source := model.SourceRef{ID: extractSourceID, Name: extractSourceName}
		opps, err := extractor.Extract(ctx, records, source)
		if err != nil {
			return eris.Wrap(err, "extract")
		}
		zap.L().Info("extraction complete",
			zap.Int("raw", len(records)),
			zap.Int("extracted", len(opps)),
		)

		if extractOutPath != "" {
			encoded, err := json.MarshalIndent(opps, "", "  ")
			if err != nil {
				return eris.Wrap(err, "encode output")
			}
			if err := os.WriteFile(extractOutPath, encoded, 0o644); err != nil {
				return eris.Wrap(err, "write output")
			}
			return nil
		}

		st, err := openStore(ctx)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		geoResolver, err := geo.NewResolver()
		if err != nil {
			return eris.Wrap(err, "geo resolver")
		}

		out, err := pipeline.New(st, geoResolver, cfg.Pipeline.BatchSize).
			StoreOpportunities(ctx, opps, source, extractForce)
		if err != nil {
			return eris.Wrap(err, "store opportunities")
		}
		if out.Error {
			return eris.Errorf("storage aborted: %s", out.ErrorMessage)
		}

		zap.L().Info("store complete",
			zap.Int("new", out.Metrics.NewCount),
			zap.Int("updated", out.Metrics.UpdatedCount),
			zap.Int("duplicates", out.Metrics.DuplicateCount),
			zap.Int("failed", out.Metrics.FailedCount),
		)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractFilePath, "file", "", "path to raw records JSON (required)")
	extractCmd.Flags().StringVar(&extractSourceID, "source-id", "", "source identifier (required)")
	extractCmd.Flags().StringVar(&extractSourceName, "source-name", "", "human-readable source name")
	extractCmd.Flags().StringVar(&extractOutPath, "out", "", "write normalized opportunities to this file instead of storing")
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "upsert every item, bypassing change detection")
	_ = extractCmd.MarkFlagRequired("file")
	_ = extractCmd.MarkFlagRequired("source-id")
	rootCmd.AddCommand(extractCmd)
}
