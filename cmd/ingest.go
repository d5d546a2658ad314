package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantwell/ingest-cli/internal/geo"
	"github.com/grantwell/ingest-cli/internal/loader"
	"github.com/grantwell/ingest-cli/internal/model"
	"github.com/grantwell/ingest-cli/internal/pipeline"
)

var (
	ingestFilePath   string
	ingestSourceID   string
	ingestSourceName string
	ingestForce      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store opportunities from a JSON, CSV, or XLSX file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opps, err := loader.LoadFile(ingestFilePath)
		if err != nil {
			return eris.Wrap(err, "load file")
		}
		zap.L().Info("loaded opportunities",
			zap.Int("count", len(opps)),
			zap.String("file", ingestFilePath),
		)

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

		p := pipeline.New(st, geoResolver, cfg.Pipeline.BatchSize)
		source := model.SourceRef{ID: ingestSourceID, Name: ingestSourceName}

		out, err := p.StoreOpportunities(ctx, opps, source, ingestForce)
		if err != nil {
			return eris.Wrap(err, "store opportunities")
		}
		if out.Error {
			return eris.Errorf("ingestion aborted: %s", out.ErrorMessage)
		}

		zap.L().Info("ingest complete",
			zap.Int("new", out.Metrics.NewCount),
			zap.Int("updated", out.Metrics.UpdatedCount),
			zap.Int("ignored", out.Metrics.IgnoredCount),
			zap.Int("duplicates", out.Metrics.DuplicateCount),
			zap.Int("failed", out.Metrics.FailedCount),
			zap.Int64("execution_ms", out.ExecutionTimeMS),
		)
		for _, f := range out.Results.Failed {
			zap.L().Warn("failed opportunity",
				zap.String("title", f.Title),
				zap.String("error", f.Err),
			)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFilePath, "file", "", "path to opportunities file (required)")
	ingestCmd.Flags().StringVar(&ingestSourceID, "source-id", "", "source identifier (required)")
	ingestCmd.Flags().StringVar(&ingestSourceName, "source-name", "", "human-readable source name")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "upsert every item, bypassing change detection")
	_ = ingestCmd.MarkFlagRequired("file")
	_ = ingestCmd.MarkFlagRequired("source-id")
	rootCmd.AddCommand(ingestCmd)
}
