package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grantwell/ingest-cli/internal/batchsize"
)

var (
	batchsizeModel      string
	batchsizeItemLength int
)

var batchsizeCmd = &cobra.Command{
	Use:   "batchsize",
	Short: "Show the computed extraction batch size for a model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		model := batchsizeModel
		if model == "" {
			model = cfg.Anthropic.Model
		}

		result := batchsize.Calculate(model, batchsizeItemLength,
			cfg.Extract.TokensPerItem, cfg.Extract.OverheadTokens)

		fmt.Printf("model:       %s\n", model)
		fmt.Printf("batch_size:  %d\n", result.BatchSize)
		fmt.Printf("max_tokens:  %d\n", result.MaxTokens)
		fmt.Printf("reason:      %s\n", result.Reason)
		return nil
	},
}

var batchsizeModelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models with known token capacities",
	Run: func(cmd *cobra.Command, _ []string) {
		for _, m := range batchsize.KnownModels() {
			fmt.Println(m)
		}
	},
}

func init() {
	batchsizeCmd.Flags().StringVar(&batchsizeModel, "model", "", "model name (defaults to configured model)")
	batchsizeCmd.Flags().IntVar(&batchsizeItemLength, "item-length", 1000, "average item description length in characters")
	batchsizeCmd.AddCommand(batchsizeModelsCmd)
	rootCmd.AddCommand(batchsizeCmd)
}
