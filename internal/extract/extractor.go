// Package extract turns raw source API payloads into normalized, scored
// opportunities via the Anthropic API. Batch shape is governed by the
// batchsize calculator so a single call never overruns the model's token
// budget.
package extract

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/grantwell/ingest-cli/internal/batchsize"
	"github.com/grantwell/ingest-cli/internal/model"
	"github.com/grantwell/ingest-cli/internal/resilience"
	"github.com/grantwell/ingest-cli/pkg/anthropic"
)

// RawRecord is one unprocessed record from a source API response.
type RawRecord struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// Config shapes extraction calls.
type Config struct {
	Model             string
	TokensPerItem     int
	OverheadTokens    int
	RequestsPerSecond float64
}

// Extractor batches raw records into model calls and parses the
// structured output.
type Extractor struct {
	client  anthropic.Client
	cfg     Config
	limiter *rate.Limiter
}

// New creates an Extractor.
func New(client anthropic.Client, cfg Config) *Extractor {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	return &Extractor{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

const systemPrompt = `You normalize scraped funding-opportunity records.
For each input record, emit one JSON object with fields: raw_response_id,
external_id, title, description, funding_type, status, amount_min,
amount_max, total_funding, open_date (ISO 8601), close_date (ISO 8601),
eligible_locations (array of strings), is_national (bool), organization,
and scoring {relevance, feasibility, award_size, overall}, each score in
[0,1]. Respond with a JSON array only, no prose.`

// Extract normalizes all records. Calls are rate limited and retried on
// transient failures; a chunk that still fails is logged and skipped so
// one bad call does not discard the rest of the scrape.
func (e *Extractor) Extract(ctx context.Context, records []RawRecord, source model.SourceRef) ([]model.Opportunity, error) {
	if len(records) == 0 {
		return nil, nil
	}

	calc := batchsize.Calculate(e.cfg.Model, avgPayloadLength(records), e.cfg.TokensPerItem, e.cfg.OverheadTokens)
	zap.L().Info("extract: batch size computed",
		zap.String("model", e.cfg.Model),
		zap.Int("batch_size", calc.BatchSize),
		zap.Int("max_tokens", calc.MaxTokens),
		zap.String("reason", calc.Reason),
	)

	var out []model.Opportunity
	var failedChunks int
	for lo := 0; lo < len(records); lo += calc.BatchSize {
		hi := min(lo+calc.BatchSize, len(records))

		opps, err := e.extractChunk(ctx, records[lo:hi], calc.MaxTokens, source)
		if err != nil {
			failedChunks++
			zap.L().Warn("extract: chunk failed",
				zap.Int("offset", lo),
				zap.Int("size", hi-lo),
				zap.Error(err),
			)
			continue
		}
		out = append(out, opps...)
	}

	if len(out) == 0 && failedChunks > 0 {
		return nil, eris.Errorf("extract: all %d chunks failed", failedChunks)
	}
	return out, nil
}

func (e *Extractor) extractChunk(ctx context.Context, chunk []RawRecord, maxTokens int, source model.SourceRef) ([]model.Opportunity, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	input, err := json.Marshal(chunk)
	if err != nil {
		return nil, eris.Wrap(err, "extract: marshal chunk")
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("anthropic", "extract")

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: int64(maxTokens),
			System:    systemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: string(input)}},
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogUsage(e.cfg.Model, "extract")

	return parseResponse(resp, source)
}

// extractedRecord is the model's output shape for one opportunity.
type extractedRecord struct {
	RawResponseID     string        `json:"raw_response_id"`
	ExternalID        string        `json:"external_id"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	FundingType       string        `json:"funding_type"`
	Status            string        `json:"status"`
	AmountMin         *float64      `json:"amount_min"`
	AmountMax         *float64      `json:"amount_max"`
	TotalFunding      *float64      `json:"total_funding"`
	OpenDate          *time.Time    `json:"open_date"`
	CloseDate         *time.Time    `json:"close_date"`
	EligibleLocations []string      `json:"eligible_locations"`
	IsNational        bool          `json:"is_national"`
	Organization      string        `json:"organization"`
	Scoring           model.Scoring `json:"scoring"`
}

func parseResponse(resp *anthropic.MessageResponse, source model.SourceRef) ([]model.Opportunity, error) {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	raw := strings.TrimSpace(text.String())
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var extracted []extractedRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &extracted); err != nil {
		return nil, eris.Wrap(err, "extract: parse model output")
	}

	opps := make([]model.Opportunity, 0, len(extracted))
	for _, rec := range extracted {
		opps = append(opps, model.Opportunity{
			ExternalID:        rec.ExternalID,
			Title:             strings.TrimSpace(rec.Title),
			Description:       rec.Description,
			FundingType:       rec.FundingType,
			Status:            rec.Status,
			AmountMin:         rec.AmountMin,
			AmountMax:         rec.AmountMax,
			TotalFunding:      rec.TotalFunding,
			OpenDate:          rec.OpenDate,
			CloseDate:         rec.CloseDate,
			EligibleLocations: rec.EligibleLocations,
			IsNational:        rec.IsNational,
			Organization:      rec.Organization,
			Scoring:           clampScoring(rec.Scoring),
			SourceID:          source.ID,
			RawResponseID:     rec.RawResponseID,
		})
	}
	return opps, nil
}

func clampScoring(s model.Scoring) model.Scoring {
	return model.Scoring{
		Relevance:   clamp01(s.Relevance),
		Feasibility: clamp01(s.Feasibility),
		AwardSize:   clamp01(s.AwardSize),
		Overall:     clamp01(s.Overall),
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func avgPayloadLength(records []RawRecord) int {
	total := 0
	for _, r := range records {
		total += len(r.Payload)
	}
	return total / len(records)
}
