// Package batchsize computes how many raw opportunity records a single
// extraction call may carry, balancing the model's output-token capacity
// against content complexity and a practical latency ceiling.
package batchsize

// modelCapacities maps model IDs to their maximum output-token capacity.
var modelCapacities = map[string]int{
	"claude-haiku-4-5-20251001":  8192,
	"claude-sonnet-4-5-20250929": 64000,
	"claude-opus-4-6":            32000,
}

// referenceCapacity is the baseline against which per-tier complexity
// caps are scaled: a model with twice the reference capacity gets twice
// the tier cap.
const referenceCapacity = 8192

// practicalTokenCeiling bounds a single call's token budget regardless of
// model capacity, keeping call latency predictable.
const practicalTokenCeiling = 24000

// Default request shape when the caller passes zero values.
const (
	DefaultTokensPerItem  = 600
	DefaultOverheadTokens = 500
)

// fallbackBatchSize is used for models missing from the capacity table.
const fallbackBatchSize = 5

// Content-complexity tiers, bucketed by average content length in
// characters. Longer content produces longer structured output per item,
// so the per-call item cap shrinks.
var tiers = []struct {
	maxContentLength int
	itemCap          int
	name             string
}{
	{500, 20, "short"},
	{1500, 12, "medium"},
	{3000, 8, "long"},
	{1 << 31, 4, "very_long"},
}

// Result is the outcome of a batch size calculation.
type Result struct {
	BatchSize int    `json:"batch_size"`
	MaxTokens int    `json:"max_tokens"`
	Reason    string `json:"reason"`
}

// Calculate returns the optimal batch size for the addressed model given
// the average content length of the pending records. tokensPerItem and
// overheadTokens fall back to defaults when zero or negative.
//
// Guarantees: BatchSize >= 1 always; MaxTokens never exceeds
// min(model capacity, practical ceiling); for fixed content length a
// higher-capacity model never yields a smaller batch size until the
// ceiling binds; for a fixed model a longer-content tier never yields a
// larger batch size.
func Calculate(modelID string, avgContentLength, tokensPerItem, overheadTokens int) Result {
	if tokensPerItem <= 0 {
		tokensPerItem = DefaultTokensPerItem
	}
	if overheadTokens < 0 {
		overheadTokens = DefaultOverheadTokens
	}

	capacity, known := modelCapacities[modelID]
	if !known {
		size := fallbackBatchSize
		return Result{
			BatchSize: size,
			MaxTokens: clampTokens(size*tokensPerItem+overheadTokens, practicalTokenCeiling),
			Reason:    "fallback",
		}
	}

	theoretical := (capacity - overheadTokens) / tokensPerItem
	if theoretical < 1 {
		theoretical = 1
	}

	tierCap, tierName := complexityCap(avgContentLength, capacity)

	size := theoretical
	reason := "theoretical_max"
	if tierCap < size {
		size = tierCap
		reason = "complexity_capped:" + tierName
	}
	if size < 1 {
		size = 1
	}

	// Practical ceiling: shrink the batch until the requested budget fits.
	if size*tokensPerItem+overheadTokens > practicalTokenCeiling {
		size = (practicalTokenCeiling - overheadTokens) / tokensPerItem
		if size < 1 {
			size = 1
		}
		reason = "time_limited"
	}

	limit := capacity
	if practicalTokenCeiling < limit {
		limit = practicalTokenCeiling
	}

	return Result{
		BatchSize: size,
		MaxTokens: clampTokens(size*tokensPerItem+overheadTokens, limit),
		Reason:    reason,
	}
}

// complexityCap selects the content tier for avgContentLength and scales
// its cap by the model's capacity relative to the reference model.
func complexityCap(avgContentLength, capacity int) (int, string) {
	for _, t := range tiers {
		if avgContentLength <= t.maxContentLength {
			scaled := t.itemCap * capacity / referenceCapacity
			if scaled < 1 {
				scaled = 1
			}
			return scaled, t.name
		}
	}
	// Unreachable: the last tier's bound covers all lengths.
	return 1, "very_long"
}

func clampTokens(tokens, limit int) int {
	if tokens > limit {
		return limit
	}
	return tokens
}

// KnownModels returns the model IDs with a configured capacity.
func KnownModels() []string {
	out := make([]string, 0, len(modelCapacities))
	for id := range modelCapacities {
		out = append(out, id)
	}
	return out
}
