package batchsize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	haiku  = "claude-haiku-4-5-20251001"
	sonnet = "claude-sonnet-4-5-20250929"
	opus   = "claude-opus-4-6"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		model         string
		avgLen        int
		wantSize      int
		wantMaxTokens int
		wantReason    string
	}{
		{
			name:          "haiku medium content hits theoretical max",
			model:         haiku,
			avgLen:        1000,
			wantSize:      12,
			wantMaxTokens: 7700,
			wantReason:    "theoretical_max",
		},
		{
			name:          "haiku short content still theoretical max",
			model:         haiku,
			avgLen:        400,
			wantSize:      12,
			wantMaxTokens: 7700,
			wantReason:    "theoretical_max",
		},
		{
			name:          "haiku very long content complexity capped",
			model:         haiku,
			avgLen:        5000,
			wantSize:      4,
			wantMaxTokens: 2900,
			wantReason:    "complexity_capped:very_long",
		},
		{
			name:          "sonnet medium content bound by practical ceiling",
			model:         sonnet,
			avgLen:        1000,
			wantSize:      39,
			wantMaxTokens: 23900,
			wantReason:    "time_limited",
		},
		{
			name:          "opus long content complexity capped with scaled tier",
			model:         opus,
			avgLen:        2000,
			wantSize:      31,
			wantMaxTokens: 19100,
			wantReason:    "complexity_capped:long",
		},
		{
			name:          "unknown model falls back",
			model:         "claude-2.1",
			avgLen:        1000,
			wantSize:      5,
			wantMaxTokens: 3500,
			wantReason:    "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Calculate(tt.model, tt.avgLen, 600, 500)
			assert.Equal(t, tt.wantSize, got.BatchSize)
			assert.Equal(t, tt.wantMaxTokens, got.MaxTokens)
			assert.Equal(t, tt.wantReason, got.Reason)
		})
	}
}

func TestCalculateDefaults(t *testing.T) {
	t.Parallel()

	explicit := Calculate(haiku, 1000, DefaultTokensPerItem, DefaultOverheadTokens)
	defaulted := Calculate(haiku, 1000, 0, -1)
	assert.Equal(t, explicit, defaulted)
}

func TestBatchSizeNeverBelowOne(t *testing.T) {
	t.Parallel()

	// Per-item cost larger than the whole capacity still yields one item.
	got := Calculate(haiku, 1000, 10000, 500)
	assert.Equal(t, 1, got.BatchSize)
	assert.LessOrEqual(t, got.MaxTokens, 8192)
}

func TestMaxTokensNeverExceedsCapacityOrCeiling(t *testing.T) {
	t.Parallel()

	for _, model := range KnownModels() {
		for _, avgLen := range []int{100, 1000, 2500, 10000} {
			got := Calculate(model, avgLen, 600, 500)
			assert.LessOrEqual(t, got.MaxTokens, practicalTokenCeiling, "model %s avgLen %d", model, avgLen)
			assert.LessOrEqual(t, got.MaxTokens, modelCapacities[model], "model %s avgLen %d", model, avgLen)
			assert.GreaterOrEqual(t, got.BatchSize, 1)
		}
	}
}

func TestCapacityMonotonicity(t *testing.T) {
	t.Parallel()

	// For fixed content, a higher-capacity model never yields a smaller batch.
	for _, avgLen := range []int{400, 1000, 2000, 5000} {
		h := Calculate(haiku, avgLen, 600, 500).BatchSize
		o := Calculate(opus, avgLen, 600, 500).BatchSize
		s := Calculate(sonnet, avgLen, 600, 500).BatchSize
		assert.LessOrEqual(t, h, o, "avgLen %d", avgLen)
		assert.LessOrEqual(t, o, s, "avgLen %d", avgLen)
	}
}

func TestComplexityMonotonicity(t *testing.T) {
	t.Parallel()

	// For a fixed model, longer content never yields a larger batch.
	for _, model := range KnownModels() {
		prev := Calculate(model, 100, 600, 500).BatchSize
		for _, avgLen := range []int{1000, 2000, 5000} {
			cur := Calculate(model, avgLen, 600, 500).BatchSize
			assert.LessOrEqual(t, cur, prev, "model %s avgLen %d", model, avgLen)
			prev = cur
		}
	}
}
