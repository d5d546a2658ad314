package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchResultMerge(t *testing.T) {
	t.Parallel()

	a := BatchResult{
		New:    []Opportunity{{Title: "a1"}, {Title: "a2"}},
		Failed: []FailedOpportunity{{Title: "a3", Err: "boom"}},
	}
	b := BatchResult{
		New:        []Opportunity{{Title: "b1"}},
		Updated:    []Opportunity{{Title: "b2"}},
		Duplicates: []Opportunity{{Title: "b3"}},
	}

	merged := a.Merge(b)

	assert.Equal(t, []Opportunity{{Title: "a1"}, {Title: "a2"}, {Title: "b1"}}, merged.New)
	assert.Equal(t, []Opportunity{{Title: "b2"}}, merged.Updated)
	assert.Equal(t, []Opportunity{{Title: "b3"}}, merged.Duplicates)
	assert.Len(t, merged.Failed, 1)
	assert.Equal(t, 6, merged.Total())

	// Inputs are untouched.
	assert.Len(t, a.New, 2)
	assert.Empty(t, a.Updated)
	assert.Len(t, b.New, 1)
}

func TestBatchResultMergeWithEmpty(t *testing.T) {
	t.Parallel()

	a := BatchResult{New: []Opportunity{{Title: "a1"}}}

	merged := a.Merge(BatchResult{})
	assert.Equal(t, 1, merged.Total())

	merged = BatchResult{}.Merge(a)
	assert.Equal(t, 1, merged.Total())
}

func TestNewBatchMetrics(t *testing.T) {
	t.Parallel()

	r := BatchResult{
		New:        []Opportunity{{Title: "n"}},
		Updated:    []Opportunity{{Title: "u1"}, {Title: "u2"}},
		Ignored:    []Opportunity{{Title: "i"}},
		Duplicates: []Opportunity{{Title: "d"}},
		Failed:     []FailedOpportunity{{Title: "f", Err: "boom"}},
	}

	m := NewBatchMetrics(r, 42)
	assert.Equal(t, 1, m.NewCount)
	assert.Equal(t, 2, m.UpdatedCount)
	assert.Equal(t, 1, m.IgnoredCount)
	assert.Equal(t, 1, m.DuplicateCount)
	assert.Equal(t, 1, m.FailedCount)
	assert.Equal(t, 6, m.TotalProcessed)
	assert.Equal(t, int64(42), m.ExecutionTimeMS)
}

func TestNewBatchMetricsFloorsExecutionTime(t *testing.T) {
	t.Parallel()

	m := NewBatchMetrics(BatchResult{}, 0)
	assert.Equal(t, int64(1), m.ExecutionTimeMS)
}

func TestNaturalKey(t *testing.T) {
	t.Parallel()

	withExternal := Opportunity{SourceID: "src", ExternalID: "ext-1", Title: "T"}
	key := withExternal.NaturalKey()
	assert.Equal(t, "src", key.SourceID)
	assert.Equal(t, "ext-1", key.ExternalID)

	withoutExternal := Opportunity{SourceID: "src", Title: "T"}
	key = withoutExternal.NaturalKey()
	assert.Empty(t, key.ExternalID)
	assert.Equal(t, "T", key.Title)
}
