package model

// FailedOpportunity records a single item that could not be persisted.
type FailedOpportunity struct {
	Title string `json:"title"`
	ID    string `json:"id,omitempty"`
	Err   string `json:"error"`
}

// BatchResult accumulates per-item outcomes for one batch. A batch's
// result is complete once its fan-out settles; after that it is only ever
// merged into a running total, never mutated.
type BatchResult struct {
	New        []Opportunity       `json:"new_opportunities"`
	Updated    []Opportunity       `json:"updated_opportunities"`
	Ignored    []Opportunity       `json:"ignored_opportunities"`
	Duplicates []Opportunity       `json:"duplicates_found"`
	Failed     []FailedOpportunity `json:"failed_opportunities"`
}

// Merge returns a new BatchResult containing the concatenation of r and
// other. Neither input is modified.
func (r BatchResult) Merge(other BatchResult) BatchResult {
	return BatchResult{
		New:        append(append([]Opportunity(nil), r.New...), other.New...),
		Updated:    append(append([]Opportunity(nil), r.Updated...), other.Updated...),
		Ignored:    append(append([]Opportunity(nil), r.Ignored...), other.Ignored...),
		Duplicates: append(append([]Opportunity(nil), r.Duplicates...), other.Duplicates...),
		Failed:     append(append([]FailedOpportunity(nil), r.Failed...), other.Failed...),
	}
}

// Total returns the number of items accounted for across all buckets.
func (r BatchResult) Total() int {
	return len(r.New) + len(r.Updated) + len(r.Ignored) + len(r.Duplicates) + len(r.Failed)
}

// BatchMetrics summarizes a pipeline run.
type BatchMetrics struct {
	NewCount        int   `json:"new_count"`
	UpdatedCount    int   `json:"updated_count"`
	IgnoredCount    int   `json:"ignored_count"`
	DuplicateCount  int   `json:"duplicate_count"`
	FailedCount     int   `json:"failed_count"`
	TotalProcessed  int   `json:"total_processed"`
	ExecutionTimeMS int64 `json:"execution_time_ms"`
}

// NewBatchMetrics derives metrics from a result and an elapsed duration in
// milliseconds. Execution time is floored at 1ms so a sub-millisecond run
// never reports zero.
func NewBatchMetrics(r BatchResult, elapsedMS int64) BatchMetrics {
	if elapsedMS < 1 {
		elapsedMS = 1
	}
	return BatchMetrics{
		NewCount:        len(r.New),
		UpdatedCount:    len(r.Updated),
		IgnoredCount:    len(r.Ignored),
		DuplicateCount:  len(r.Duplicates),
		FailedCount:     len(r.Failed),
		TotalProcessed:  r.Total(),
		ExecutionTimeMS: elapsedMS,
	}
}

// StoreOutcome is the uniform result of the pipeline's entry point. When
// the storage backend is unreachable, Error is set and the counts are
// zeroed; per-item failures never set Error.
type StoreOutcome struct {
	Results         BatchResult  `json:"results"`
	Metrics         BatchMetrics `json:"metrics"`
	ExecutionTimeMS int64        `json:"execution_time_ms"`
	Error           bool         `json:"error,omitempty"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}
