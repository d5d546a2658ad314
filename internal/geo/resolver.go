package geo

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/grantwell/ingest-cli/internal/model"
	"github.com/grantwell/ingest-cli/internal/store"
)

// Resolver parses eligibility location text and maintains the
// opportunity/state junction rows.
type Resolver struct {
	table aliasTable
}

// NewResolver builds a Resolver from the embedded canonical alias table.
func NewResolver() (*Resolver, error) {
	table, err := loadAliasTable()
	if err != nil {
		return nil, err
	}
	return &Resolver{table: table}, nil
}

// ParseLocations resolves each location string independently against the
// alias table and returns the union of state codes, deduplicated and
// sorted. Unrecognized or empty entries are skipped.
func (r *Resolver) ParseLocations(locations []string) []string {
	seen := make(map[string]bool)
	for _, loc := range locations {
		key := normalizeKey(loc)
		if key == "" {
			continue
		}
		codes, ok := r.table[key]
		if !ok {
			zap.L().Debug("geo: unrecognized location", zap.String("location", loc))
			continue
		}
		for _, c := range codes {
			seen[c] = true
		}
	}

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// StateCodes returns the state codes an opportunity is eligible in. A
// national opportunity short-circuits to none regardless of any location
// text present.
func (r *Resolver) StateCodes(opp *model.Opportunity) []string {
	if opp.IsNational {
		return nil
	}
	return r.ParseLocations(opp.EligibleLocations)
}

// CreateEligibility translates state codes to state rows and writes the
// junction rows. Zero resolvable codes logs a warning and writes nothing;
// it is not an error.
func (r *Resolver) CreateEligibility(ctx context.Context, opportunityID string, codes []string, st store.Store) error {
	if len(codes) == 0 {
		return nil
	}

	states, err := st.GetStatesByCodes(ctx, codes)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		zap.L().Warn("geo: no state rows resolved for codes",
			zap.String("opportunity_id", opportunityID),
			zap.Strings("codes", codes),
		)
		return nil
	}

	ids := make([]int64, len(states))
	for i, s := range states {
		ids[i] = s.ID
	}
	return st.InsertEligibility(ctx, opportunityID, ids)
}

// ClearEligibility removes all junction rows for an opportunity.
func (r *Resolver) ClearEligibility(ctx context.Context, opportunityID string, st store.Store) error {
	return st.DeleteEligibility(ctx, opportunityID)
}

// UpdateEligibility is a clear-then-recreate sequence. It is not atomic:
// a concurrent reader can observe an empty eligibility set between the
// two steps.
func (r *Resolver) UpdateEligibility(ctx context.Context, opportunityID string, opp *model.Opportunity, st store.Store) error {
	if err := r.ClearEligibility(ctx, opportunityID, st); err != nil {
		return err
	}
	return r.CreateEligibility(ctx, opportunityID, r.StateCodes(opp), st)
}

// ValidationResult reports the outcome of an eligibility invariant check.
type ValidationResult struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
}

// ValidateEligibility checks the invariant: a national opportunity has
// exactly zero eligibility rows, a non-national one has at least one.
func (r *Resolver) ValidateEligibility(ctx context.Context, opportunityID string, isNational bool, st store.Store) (ValidationResult, error) {
	n, err := st.CountEligibility(ctx, opportunityID)
	if err != nil {
		return ValidationResult{}, err
	}

	switch {
	case isNational && n > 0:
		return ValidationResult{Error: "national opportunity has state eligibility rows"}, nil
	case !isNational && n == 0:
		return ValidationResult{Error: "non-national opportunity has no state eligibility rows"}, nil
	default:
		return ValidationResult{IsValid: true}, nil
	}
}
