// Package store persists opportunities, funding sources, and state
// eligibility rows. Two drivers are provided: Postgres for production and
// SQLite for local runs.
package store

import (
	"context"
	"errors"

	"github.com/grantwell/ingest-cli/internal/model"
)

// ErrDuplicate is returned when an insert violates a natural-key or
// funding-source uniqueness constraint. Callers treat it as a signal to
// re-fetch, not as a failure.
var ErrDuplicate = errors.New("store: duplicate key")

// IsDuplicate reports whether the error chain contains ErrDuplicate.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// Store defines the persistence operations the ingestion pipeline needs.
// Implementations must be safe for concurrent use: items within a batch
// fan out against a single shared handle.
type Store interface {
	// Opportunities
	InsertOpportunity(ctx context.Context, opp *model.Opportunity) error
	UpsertOpportunity(ctx context.Context, opp *model.Opportunity) (created bool, err error)
	UpdateOpportunity(ctx context.Context, opp *model.Opportunity) error
	GetOpportunityByNaturalKey(ctx context.Context, key model.NaturalKey) (*model.Opportunity, error)
	GetOpportunityByID(ctx context.Context, id string) (*model.Opportunity, error)

	// Funding sources
	GetFundingSource(ctx context.Context, name, organization string) (*model.FundingSource, error)
	CreateFundingSource(ctx context.Context, fs *model.FundingSource) error

	// State eligibility
	GetStatesByCodes(ctx context.Context, codes []string) ([]model.State, error)
	InsertEligibility(ctx context.Context, opportunityID string, stateIDs []int64) error
	DeleteEligibility(ctx context.Context, opportunityID string) error
	CountEligibility(ctx context.Context, opportunityID string) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
