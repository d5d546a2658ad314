// Package fundingsource deduplicates the organizational entity an
// opportunity is funded by.
package fundingsource

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/grantwell/ingest-cli/internal/model"
	"github.com/grantwell/ingest-cli/internal/store"
)

// Resolver resolves an opportunity's funding source with get-or-create
// semantics keyed on (name, organization).
type Resolver struct {
	store store.Store
}

// NewResolver creates a funding source resolver.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve looks up the funding source an opportunity belongs to, creating
// it if absent. Concurrent items in the same batch may race to create the
// same new source; the create tolerates a uniqueness
// conflict, which means another item won the race, so the now-existing
// row is re-fetched and used.
func (r *Resolver) Resolve(ctx context.Context, opp *model.Opportunity, source model.SourceRef) (string, error) {
	// The funding source name is the source descriptor's organization;
	// the opportunity narrows it to a sub-organization when it carries one.
	name := strings.TrimSpace(source.Name)
	if name == "" {
		return "", eris.New("fundingsource: source has no name")
	}
	organization := strings.TrimSpace(opp.Organization)

	existing, err := r.store.GetFundingSource(ctx, name, organization)
	if err != nil {
		return "", eris.Wrap(err, "fundingsource: lookup")
	}
	if existing != nil {
		return existing.ID, nil
	}

	fs := &model.FundingSource{
		Name:         name,
		Organization: organization,
	}
	err = r.store.CreateFundingSource(ctx, fs)
	if err == nil {
		zap.L().Info("fundingsource: created",
			zap.String("name", name),
			zap.String("organization", organization),
			zap.String("funding_source_id", fs.ID),
		)
		return fs.ID, nil
	}
	if !store.IsDuplicate(err) {
		return "", eris.Wrap(err, "fundingsource: create")
	}

	// Lost the create race; the row exists now.
	existing, err = r.store.GetFundingSource(ctx, name, organization)
	if err != nil {
		return "", eris.Wrap(err, "fundingsource: refetch after conflict")
	}
	if existing == nil {
		return "", eris.Errorf("fundingsource: %q vanished after conflict", name)
	}
	return existing.ID, nil
}
