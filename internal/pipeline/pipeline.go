// Package pipeline is the batch ingestion/storage orchestrator: it takes
// a list of normalized opportunities and a source descriptor and durably,
// idempotently writes them, resolving funding sources and geographic
// eligibility along the way.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/grantwell/ingest-cli/internal/change"
	"github.com/grantwell/ingest-cli/internal/fundingsource"
	"github.com/grantwell/ingest-cli/internal/geo"
	"github.com/grantwell/ingest-cli/internal/model"
	"github.com/grantwell/ingest-cli/internal/resilience"
	"github.com/grantwell/ingest-cli/internal/store"
)

// DefaultBatchSize bounds how many items fan out concurrently against the
// store at any instant. Batches run sequentially.
const DefaultBatchSize = 10

// ValidationError reports malformed call arguments. It is returned before
// any I/O happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "pipeline: invalid input: " + e.Msg
}

// Pipeline orchestrates batch storage of opportunities.
type Pipeline struct {
	store     store.Store
	geo       *geo.Resolver
	sources   *fundingsource.Resolver
	batchSize int
}

// New creates a Pipeline around an explicitly constructed store handle.
// The handle is shared by all concurrent item tasks and must be safe for
// concurrent use.
func New(st store.Store, geoResolver *geo.Resolver, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		store:     st,
		geo:       geoResolver,
		sources:   fundingsource.NewResolver(st),
		batchSize: batchSize,
	}
}

// itemKind classifies a processed item into its result bucket.
type itemKind int

const (
	kindNew itemKind = iota
	kindUpdated
	kindIgnored
	kindDuplicate
	kindFailed
)

type itemOutcome struct {
	kind   itemKind
	opp    model.Opportunity
	failed model.FailedOpportunity
}

// StoreOpportunities stores a full scrape worth of opportunities.
//
// Batches run sequentially; items within a batch run concurrently with no
// early cancellation of siblings on a per-item failure. Per-item failures
// are captured into the result, never thrown. Only an unreachable storage
// backend aborts the run, and even that is converted into an
// error-flagged, zeroed outcome rather than an error return. The only
// error return is a *ValidationError, produced before any I/O.
func (p *Pipeline) StoreOpportunities(ctx context.Context, opps []model.Opportunity, source model.SourceRef, forceFullProcessing bool) (*model.StoreOutcome, error) {
	if source.ID == "" {
		return nil, &ValidationError{Msg: "source must carry an identifier"}
	}

	start := time.Now()
	log := zap.L().With(
		zap.String("source_id", source.ID),
		zap.String("source", source.Name),
		zap.Bool("force", forceFullProcessing),
	)

	if len(opps) == 0 {
		log.Info("pipeline: nothing to store")
		return outcome(model.BatchResult{}, start), nil
	}

	log.Info("pipeline: storing opportunities",
		zap.Int("count", len(opps)),
		zap.Int("batch_size", p.batchSize),
	)

	var total model.BatchResult
	for batchIdx := 0; batchIdx*p.batchSize < len(opps); batchIdx++ {
		lo := batchIdx * p.batchSize
		hi := min(lo+p.batchSize, len(opps))

		batchResult, err := p.processBatch(ctx, opps[lo:hi], source, forceFullProcessing)
		if err != nil {
			// Storage backend unreachable: abort remaining batches and
			// surface a single error-flagged, zeroed result.
			log.Error("pipeline: storage unavailable, aborting",
				zap.Int("batch", batchIdx),
				zap.Error(err),
			)
			out := outcome(model.BatchResult{}, start)
			out.Error = true
			out.ErrorMessage = err.Error()
			return out, nil
		}

		// The batch result is complete here; merging is append-only.
		total = total.Merge(batchResult)
		log.Debug("pipeline: batch complete",
			zap.Int("batch", batchIdx),
			zap.Int("items", hi-lo),
			zap.Int("failed", len(batchResult.Failed)),
		)
	}

	out := outcome(total, start)
	log.Info("pipeline: done",
		zap.Int("new", out.Metrics.NewCount),
		zap.Int("updated", out.Metrics.UpdatedCount),
		zap.Int("ignored", out.Metrics.IgnoredCount),
		zap.Int("duplicates", out.Metrics.DuplicateCount),
		zap.Int("failed", out.Metrics.FailedCount),
		zap.Int64("execution_ms", out.ExecutionTimeMS),
	)
	return out, nil
}

// processBatch fans out every item in the batch concurrently and reduces
// the settled outcomes into a BatchResult strictly after the fan-out
// completes. The returned error is non-nil only for a fatal
// infrastructure fault.
func (p *Pipeline) processBatch(ctx context.Context, batch []model.Opportunity, source model.SourceRef, force bool) (model.BatchResult, error) {
	outcomes := make([]itemOutcome, len(batch))

	g, gCtx := errgroup.WithContext(ctx)
	for i := range batch {
		g.Go(func() error {
			oc, fatal := p.processItem(gCtx, batch[i], source, force)
			outcomes[i] = oc
			return fatal
		})
	}
	if err := g.Wait(); err != nil {
		return model.BatchResult{}, err
	}

	var result model.BatchResult
	for _, oc := range outcomes {
		switch oc.kind {
		case kindNew:
			result.New = append(result.New, oc.opp)
		case kindUpdated:
			result.Updated = append(result.Updated, oc.opp)
		case kindIgnored:
			result.Ignored = append(result.Ignored, oc.opp)
		case kindDuplicate:
			result.Duplicates = append(result.Duplicates, oc.opp)
		case kindFailed:
			result.Failed = append(result.Failed, oc.failed)
		}
	}
	return result, nil
}

// processItem stores a single opportunity. All per-item errors are
// captured into the outcome; the error return is reserved for a storage
// backend that cannot be reached at all.
func (p *Pipeline) processItem(ctx context.Context, opp model.Opportunity, source model.SourceRef, force bool) (itemOutcome, error) {
	if opp.Title == "" {
		zap.L().Warn("pipeline: skipping untitled opportunity",
			zap.String("external_id", opp.ExternalID),
		)
		return itemOutcome{kind: kindIgnored, opp: opp}, nil
	}
	opp.SourceID = source.ID

	fsID, err := p.sources.Resolve(ctx, &opp, source)
	if err != nil {
		return p.failItem(opp, err)
	}
	opp.FundingSourceID = fsID

	if force {
		return p.upsertItem(ctx, opp)
	}
	return p.insertItem(ctx, opp)
}

// insertItem is the default path: insert, and on a natural-key conflict
// let the change detector decide between an update write and a no-op.
func (p *Pipeline) insertItem(ctx context.Context, opp model.Opportunity) (itemOutcome, error) {
	err := p.store.InsertOpportunity(ctx, &opp)
	if err == nil {
		p.linkEligibility(ctx, &opp, false)
		return itemOutcome{kind: kindNew, opp: opp}, nil
	}
	if !store.IsDuplicate(err) {
		return p.failItem(opp, err)
	}

	existing, getErr := p.store.GetOpportunityByNaturalKey(ctx, opp.NaturalKey())
	if getErr != nil {
		return p.failItem(opp, getErr)
	}
	if existing == nil {
		return p.failItem(opp, err)
	}

	if !change.IsMaterial(existing, &opp) {
		zap.L().Debug("pipeline: duplicate without material change",
			zap.String("title", opp.Title),
			zap.String("id", existing.ID),
		)
		opp.ID = existing.ID
		return itemOutcome{kind: kindDuplicate, opp: opp}, nil
	}

	changes := change.Describe(existing, &opp)
	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	zap.L().Info("pipeline: material change detected",
		zap.String("title", opp.Title),
		zap.String("id", existing.ID),
		zap.Strings("fields", fields),
	)

	opp.ID = existing.ID
	opp.CreatedAt = existing.CreatedAt
	if updateErr := p.store.UpdateOpportunity(ctx, &opp); updateErr != nil {
		return p.failItem(opp, updateErr)
	}
	p.linkEligibility(ctx, &opp, true)
	return itemOutcome{kind: kindUpdated, opp: opp}, nil
}

// upsertItem is the force-full-processing path: overwrite whatever row
// holds the natural key.
func (p *Pipeline) upsertItem(ctx context.Context, opp model.Opportunity) (itemOutcome, error) {
	created, err := p.store.UpsertOpportunity(ctx, &opp)
	if err != nil {
		return p.failItem(opp, err)
	}
	p.linkEligibility(ctx, &opp, !created)

	kind := kindUpdated
	if created {
		kind = kindNew
	}
	return itemOutcome{kind: kind, opp: opp}, nil
}

// linkEligibility resolves and writes the opportunity's state eligibility
// rows. The call is awaited, but a failure here never fails the item:
// geography linking is best-effort.
func (p *Pipeline) linkEligibility(ctx context.Context, opp *model.Opportunity, replace bool) {
	var err error
	if replace {
		err = p.geo.UpdateEligibility(ctx, opp.ID, opp, p.store)
	} else {
		err = p.geo.CreateEligibility(ctx, opp.ID, p.geo.StateCodes(opp), p.store)
	}
	if err != nil {
		zap.L().Warn("pipeline: eligibility linking failed",
			zap.String("opportunity_id", opp.ID),
			zap.String("title", opp.Title),
			zap.Error(err),
		)
	}
}

// failItem captures a per-item error, escalating only when the storage
// backend itself is unreachable.
func (p *Pipeline) failItem(opp model.Opportunity, err error) (itemOutcome, error) {
	if resilience.IsUnavailable(err) {
		return itemOutcome{}, err
	}
	zap.L().Warn("pipeline: opportunity failed",
		zap.String("title", opp.Title),
		zap.Error(err),
	)
	return itemOutcome{
		kind: kindFailed,
		failed: model.FailedOpportunity{
			Title: opp.Title,
			ID:    opp.ID,
			Err:   err.Error(),
		},
	}, nil
}

func outcome(result model.BatchResult, start time.Time) *model.StoreOutcome {
	elapsed := time.Since(start).Milliseconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return &model.StoreOutcome{
		Results:         result,
		Metrics:         model.NewBatchMetrics(result, elapsed),
		ExecutionTimeMS: elapsed,
	}
}
