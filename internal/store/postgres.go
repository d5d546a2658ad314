package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/grantwell/ingest-cli/internal/db"
	"github.com/grantwell/ingest-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS funding_sources (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	organization TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, organization)
);

CREATE TABLE IF NOT EXISTS opportunities (
	id                 TEXT PRIMARY KEY,
	external_id        TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	funding_type       TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT '',
	amount_min         DOUBLE PRECISION,
	amount_max         DOUBLE PRECISION,
	total_funding      DOUBLE PRECISION,
	open_date          TIMESTAMPTZ,
	close_date         TIMESTAMPTZ,
	eligible_locations JSONB,
	is_national        BOOLEAN NOT NULL DEFAULT FALSE,
	scoring            JSONB,
	source_id          TEXT NOT NULL,
	raw_response_id    TEXT NOT NULL DEFAULT '',
	funding_source_id  TEXT NOT NULL DEFAULT '',
	organization       TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_opp_source_external
	ON opportunities (source_id, external_id) WHERE external_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_opp_source_title
	ON opportunities (source_id, title) WHERE external_id = '';
CREATE INDEX IF NOT EXISTS idx_opp_status ON opportunities (status);

CREATE TABLE IF NOT EXISTS states (
	id   BIGSERIAL PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS opportunity_state_eligibility (
	opportunity_id TEXT NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
	state_id       BIGINT NOT NULL REFERENCES states(id),
	PRIMARY KEY (opportunity_id, state_id)
);
`

// Migrate creates the schema if it does not exist and seeds the states
// reference table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO states (code, name) VALUES `)
	args := make([]any, 0, len(stateSeed)*2)
	for i, st := range stateSeed {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, st.Code, st.Name)
	}
	sb.WriteString(` ON CONFLICT (code) DO NOTHING`)
	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return eris.Wrap(err, "postgres: seed states")
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const oppColumns = `id, external_id, title, description, funding_type, status,
	amount_min, amount_max, total_funding, open_date, close_date,
	eligible_locations, is_national, scoring, source_id, raw_response_id,
	funding_source_id, organization, created_at, updated_at`

const insertOpportunitySQL = `INSERT INTO opportunities (` + oppColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

func oppArgs(o *model.Opportunity, now time.Time) ([]any, error) {
	locJSON, err := json.Marshal(o.EligibleLocations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal eligible_locations")
	}
	scoringJSON, err := json.Marshal(o.Scoring)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal scoring")
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return []any{
		o.ID, o.ExternalID, o.Title, o.Description, o.FundingType, o.Status,
		o.AmountMin, o.AmountMax, o.TotalFunding, o.OpenDate, o.CloseDate,
		locJSON, o.IsNational, scoringJSON, o.SourceID, o.RawResponseID,
		o.FundingSourceID, o.Organization, createdAt, now,
	}, nil
}

func scanOpportunity(row pgx.Row) (*model.Opportunity, error) {
	var o model.Opportunity
	var locJSON, scoringJSON []byte
	err := row.Scan(
		&o.ID, &o.ExternalID, &o.Title, &o.Description, &o.FundingType, &o.Status,
		&o.AmountMin, &o.AmountMax, &o.TotalFunding, &o.OpenDate, &o.CloseDate,
		&locJSON, &o.IsNational, &scoringJSON, &o.SourceID, &o.RawResponseID,
		&o.FundingSourceID, &o.Organization, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(locJSON) > 0 {
		if err := json.Unmarshal(locJSON, &o.EligibleLocations); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal eligible_locations")
		}
	}
	if len(scoringJSON) > 0 {
		if err := json.Unmarshal(scoringJSON, &o.Scoring); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal scoring")
		}
	}
	return &o, nil
}

// InsertOpportunity inserts a new row. Returns ErrDuplicate when the
// natural key already exists.
func (s *PostgresStore) InsertOpportunity(ctx context.Context, opp *model.Opportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	args, err := oppArgs(opp, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertOpportunitySQL, args...); err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrap(ErrDuplicate, opp.Title)
		}
		return eris.Wrap(err, "postgres: insert opportunity")
	}
	return nil
}

const upsertSetClause = `SET title = EXCLUDED.title,
		description = EXCLUDED.description,
		funding_type = EXCLUDED.funding_type,
		status = EXCLUDED.status,
		amount_min = EXCLUDED.amount_min,
		amount_max = EXCLUDED.amount_max,
		total_funding = EXCLUDED.total_funding,
		open_date = EXCLUDED.open_date,
		close_date = EXCLUDED.close_date,
		eligible_locations = EXCLUDED.eligible_locations,
		is_national = EXCLUDED.is_national,
		scoring = EXCLUDED.scoring,
		raw_response_id = EXCLUDED.raw_response_id,
		funding_source_id = EXCLUDED.funding_source_id,
		organization = EXCLUDED.organization,
		updated_at = EXCLUDED.updated_at`

const upsertByExternalSQL = insertOpportunitySQL + `
	ON CONFLICT (source_id, external_id) WHERE external_id <> ''
	DO UPDATE ` + upsertSetClause + `
	RETURNING id, (xmax = 0) AS inserted`

const upsertByTitleSQL = insertOpportunitySQL + `
	ON CONFLICT (source_id, title) WHERE external_id = ''
	DO UPDATE ` + upsertSetClause + `
	RETURNING id, (xmax = 0) AS inserted`

// UpsertOpportunity inserts or overwrites the row matching the natural
// key. The returned flag reports whether a new row was created.
func (s *PostgresStore) UpsertOpportunity(ctx context.Context, opp *model.Opportunity) (bool, error) {
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	args, err := oppArgs(opp, time.Now().UTC())
	if err != nil {
		return false, err
	}

	sql := upsertByTitleSQL
	if opp.NaturalKey().ExternalID != "" {
		sql = upsertByExternalSQL
	}

	var id string
	var inserted bool
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&id, &inserted); err != nil {
		return false, eris.Wrap(err, "postgres: upsert opportunity")
	}
	opp.ID = id
	return inserted, nil
}

// UpdateOpportunity overwrites an existing row by id.
func (s *PostgresStore) UpdateOpportunity(ctx context.Context, opp *model.Opportunity) error {
	locJSON, err := json.Marshal(opp.EligibleLocations)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal eligible_locations")
	}
	scoringJSON, err := json.Marshal(opp.Scoring)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal scoring")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE opportunities
		SET title = $1, description = $2, funding_type = $3, status = $4,
			amount_min = $5, amount_max = $6, total_funding = $7,
			open_date = $8, close_date = $9, eligible_locations = $10,
			is_national = $11, scoring = $12, raw_response_id = $13,
			funding_source_id = $14, organization = $15, updated_at = $16
		WHERE id = $17`,
		opp.Title, opp.Description, opp.FundingType, opp.Status,
		opp.AmountMin, opp.AmountMax, opp.TotalFunding,
		opp.OpenDate, opp.CloseDate, locJSON,
		opp.IsNational, scoringJSON, opp.RawResponseID,
		opp.FundingSourceID, opp.Organization, time.Now().UTC(),
		opp.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: update opportunity")
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: update opportunity %s: no rows", opp.ID)
	}
	return nil
}

// GetOpportunityByNaturalKey fetches the row matching the key, or nil
// when absent.
func (s *PostgresStore) GetOpportunityByNaturalKey(ctx context.Context, key model.NaturalKey) (*model.Opportunity, error) {
	var row pgx.Row
	if key.ExternalID != "" {
		row = s.pool.QueryRow(ctx, `SELECT `+oppColumns+` FROM opportunities
			WHERE source_id = $1 AND external_id = $2`, key.SourceID, key.ExternalID)
	} else {
		row = s.pool.QueryRow(ctx, `SELECT `+oppColumns+` FROM opportunities
			WHERE source_id = $1 AND title = $2 AND external_id = ''`, key.SourceID, key.Title)
	}

	opp, err := scanOpportunity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get opportunity by natural key")
	}
	return opp, nil
}

// GetOpportunityByID fetches a row by primary key, or nil when absent.
func (s *PostgresStore) GetOpportunityByID(ctx context.Context, id string) (*model.Opportunity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+oppColumns+` FROM opportunities WHERE id = $1`, id)

	opp, err := scanOpportunity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get opportunity by id")
	}
	return opp, nil
}

// GetFundingSource fetches a funding source by (name, organization), or
// nil when absent.
func (s *PostgresStore) GetFundingSource(ctx context.Context, name, organization string) (*model.FundingSource, error) {
	var fs model.FundingSource
	err := s.pool.QueryRow(ctx, `SELECT id, name, organization, website, created_at
		FROM funding_sources WHERE name = $1 AND organization = $2`,
		name, organization,
	).Scan(&fs.ID, &fs.Name, &fs.Organization, &fs.Website, &fs.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get funding source")
	}
	return &fs, nil
}

// CreateFundingSource inserts a new funding source. Returns ErrDuplicate
// when a concurrent writer created the same (name, organization) first.
func (s *PostgresStore) CreateFundingSource(ctx context.Context, fs *model.FundingSource) error {
	if fs.ID == "" {
		fs.ID = uuid.New().String()
	}
	if fs.CreatedAt.IsZero() {
		fs.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO funding_sources (id, name, organization, website, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		fs.ID, fs.Name, fs.Organization, fs.Website, fs.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrap(ErrDuplicate, fs.Name)
		}
		return eris.Wrap(err, "postgres: create funding source")
	}
	return nil
}

// GetStatesByCodes resolves 2-letter state codes to state rows. Unknown
// codes are simply absent from the result.
func (s *PostgresStore) GetStatesByCodes(ctx context.Context, codes []string) ([]model.State, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, code, name FROM states WHERE code = ANY($1) ORDER BY code`, codes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get states by codes")
	}
	defer rows.Close()

	var states []model.State
	for rows.Next() {
		var st model.State
		if err := rows.Scan(&st.ID, &st.Code, &st.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan state")
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate states")
	}
	return states, nil
}

// InsertEligibility writes junction rows linking an opportunity to states.
func (s *PostgresStore) InsertEligibility(ctx context.Context, opportunityID string, stateIDs []int64) error {
	if len(stateIDs) == 0 {
		return nil
	}
	rows := make([][]any, len(stateIDs))
	for i, id := range stateIDs {
		rows[i] = []any{opportunityID, id}
	}
	_, err := db.CopyFrom(ctx, s.pool, "opportunity_state_eligibility",
		[]string{"opportunity_id", "state_id"}, rows)
	if err != nil {
		return eris.Wrap(err, "postgres: insert eligibility")
	}
	return nil
}

// DeleteEligibility removes all eligibility rows for an opportunity.
func (s *PostgresStore) DeleteEligibility(ctx context.Context, opportunityID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM opportunity_state_eligibility WHERE opportunity_id = $1`, opportunityID); err != nil {
		return eris.Wrap(err, "postgres: delete eligibility")
	}
	return nil
}

// CountEligibility returns the number of eligibility rows for an opportunity.
func (s *PostgresStore) CountEligibility(ctx context.Context, opportunityID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM opportunity_state_eligibility WHERE opportunity_id = $1`, opportunityID).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count eligibility")
	}
	return n, nil
}
