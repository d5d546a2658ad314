package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/grantwell/ingest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// runs and development; production ingestion targets Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS funding_sources (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	organization TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (name, organization)
);

CREATE TABLE IF NOT EXISTS opportunities (
	id                 TEXT PRIMARY KEY,
	external_id        TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	funding_type       TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT '',
	amount_min         REAL,
	amount_max         REAL,
	total_funding      REAL,
	open_date          DATETIME,
	close_date         DATETIME,
	eligible_locations TEXT,
	is_national        INTEGER NOT NULL DEFAULT 0,
	scoring            TEXT,
	source_id          TEXT NOT NULL,
	raw_response_id    TEXT NOT NULL DEFAULT '',
	funding_source_id  TEXT NOT NULL DEFAULT '',
	organization       TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_opp_source_external
	ON opportunities (source_id, external_id) WHERE external_id <> '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_opp_source_title
	ON opportunities (source_id, title) WHERE external_id = '';

CREATE TABLE IF NOT EXISTS states (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS opportunity_state_eligibility (
	opportunity_id TEXT NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
	state_id       INTEGER NOT NULL REFERENCES states(id),
	PRIMARY KEY (opportunity_id, state_id)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	for _, st := range stateSeed {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO states (code, name) VALUES (?, ?)`, st.Code, st.Name,
		); err != nil {
			return eris.Wrap(err, "sqlite: seed states")
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const sqliteOppColumns = `id, external_id, title, description, funding_type, status,
	amount_min, amount_max, total_funding, open_date, close_date,
	eligible_locations, is_national, scoring, source_id, raw_response_id,
	funding_source_id, organization, created_at, updated_at`

func sqliteOppArgs(o *model.Opportunity, now time.Time) ([]any, error) {
	locJSON, err := json.Marshal(o.EligibleLocations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal eligible_locations")
	}
	scoringJSON, err := json.Marshal(o.Scoring)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal scoring")
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return []any{
		o.ID, o.ExternalID, o.Title, o.Description, o.FundingType, o.Status,
		nullFloat(o.AmountMin), nullFloat(o.AmountMax), nullFloat(o.TotalFunding),
		nullTime(o.OpenDate), nullTime(o.CloseDate),
		string(locJSON), o.IsNational, string(scoringJSON), o.SourceID, o.RawResponseID,
		o.FundingSourceID, o.Organization, createdAt, now,
	}, nil
}

func (s *SQLiteStore) InsertOpportunity(ctx context.Context, opp *model.Opportunity) error {
	if opp.ID == "" {
		opp.ID = uuid.New().String()
	}
	args, err := sqliteOppArgs(opp, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO opportunities (`+sqliteOppColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrap(ErrDuplicate, opp.Title)
		}
		return eris.Wrap(err, "sqlite: insert opportunity")
	}
	return nil
}

func (s *SQLiteStore) UpsertOpportunity(ctx context.Context, opp *model.Opportunity) (bool, error) {
	existing, err := s.GetOpportunityByNaturalKey(ctx, opp.NaturalKey())
	if err != nil {
		return false, err
	}
	if existing == nil {
		if err := s.InsertOpportunity(ctx, opp); err != nil && !IsDuplicate(err) {
			return false, err
		} else if err == nil {
			return true, nil
		}
		// Lost the race to a concurrent writer; fall through to update.
		existing, err = s.GetOpportunityByNaturalKey(ctx, opp.NaturalKey())
		if err != nil {
			return false, err
		}
		if existing == nil {
			return false, eris.New("sqlite: upsert: row vanished after conflict")
		}
	}
	opp.ID = existing.ID
	return false, s.UpdateOpportunity(ctx, opp)
}

func (s *SQLiteStore) UpdateOpportunity(ctx context.Context, opp *model.Opportunity) error {
	locJSON, err := json.Marshal(opp.EligibleLocations)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal eligible_locations")
	}
	scoringJSON, err := json.Marshal(opp.Scoring)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal scoring")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE opportunities
		SET title = ?, description = ?, funding_type = ?, status = ?,
			amount_min = ?, amount_max = ?, total_funding = ?,
			open_date = ?, close_date = ?, eligible_locations = ?,
			is_national = ?, scoring = ?, raw_response_id = ?,
			funding_source_id = ?, organization = ?, updated_at = ?
		WHERE id = ?`,
		opp.Title, opp.Description, opp.FundingType, opp.Status,
		nullFloat(opp.AmountMin), nullFloat(opp.AmountMax), nullFloat(opp.TotalFunding),
		nullTime(opp.OpenDate), nullTime(opp.CloseDate), string(locJSON),
		opp.IsNational, string(scoringJSON), opp.RawResponseID,
		opp.FundingSourceID, opp.Organization, time.Now().UTC(),
		opp.ID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: update opportunity")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: update opportunity %s: no rows", opp.ID)
	}
	return nil
}

func (s *SQLiteStore) GetOpportunityByNaturalKey(ctx context.Context, key model.NaturalKey) (*model.Opportunity, error) {
	var row *sql.Row
	if key.ExternalID != "" {
		row = s.db.QueryRowContext(ctx, `SELECT `+sqliteOppColumns+` FROM opportunities
			WHERE source_id = ? AND external_id = ?`, key.SourceID, key.ExternalID)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT `+sqliteOppColumns+` FROM opportunities
			WHERE source_id = ? AND title = ? AND external_id = ''`, key.SourceID, key.Title)
	}

	opp, err := scanSQLiteOpportunity(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get opportunity by natural key")
	}
	return opp, nil
}

func (s *SQLiteStore) GetOpportunityByID(ctx context.Context, id string) (*model.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteOppColumns+` FROM opportunities WHERE id = ?`, id)
	opp, err := scanSQLiteOpportunity(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get opportunity by id")
	}
	return opp, nil
}

// scanSQLiteOpportunity reads one opportunity row, returning (nil, nil)
// when the row is absent.
func scanSQLiteOpportunity(row *sql.Row) (*model.Opportunity, error) {
	var o model.Opportunity
	var locJSON, scoringJSON sql.NullString
	var amountMin, amountMax, totalFunding sql.NullFloat64
	var openDate, closeDate sql.NullTime
	err := row.Scan(
		&o.ID, &o.ExternalID, &o.Title, &o.Description, &o.FundingType, &o.Status,
		&amountMin, &amountMax, &totalFunding, &openDate, &closeDate,
		&locJSON, &o.IsNational, &scoringJSON, &o.SourceID, &o.RawResponseID,
		&o.FundingSourceID, &o.Organization, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	o.AmountMin = floatPtr(amountMin)
	o.AmountMax = floatPtr(amountMax)
	o.TotalFunding = floatPtr(totalFunding)
	o.OpenDate = timePtr(openDate)
	o.CloseDate = timePtr(closeDate)
	if locJSON.Valid && locJSON.String != "" {
		if err := json.Unmarshal([]byte(locJSON.String), &o.EligibleLocations); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal eligible_locations")
		}
	}
	if scoringJSON.Valid && scoringJSON.String != "" {
		if err := json.Unmarshal([]byte(scoringJSON.String), &o.Scoring); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal scoring")
		}
	}
	return &o, nil
}

func (s *SQLiteStore) GetFundingSource(ctx context.Context, name, organization string) (*model.FundingSource, error) {
	var fs model.FundingSource
	err := s.db.QueryRowContext(ctx, `SELECT id, name, organization, website, created_at
		FROM funding_sources WHERE name = ? AND organization = ?`,
		name, organization,
	).Scan(&fs.ID, &fs.Name, &fs.Organization, &fs.Website, &fs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get funding source")
	}
	return &fs, nil
}

func (s *SQLiteStore) CreateFundingSource(ctx context.Context, fs *model.FundingSource) error {
	if fs.ID == "" {
		fs.ID = uuid.New().String()
	}
	if fs.CreatedAt.IsZero() {
		fs.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO funding_sources (id, name, organization, website, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		fs.ID, fs.Name, fs.Organization, fs.Website, fs.CreatedAt,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrap(ErrDuplicate, fs.Name)
		}
		return eris.Wrap(err, "sqlite: create funding source")
	}
	return nil
}

func (s *SQLiteStore) GetStatesByCodes(ctx context.Context, codes []string) ([]model.State, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(codes)), ", ")
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name FROM states WHERE code IN (`+placeholders+`) ORDER BY code`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get states by codes")
	}
	defer rows.Close()

	var states []model.State
	for rows.Next() {
		var st model.State
		if err := rows.Scan(&st.ID, &st.Code, &st.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan state")
		}
		states = append(states, st)
	}
	return states, eris.Wrap(rows.Err(), "sqlite: iterate states")
}

func (s *SQLiteStore) InsertEligibility(ctx context.Context, opportunityID string, stateIDs []int64) error {
	if len(stateIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin eligibility tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stateID := range stateIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO opportunity_state_eligibility (opportunity_id, state_id) VALUES (?, ?)`,
			opportunityID, stateID,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert eligibility")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit eligibility tx")
}

func (s *SQLiteStore) DeleteEligibility(ctx context.Context, opportunityID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM opportunity_state_eligibility WHERE opportunity_id = ?`, opportunityID)
	return eris.Wrap(err, "sqlite: delete eligibility")
}

func (s *SQLiteStore) CountEligibility(ctx context.Context, opportunityID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM opportunity_state_eligibility WHERE opportunity_id = ?`, opportunityID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count eligibility")
	}
	return n, nil
}

// helpers

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
