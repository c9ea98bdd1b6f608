// Package artifact persists pipeline stage outputs in a SQLite database so
// each stage can be re-run or resumed without recomputing its predecessors.
package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/feldkamp/equimatch/internal/model"
	"github.com/feldkamp/equimatch/internal/stats"
)

// ErrNoRun is returned when the store holds no runs yet.
var ErrNoRun = errors.New("artifact: no runs recorded")

// Store wraps the artifact database. All stage writers replace their own
// table contents for the run, so re-running a stage is idempotent.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS group_members (
	run_id         TEXT NOT NULL,
	representative INTEGER NOT NULL,
	member         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
	run_id        TEXT NOT NULL,
	record_index  INTEGER NOT NULL,
	heading_index INTEGER NOT NULL,
	confidence    REAL NOT NULL,
	provenance    TEXT NOT NULL,
	article_code  TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS frequencies (
	run_id       TEXT NOT NULL,
	installation TEXT NOT NULL,
	count        INTEGER NOT NULL,
	percent      REAL NOT NULL,
	bucket       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS correlations (
	run_id      TEXT NOT NULL,
	a           TEXT NOT NULL,
	b           TEXT NOT NULL,
	coefficient REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS component_suggestions (
	run_id       TEXT NOT NULL,
	building_id  TEXT NOT NULL,
	installation TEXT NOT NULL,
	probability  REAL NOT NULL,
	reason       TEXT NOT NULL,
	details      TEXT NOT NULL,
	code         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS suggestions (
	run_id       TEXT NOT NULL,
	building_id  TEXT NOT NULL,
	installation TEXT NOT NULL,
	probability  REAL NOT NULL,
	reason       TEXT NOT NULL,
	details      TEXT NOT NULL,
	code         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS stages (
	run_id TEXT NOT NULL,
	stage  TEXT NOT NULL,
	PRIMARY KEY (run_id, stage)
);
CREATE TABLE IF NOT EXISTS resolution_cache (
	summary TEXT PRIMARY KEY,
	key     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_group_members_run ON group_members(run_id);
CREATE INDEX IF NOT EXISTS idx_assignments_run ON assignments(run_id);
CREATE INDEX IF NOT EXISTS idx_component_suggestions_run ON component_suggestions(run_id);
CREATE INDEX IF NOT EXISTS idx_suggestions_run ON suggestions(run_id);
`

// Open opens (creating if necessary) the artifact database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", path, err)
	}
	// modernc's driver is not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("artifact: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// BeginRun records a new run and returns its id.
func (s *Store) BeginRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("artifact: begin run: %w", err)
	}
	return id, nil
}

// MarkStage records the last completed stage of a run and adds it to the
// run's completion set.
func (s *Store) MarkStage(ctx context.Context, runID, stage string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET stage = ? WHERE id = ?`, stage, runID)
	if err != nil {
		return fmt.Errorf("artifact: mark stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("artifact: unknown run %s", runID)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO stages (run_id, stage) VALUES (?, ?)`, runID, stage); err != nil {
		return fmt.Errorf("artifact: record stage: %w", err)
	}
	return nil
}

// StageDone reports whether the stage has completed for the run. Unlike
// checking a table for rows, this also holds for stages that legitimately
// produced nothing.
func (s *Store) StageDone(ctx context.Context, runID, stage string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM stages WHERE run_id = ? AND stage = ?`, runID, stage).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifact: stage done: %w", err)
	}
	return true, nil
}

// LatestRun returns the most recently created run and its last completed
// stage. Returns ErrNoRun on an empty store.
func (s *Store) LatestRun(ctx context.Context) (id, stage string, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT id, stage FROM runs ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id, &stage)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNoRun
	}
	if err != nil {
		return "", "", fmt.Errorf("artifact: latest run: %w", err)
	}
	return id, stage, nil
}

// replaceForRun deletes a run's rows from table and re-inserts them inside
// one transaction.
func (s *Store) replaceForRun(ctx context.Context, table, insert string, runID string, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("artifact: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("artifact: clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("artifact: prepare %s insert: %w", table, err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, append([]any{runID}, row...)...); err != nil {
			return fmt.Errorf("artifact: insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// SaveGroups persists the grouping result. The representative is stored
// once per member; a group without members stores one row with member -1.
func (s *Store) SaveGroups(ctx context.Context, runID string, groups []model.Group) error {
	var rows [][]any
	for _, g := range groups {
		if len(g.Members) == 0 {
			rows = append(rows, []any{g.Representative, -1})
			continue
		}
		for _, m := range g.Members {
			rows = append(rows, []any{g.Representative, m})
		}
	}
	return s.replaceForRun(ctx, "group_members",
		`INSERT INTO group_members (run_id, representative, member) VALUES (?, ?, ?)`,
		runID, rows)
}

// LoadGroups reads back the grouping result ordered by representative.
func (s *Store) LoadGroups(ctx context.Context, runID string) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT representative, member FROM group_members WHERE run_id = ? ORDER BY representative, member`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("artifact: load groups: %w", err)
	}
	defer rows.Close()

	var groups []model.Group
	pos := make(map[int]int)
	for rows.Next() {
		var rep, member int
		if err := rows.Scan(&rep, &member); err != nil {
			return nil, fmt.Errorf("artifact: scan group row: %w", err)
		}
		i, ok := pos[rep]
		if !ok {
			i = len(groups)
			pos[rep] = i
			groups = append(groups, model.Group{Representative: rep})
		}
		if member >= 0 {
			groups[i].Members = append(groups[i].Members, member)
		}
	}
	return groups, rows.Err()
}

// SaveAssignments persists heading assignments.
func (s *Store) SaveAssignments(ctx context.Context, runID string, assignments []model.HeadingAssignment) error {
	rows := make([][]any, len(assignments))
	for i, a := range assignments {
		rows[i] = []any{a.RecordIndex, a.HeadingIndex, a.Confidence, string(a.Provenance), a.ArticleCode}
	}
	return s.replaceForRun(ctx, "assignments",
		`INSERT INTO assignments (run_id, record_index, heading_index, confidence, provenance, article_code) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, rows)
}

// LoadAssignments reads back heading assignments ordered by record index.
func (s *Store) LoadAssignments(ctx context.Context, runID string) ([]model.HeadingAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_index, heading_index, confidence, provenance, article_code FROM assignments WHERE run_id = ? ORDER BY record_index`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("artifact: load assignments: %w", err)
	}
	defer rows.Close()

	var out []model.HeadingAssignment
	for rows.Next() {
		var a model.HeadingAssignment
		var prov string
		if err := rows.Scan(&a.RecordIndex, &a.HeadingIndex, &a.Confidence, &prov, &a.ArticleCode); err != nil {
			return nil, fmt.Errorf("artifact: scan assignment row: %w", err)
		}
		a.Provenance = model.Provenance(prov)
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveFrequencies persists the frequency table.
func (s *Store) SaveFrequencies(ctx context.Context, runID string, freqs []stats.Frequency) error {
	rows := make([][]any, len(freqs))
	for i, f := range freqs {
		rows[i] = []any{f.Installation, f.Count, f.Percent, f.Bucket}
	}
	return s.replaceForRun(ctx, "frequencies",
		`INSERT INTO frequencies (run_id, installation, count, percent, bucket) VALUES (?, ?, ?, ?, ?)`,
		runID, rows)
}

// LoadFrequencies reads back the frequency table ordered by installation.
func (s *Store) LoadFrequencies(ctx context.Context, runID string) ([]stats.Frequency, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT installation, count, percent, bucket FROM frequencies WHERE run_id = ? ORDER BY installation`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("artifact: load frequencies: %w", err)
	}
	defer rows.Close()

	var out []stats.Frequency
	for rows.Next() {
		var f stats.Frequency
		if err := rows.Scan(&f.Installation, &f.Count, &f.Percent, &f.Bucket); err != nil {
			return nil, fmt.Errorf("artifact: scan frequency row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveCorrelations persists the correlation table.
func (s *Store) SaveCorrelations(ctx context.Context, runID string, corrs []stats.Correlation) error {
	rows := make([][]any, len(corrs))
	for i, c := range corrs {
		rows[i] = []any{c.A, c.B, c.Coefficient}
	}
	return s.replaceForRun(ctx, "correlations",
		`INSERT INTO correlations (run_id, a, b, coefficient) VALUES (?, ?, ?, ?)`,
		runID, rows)
}

// LoadCorrelations reads back the correlation table.
func (s *Store) LoadCorrelations(ctx context.Context, runID string) ([]stats.Correlation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a, b, coefficient FROM correlations WHERE run_id = ? ORDER BY a, b`, runID)
	if err != nil {
		return nil, fmt.Errorf("artifact: load correlations: %w", err)
	}
	defer rows.Close()

	var out []stats.Correlation
	for rows.Next() {
		var c stats.Correlation
		if err := rows.Scan(&c.A, &c.B, &c.Coefficient); err != nil {
			return nil, fmt.Errorf("artifact: scan correlation row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) saveSuggestionTable(ctx context.Context, table, runID string, suggestions []model.Suggestion) error {
	rows := make([][]any, len(suggestions))
	for i, sg := range suggestions {
		rows[i] = []any{sg.BuildingID, sg.Installation, sg.Probability, string(sg.Reason), sg.Details, sg.Code}
	}
	return s.replaceForRun(ctx, table,
		`INSERT INTO `+table+` (run_id, building_id, installation, probability, reason, details, code) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, rows)
}

func (s *Store) loadSuggestionTable(ctx context.Context, table, runID string) ([]model.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT building_id, installation, probability, reason, details, code FROM `+table+` WHERE run_id = ? ORDER BY probability DESC, building_id, installation`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("artifact: load %s: %w", table, err)
	}
	defer rows.Close()

	var out []model.Suggestion
	for rows.Next() {
		var sg model.Suggestion
		var reason string
		if err := rows.Scan(&sg.BuildingID, &sg.Installation, &sg.Probability, &reason, &sg.Details, &sg.Code); err != nil {
			return nil, fmt.Errorf("artifact: scan %s row: %w", table, err)
		}
		sg.Reason = model.Reason(reason)
		out = append(out, sg)
	}
	return out, rows.Err()
}

// SaveComponentSuggestions persists the component stage's suggestions.
func (s *Store) SaveComponentSuggestions(ctx context.Context, runID string, suggestions []model.Suggestion) error {
	return s.saveSuggestionTable(ctx, "component_suggestions", runID, suggestions)
}

// LoadComponentSuggestions reads back the component stage's suggestions
// ordered by descending probability.
func (s *Store) LoadComponentSuggestions(ctx context.Context, runID string) ([]model.Suggestion, error) {
	return s.loadSuggestionTable(ctx, "component_suggestions", runID)
}

// SaveSuggestions persists the merged suggestion list.
func (s *Store) SaveSuggestions(ctx context.Context, runID string, suggestions []model.Suggestion) error {
	return s.saveSuggestionTable(ctx, "suggestions", runID, suggestions)
}

// LoadSuggestions reads back suggestions ordered by descending probability.
func (s *Store) LoadSuggestions(ctx context.Context, runID string) ([]model.Suggestion, error) {
	return s.loadSuggestionTable(ctx, "suggestions", runID)
}

// Get implements the resolution cache lookup. Cache rows outlive runs so
// repeated pipelines never re-ask the service about a known record.
func (s *Store) Get(summary string) (string, bool) {
	var key string
	err := s.db.QueryRow(`SELECT key FROM resolution_cache WHERE summary = ?`, summary).Scan(&key)
	if err != nil {
		return "", false
	}
	return key, true
}

// Put implements the resolution cache write.
func (s *Store) Put(summary, key string) error {
	_, err := s.db.Exec(
		`INSERT INTO resolution_cache (summary, key) VALUES (?, ?)
		 ON CONFLICT(summary) DO UPDATE SET key = excluded.key`,
		summary, key)
	if err != nil {
		return fmt.Errorf("artifact: cache put: %w", err)
	}
	return nil
}
