package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Run kinds recorded in pipeline_runs.
const (
	RunCollect  = "collect"
	RunAnalyze  = "analyze"
	RunDiscover = "discover"
)

// StartRun records the start of a pipeline run and returns its ID.
func (q *Queries) StartRun(kind, mode string) (string, error) {
	id := uuid.NewString()
	_, err := q.q.Exec(
		`INSERT INTO pipeline_runs (id, kind, mode, started_at) VALUES (?, ?, ?, ?)`,
		id, kind, mode, Now(),
	)
	if err != nil {
		return "", fmt.Errorf("recording %s run: %w", kind, err)
	}
	return id, nil
}

// FinishRun stamps a run as finished with its final counts.
func (q *Queries) FinishRun(id string, c RunCounts) error {
	_, err := q.q.Exec(
		`UPDATE pipeline_runs
		SET finished_at = ?, found = ?, created = ?, updated = ?, skipped = ?, errors = ?
		WHERE id = ?`,
		Now(), c.Found, c.Created, c.Updated, c.Skipped, c.Errors, id,
	)
	return err
}

// GetRecentRuns returns the latest runs, newest first.
func (q *Queries) GetRecentRuns(limit int) ([]PipelineRun, error) {
	rows, err := q.q.Query(
		`SELECT id, kind, mode, started_at, finished_at, found, created, updated, skipped, errors
		FROM pipeline_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PipelineRun
	for rows.Next() {
		var r PipelineRun
		var mode sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &mode, &r.StartedAt, &r.FinishedAt,
			&r.Found, &r.Created, &r.Updated, &r.Skipped, &r.Errors); err != nil {
			return nil, err
		}
		r.Mode = mode.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate database statistics.
func (q *Queries) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM reports", &s.TotalReports},
		{"SELECT COUNT(*) FROM reports WHERE has_image = 1", &s.ReportsWithImages},
		{"SELECT COUNT(*) FROM replies", &s.TotalReplies},
		{"SELECT COUNT(*) FROM replies WHERE is_solution = 1", &s.SolutionReplies},
		{"SELECT COUNT(*) FROM replies WHERE is_diagnostic = 1", &s.DiagnosticReplies},
		{"SELECT COUNT(*) FROM diagnoses", &s.Diagnoses},
		{"SELECT COUNT(*) FROM reports r LEFT JOIN diagnoses d ON d.report_id = r.id WHERE d.report_id IS NULL", &s.Undiagnosed},
		{"SELECT COUNT(*) FROM watch_terms", &s.TotalTerms},
		{"SELECT COUNT(*) FROM watch_terms WHERE is_active = 1", &s.ActiveTerms},
	}

	for _, qq := range queries {
		if err := q.q.QueryRow(qq.sql).Scan(qq.dest); err != nil {
			return nil, err
		}
	}

	wm, _, err := q.MaxCreatedUTC()
	if err != nil {
		return nil, err
	}
	s.Watermark = wm
	return s, nil
}
