package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// InsertWatchTerm adds an extra search query collected alongside the
// category keywords.
func (q *Queries) InsertWatchTerm(term string, note *string) (int64, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return 0, fmt.Errorf("watch term must not be empty")
	}
	result, err := q.q.Exec(`INSERT INTO watch_terms (term, note) VALUES (?, ?)`, term, note)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetAllWatchTerms returns every watch term, newest first.
func (q *Queries) GetAllWatchTerms() ([]WatchTerm, error) {
	return q.queryWatchTerms("SELECT id, term, note, is_active, created_at, updated_at FROM watch_terms ORDER BY id DESC")
}

// GetActiveWatchTerms returns the active watch terms in creation order.
func (q *Queries) GetActiveWatchTerms() ([]WatchTerm, error) {
	return q.queryWatchTerms("SELECT id, term, note, is_active, created_at, updated_at FROM watch_terms WHERE is_active = 1 ORDER BY id")
}

// GetWatchTerm returns a single watch term by ID.
func (q *Queries) GetWatchTerm(id int64) (*WatchTerm, error) {
	row := q.q.QueryRow(
		"SELECT id, term, note, is_active, created_at, updated_at FROM watch_terms WHERE id = ?", id,
	)
	t, err := scanWatchTerm(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateWatchTerm changes the fields that are non-nil.
func (q *Queries) UpdateWatchTerm(id int64, term, note *string) error {
	var updates []string
	var args []any

	if term != nil {
		t := strings.TrimSpace(*term)
		if t == "" {
			return fmt.Errorf("watch term must not be empty")
		}
		updates = append(updates, "term = ?")
		args = append(args, t)
	}
	if note != nil {
		updates = append(updates, "note = ?")
		args = append(args, *note)
	}
	if len(updates) == 0 {
		return nil
	}

	updates = append(updates, "updated_at = datetime('now')")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE watch_terms SET %s WHERE id = ?", strings.Join(updates, ", "))
	_, err := q.q.Exec(query, args...)
	return err
}

// ToggleWatchTerm flips the active state of a watch term.
func (q *Queries) ToggleWatchTerm(id int64) error {
	_, err := q.q.Exec(
		`UPDATE watch_terms SET is_active = NOT is_active, updated_at = datetime('now') WHERE id = ?`, id,
	)
	return err
}

// DeleteWatchTerm removes a watch term.
func (q *Queries) DeleteWatchTerm(id int64) error {
	_, err := q.q.Exec("DELETE FROM watch_terms WHERE id = ?", id)
	return err
}

func (q *Queries) queryWatchTerms(query string, args ...any) ([]WatchTerm, error) {
	rows, err := q.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []WatchTerm
	for rows.Next() {
		t, err := scanWatchTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, *t)
	}
	return terms, rows.Err()
}

func scanWatchTerm(s scanner) (*WatchTerm, error) {
	var t WatchTerm
	var active int
	if err := s.Scan(&t.ID, &t.Term, &t.Note, &active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.IsActive = active != 0
	return &t, nil
}
