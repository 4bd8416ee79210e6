package database

import (
	"database/sql"
)

const reportColumns = `id, community, title, body, author, created_utc, url, post_hint,
	score, num_comments, upvote_ratio, image_path, collected_at,
	category, confidence_level, has_image, quality_score, word_count`

// UpsertReport inserts a report, replacing every column if the id already exists.
func (q *Queries) UpsertReport(r *Report) error {
	_, err := q.q.Exec(
		`INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			community = excluded.community,
			title = excluded.title,
			body = excluded.body,
			author = excluded.author,
			created_utc = excluded.created_utc,
			url = excluded.url,
			post_hint = excluded.post_hint,
			score = excluded.score,
			num_comments = excluded.num_comments,
			upvote_ratio = excluded.upvote_ratio,
			image_path = excluded.image_path,
			collected_at = excluded.collected_at,
			category = excluded.category,
			confidence_level = excluded.confidence_level,
			has_image = excluded.has_image,
			quality_score = excluded.quality_score,
			word_count = excluded.word_count`,
		r.ID, r.Community, r.Title, r.Body, r.Author, r.CreatedUTC, r.URL, r.PostHint,
		r.Score, r.NumComments, r.UpvoteRatio, r.ImagePath, r.CollectedAt,
		r.Category, r.ConfidenceLevel, boolInt(r.HasImage), r.QualityScore, r.WordCount,
	)
	return err
}

// ReportExists reports whether a report with the given id is stored.
func (q *Queries) ReportExists(id string) (bool, error) {
	var one int
	err := q.q.QueryRow("SELECT 1 FROM reports WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateReportSignals refreshes the popularity signals and collection time of
// a report. Text and derived fields are left untouched.
func (q *Queries) UpdateReportSignals(id string, score, numComments int, upvoteRatio float64, collectedAt string) error {
	_, err := q.q.Exec(
		`UPDATE reports SET score = ?, num_comments = ?, upvote_ratio = ?, collected_at = ?
		WHERE id = ?`,
		score, numComments, upvoteRatio, collectedAt, id,
	)
	return err
}

// MaxCreatedUTC returns the newest report creation time. ok is false when
// no reports are stored.
func (q *Queries) MaxCreatedUTC() (watermark int64, ok bool, err error) {
	var max sql.NullInt64
	if err := q.q.QueryRow("SELECT MAX(created_utc) FROM reports").Scan(&max); err != nil {
		return 0, false, err
	}
	if !max.Valid {
		return 0, false, nil
	}
	return max.Int64, true, nil
}

// GetReport returns a single report by id, or nil if it does not exist.
func (q *Queries) GetReport(id string) (*Report, error) {
	row := q.q.QueryRow("SELECT "+reportColumns+" FROM reports WHERE id = ?", id)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetRecentReports returns the most recently created reports.
func (q *Queries) GetRecentReports(limit int) ([]Report, error) {
	rows, err := q.q.Query(
		"SELECT "+reportColumns+" FROM reports ORDER BY created_utc DESC, id LIMIT ?", limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// CountReports returns the number of stored reports.
func (q *Queries) CountReports() (int, error) {
	var n int
	err := q.q.QueryRow("SELECT COUNT(*) FROM reports").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(s scanner) (*Report, error) {
	var r Report
	var url, hint sql.NullString
	var hasImage int
	if err := s.Scan(&r.ID, &r.Community, &r.Title, &r.Body, &r.Author, &r.CreatedUTC,
		&url, &hint, &r.Score, &r.NumComments, &r.UpvoteRatio, &r.ImagePath, &r.CollectedAt,
		&r.Category, &r.ConfidenceLevel, &hasImage, &r.QualityScore, &r.WordCount); err != nil {
		return nil, err
	}
	r.URL = url.String
	r.PostHint = hint.String
	r.HasImage = hasImage != 0
	return &r, nil
}
