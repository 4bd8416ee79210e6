package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SelectUndiagnosed returns reports without a diagnosis, ranked by the number
// of solution plus diagnostic replies, then report score, then reply count.
func (q *Queries) SelectUndiagnosed(limit int) ([]Candidate, error) {
	rows, err := q.q.Query(
		`SELECT r.id, r.title, r.body, r.category, r.score,
			COUNT(c.id) AS reply_count,
			COALESCE(SUM(c.is_solution), 0) AS solution_replies,
			COALESCE(SUM(c.is_diagnostic), 0) AS diagnostic_replies
		FROM reports r
		LEFT JOIN replies c ON c.report_id = r.id
		LEFT JOIN diagnoses d ON d.report_id = r.id
		WHERE d.report_id IS NULL
		GROUP BY r.id
		ORDER BY (solution_replies + diagnostic_replies) DESC, r.score DESC, reply_count DESC, r.id
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// SelectDiscoveryCandidates returns reports the keyword table or the model
// could not place (unknown category or a low-confidence diagnosis) whose
// thread still carried real community signal.
func (q *Queries) SelectDiscoveryCandidates(minScore, minSolutions, limit int) ([]Candidate, error) {
	rows, err := q.q.Query(
		`SELECT r.id, r.title, r.body, r.category, r.score,
			COUNT(c.id) AS reply_count,
			COALESCE(SUM(c.is_solution), 0) AS solution_replies,
			COALESCE(SUM(c.is_diagnostic), 0) AS diagnostic_replies
		FROM reports r
		LEFT JOIN diagnoses d ON d.report_id = r.id
		LEFT JOIN replies c ON c.report_id = r.id
		WHERE (r.category = 'unknown' OR d.confidence = 'low')
			AND r.score > ?
		GROUP BY r.id
		HAVING solution_replies > ?
		ORDER BY r.score DESC, r.id
		LIMIT ?`, minScore, minSolutions, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

func scanCandidates(rows *sql.Rows) ([]Candidate, error) {
	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ReportID, &c.Title, &c.Body, &c.Category, &c.Score,
			&c.ReplyCount, &c.SolutionReplies, &c.DiagnosticReplies); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertDiagnosis stores a diagnosis unless the report already has one.
// inserted is false when an existing diagnosis was kept.
func (q *Queries) InsertDiagnosis(d *Diagnosis) (inserted bool, err error) {
	categories, err := marshalList(d.Categories)
	if err != nil {
		return false, err
	}
	solutions, err := marshalList(d.Solutions)
	if err != nil {
		return false, err
	}
	insights, err := json.Marshal(d.Insights)
	if err != nil {
		return false, fmt.Errorf("encoding reply insights: %w", err)
	}

	res, err := q.q.Exec(
		`INSERT INTO diagnoses
		(report_id, model, root_cause, confidence, categories, solutions, raw_response,
		 analyzed_at, affected_percentage, health_score, urgency, reply_insights)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO NOTHING`,
		d.ReportID, d.Model, d.RootCause, d.Confidence, categories, solutions, d.RawResponse,
		d.AnalyzedAt, d.AffectedPercentage, d.HealthScore, d.Urgency, string(insights),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const diagnosisColumns = `d.report_id, d.model, d.root_cause, d.confidence, d.categories, d.solutions,
	d.raw_response, d.analyzed_at, d.affected_percentage, d.health_score, d.urgency, d.reply_insights`

// GetDiagnosis returns the diagnosis of a report, or nil if there is none.
func (q *Queries) GetDiagnosis(reportID string) (*Diagnosis, error) {
	row := q.q.QueryRow("SELECT "+diagnosisColumns+" FROM diagnoses d WHERE d.report_id = ?", reportID)
	d, err := scanDiagnosis(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetDiagnosedReports returns diagnosed reports ordered by affected area,
// then report score. A limit of zero or less returns all of them.
func (q *Queries) GetDiagnosedReports(limit int) ([]DiagnosedReport, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.q.Query(
		`SELECT `+joinedReportColumns+`, `+diagnosisColumns+`
		FROM reports r
		JOIN diagnoses d ON d.report_id = r.id
		ORDER BY d.affected_percentage DESC, r.score DESC, r.id
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DiagnosedReport
	for rows.Next() {
		var dr DiagnosedReport
		var url, hint, urgency, insights sql.NullString
		var hasImage int
		var categories, solutions string
		r := &dr.Report
		d := &dr.Diagnosis
		if err := rows.Scan(&r.ID, &r.Community, &r.Title, &r.Body, &r.Author, &r.CreatedUTC,
			&url, &hint, &r.Score, &r.NumComments, &r.UpvoteRatio, &r.ImagePath, &r.CollectedAt,
			&r.Category, &r.ConfidenceLevel, &hasImage, &r.QualityScore, &r.WordCount,
			&d.ReportID, &d.Model, &d.RootCause, &d.Confidence, &categories, &solutions,
			&d.RawResponse, &d.AnalyzedAt, &d.AffectedPercentage, &d.HealthScore, &urgency, &insights); err != nil {
			return nil, err
		}
		r.URL = url.String
		r.PostHint = hint.String
		r.HasImage = hasImage != 0
		fillDiagnosis(d, categories, solutions, urgency, insights)
		out = append(out, dr)
	}
	return out, rows.Err()
}

// CountDiagnoses returns the number of stored diagnoses.
func (q *Queries) CountDiagnoses() (int, error) {
	var n int
	err := q.q.QueryRow("SELECT COUNT(*) FROM diagnoses").Scan(&n)
	return n, err
}

const joinedReportColumns = `r.id, r.community, r.title, r.body, r.author, r.created_utc, r.url, r.post_hint,
	r.score, r.num_comments, r.upvote_ratio, r.image_path, r.collected_at,
	r.category, r.confidence_level, r.has_image, r.quality_score, r.word_count`

func scanDiagnosis(s scanner) (*Diagnosis, error) {
	var d Diagnosis
	var categories, solutions string
	var urgency, insights sql.NullString
	if err := s.Scan(&d.ReportID, &d.Model, &d.RootCause, &d.Confidence, &categories, &solutions,
		&d.RawResponse, &d.AnalyzedAt, &d.AffectedPercentage, &d.HealthScore, &urgency, &insights); err != nil {
		return nil, err
	}
	fillDiagnosis(&d, categories, solutions, urgency, insights)
	return &d, nil
}

// fillDiagnosis decodes the JSON columns. Malformed stored values decode to
// empty lists rather than failing the read.
func fillDiagnosis(d *Diagnosis, categories, solutions string, urgency, insights sql.NullString) {
	if err := json.Unmarshal([]byte(categories), &d.Categories); err != nil || d.Categories == nil {
		d.Categories = []string{}
	}
	if err := json.Unmarshal([]byte(solutions), &d.Solutions); err != nil || d.Solutions == nil {
		d.Solutions = []string{}
	}
	d.Urgency = urgency.String
	if insights.Valid {
		json.Unmarshal([]byte(insights.String), &d.Insights)
	}
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encoding list: %w", err)
	}
	return string(data), nil
}
