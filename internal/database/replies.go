package database

import "database/sql"

const replyColumns = `id, report_id, parent_id, author, body, score, created_utc,
	is_solution, is_diagnostic, has_product_mention, confidence_score, reply_type`

// UpsertReply stores a reply, replacing any previous row with the same id.
// The owning report must already exist.
func (q *Queries) UpsertReply(r *Reply) error {
	var replyType *string
	if r.ReplyType != "" {
		replyType = &r.ReplyType
	}
	_, err := q.q.Exec(
		`INSERT INTO replies (`+replyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			report_id = excluded.report_id,
			parent_id = excluded.parent_id,
			author = excluded.author,
			body = excluded.body,
			score = excluded.score,
			created_utc = excluded.created_utc,
			is_solution = excluded.is_solution,
			is_diagnostic = excluded.is_diagnostic,
			has_product_mention = excluded.has_product_mention,
			confidence_score = excluded.confidence_score,
			reply_type = excluded.reply_type`,
		r.ID, r.ReportID, r.ParentID, r.Author, r.Body, r.Score, r.CreatedUTC,
		boolInt(r.IsSolution), boolInt(r.IsDiagnostic), boolInt(r.HasProductMention),
		r.ConfidenceScore, replyType,
	)
	return err
}

// GetReplyIDs returns the ids of the replies stored for a report.
func (q *Queries) GetReplyIDs(reportID string) (map[string]struct{}, error) {
	rows, err := q.q.Query("SELECT id FROM replies WHERE report_id = ?", reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// GetReplies returns all replies of a report, best scored first.
func (q *Queries) GetReplies(reportID string) ([]Reply, error) {
	rows, err := q.q.Query(
		"SELECT "+replyColumns+" FROM replies WHERE report_id = ? ORDER BY score DESC, id",
		reportID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReplies(rows)
}

// GetSignalReplies returns up to limit non-empty replies of a report. With
// byRole set they are ordered by role (solution, then diagnostic, then the
// rest) and then by score; otherwise by score alone.
func (q *Queries) GetSignalReplies(reportID string, limit int, byRole bool) ([]Reply, error) {
	order := "score DESC, id"
	if byRole {
		order = `CASE WHEN is_solution = 1 THEN 3
			     WHEN is_diagnostic = 1 THEN 2
			     ELSE 1 END DESC,
			score DESC,
			id`
	}
	rows, err := q.q.Query(
		`SELECT `+replyColumns+` FROM replies
		WHERE report_id = ? AND body != ''
		ORDER BY `+order+`
		LIMIT ?`,
		reportID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReplies(rows)
}

// CountReplies returns the number of stored replies.
func (q *Queries) CountReplies() (int, error) {
	var n int
	err := q.q.QueryRow("SELECT COUNT(*) FROM replies").Scan(&n)
	return n, err
}

func scanReplies(rows *sql.Rows) ([]Reply, error) {
	var replies []Reply
	for rows.Next() {
		var r Reply
		var sol, diag, prod int
		var replyType sql.NullString
		if err := rows.Scan(&r.ID, &r.ReportID, &r.ParentID, &r.Author, &r.Body, &r.Score,
			&r.CreatedUTC, &sol, &diag, &prod, &r.ConfidenceScore, &replyType); err != nil {
			return nil, err
		}
		r.IsSolution = sol != 0
		r.IsDiagnostic = diag != 0
		r.HasProductMention = prod != 0
		r.ReplyType = replyType.String
		replies = append(replies, r)
	}
	return replies, rows.Err()
}
