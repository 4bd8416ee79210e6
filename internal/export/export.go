// Package export writes the diagnosed corpus as CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TobiSchelling/TurfWatch/internal/database"
)

// DefaultFile is the export file name inside the data directory.
const DefaultFile = "lawn_diagnoses.csv"

// Header is the CSV header row.
var Header = []string{
	"report_id", "community", "title", "category", "root_cause", "confidence",
	"solutions", "categories", "affected_percentage", "health_score", "urgency",
	"url", "image_path", "score", "num_comments", "solution_replies", "diagnostic_replies",
}

// WriteCSV writes one row per diagnosed report, in the order given.
func WriteCSV(w io.Writer, rows []database.DiagnosedReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, dr := range rows {
		if err := cw.Write(record(dr)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func record(dr database.DiagnosedReport) []string {
	r, d := dr.Report, dr.Diagnosis
	image := ""
	if r.ImagePath != nil {
		image = *r.ImagePath
	}
	return []string{
		r.ID,
		r.Community,
		singleLine(r.Title),
		r.Category,
		singleLine(d.RootCause),
		d.Confidence,
		jsonList(d.Solutions),
		jsonList(d.Categories),
		strconv.FormatFloat(d.AffectedPercentage, 'f', -1, 64),
		strconv.FormatFloat(d.HealthScore, 'f', -1, 64),
		d.Urgency,
		r.URL,
		image,
		strconv.Itoa(r.Score),
		strconv.Itoa(r.NumComments),
		strconv.Itoa(d.Insights.SolutionReplies),
		strconv.Itoa(d.Insights.DiagnosticReplies),
	}
}

// ToFile exports every diagnosed report to path, ordered by affected area
// and then score. It returns the number of rows written.
func ToFile(db *database.DB, path string) (int, error) {
	rows, err := db.GetDiagnosedReports(0)
	if err != nil {
		return 0, fmt.Errorf("loading diagnoses: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return len(rows), f.Close()
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, _ := json.Marshal(items)
	return string(b)
}
