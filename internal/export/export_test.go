package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/TurfWatch/internal/database"
)

func TestWriteCSVQuotesAndFlattens(t *testing.T) {
	img := "/data/images/a.jpg"
	rows := []database.DiagnosedReport{{
		Report: database.Report{
			ID: "a", Community: "lawncare", Title: "Spots, everywhere\nhelp",
			Category: "dog_urine_spots", URL: "https://i.redd.it/a.jpg", ImagePath: &img,
			Score: 42, NumComments: 7,
		},
		Diagnosis: database.Diagnosis{
			RootCause: "Urine \"burn\"", Confidence: "high",
			Categories: []string{"dog_urine_spots"}, Solutions: []string{"water, then reseed"},
			AffectedPercentage: 12.5, HealthScore: 6, Urgency: "low",
			Insights: database.ReplyInsights{SolutionReplies: 3, DiagnosticReplies: 1},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{
		"a", "lawncare", "Spots, everywhere help", "dog_urine_spots", `Urine "burn"`, "high",
		`["water, then reseed"]`, `["dog_urine_spots"]`, "12.5", "6", "low",
		"https://i.redd.it/a.jpg", img, "42", "7", "3", "1",
	}, records[1])
}

func TestToFileOrdersByAffectedArea(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, tc := range []struct {
		id       string
		score    int
		affected float64
	}{{"low", 100, 5}, {"high", 1, 80}, {"mid", 50, 40}} {
		require.NoError(t, db.UpsertReport(&database.Report{
			ID: tc.id, Community: "lawncare", Title: tc.id, Author: "x", CreatedUTC: 1,
			Score: tc.score, CollectedAt: database.Now(), Category: "unknown", ConfidenceLevel: "low",
		}))
		_, err := db.InsertDiagnosis(&database.Diagnosis{
			ReportID: tc.id, Model: "m", Confidence: "low", RawResponse: "{}",
			AnalyzedAt: database.Now(), AffectedPercentage: tc.affected, HealthScore: 5,
		})
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "out", DefaultFile)
	n, err := ToFile(db, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "high", records[1][0])
	assert.Equal(t, "mid", records[2][0])
	assert.Equal(t, "low", records[3][0])
}
