package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/TurfWatch/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "failed to open test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func newServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	srv, err := New(db)
	require.NoError(t, err, "failed to create server")
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func post(t *testing.T, srv *Server, path, form string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func seedDiagnosed(t *testing.T, db *database.DB) {
	t.Helper()
	require.NoError(t, db.UpsertReport(&database.Report{
		ID: "abc", Community: "lawncare", Title: "Yellow circles after the puppy arrived",
		Body: "Spots are **everywhere** <script>alert(1)</script>", Author: "owner",
		CreatedUTC: 1770386580, Score: 42, NumComments: 3, CollectedAt: database.Now(),
		Category: "dog_urine_spots", ConfidenceLevel: "high",
	}))
	require.NoError(t, db.UpsertReply(&database.Reply{
		ID: "r1", ReportID: "abc", Author: "helper", Body: "Water the spot right away, worked for me",
		Score: 10, IsSolution: true, ReplyType: "solution",
	}))
	_, err := db.InsertDiagnosis(&database.Diagnosis{
		ReportID: "abc", Model: "openai/gpt-4o-mini", RootCause: "Nitrogen burn from dog urine",
		Confidence: "high", Categories: []string{"dog_urine_spots"}, Solutions: []string{"Dilute with water"},
		RawResponse: "{}", AnalyzedAt: database.Now(), AffectedPercentage: 15, HealthScore: 6, Urgency: "medium",
		Insights: database.ReplyInsights{TotalReplies: 1, SolutionReplies: 1, CommunityConfidence: "low"},
	})
	require.NoError(t, err)
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	rec := get(t, newServer(t, db), "/")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No diagnoses yet")
}

func TestIndexListsDiagnoses(t *testing.T) {
	db := openTestDB(t)
	seedDiagnosed(t, db)
	body := get(t, newServer(t, db), "/").Body.String()

	for _, want := range []string{"/report/abc", "Nitrogen burn from dog urine", "dog urine spots", "15%"} {
		assert.Contains(t, body, want)
	}
}

func TestReportRoute(t *testing.T) {
	db := openTestDB(t)
	seedDiagnosed(t, db)
	rec := get(t, newServer(t, db), "/report/abc")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "<strong>everywhere</strong>", "markdown-rendered body")
	assert.NotContains(t, body, "<script>alert(1)</script>", "raw HTML in report body must not be rendered")
	assert.Contains(t, body, "Dilute with water")
	assert.Contains(t, body, "worked for me")
	assert.Contains(t, body, "Feb 06, 2026 14:03")
}

func TestReportRouteNotFound(t *testing.T) {
	db := openTestDB(t)
	rec := get(t, newServer(t, db), "/report/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTermRoutes(t *testing.T) {
	db := openTestDB(t)
	srv := newServer(t, db)

	rec := post(t, srv, "/terms/add", "term=nutsedge&note=spreads+in+summer")
	assert.Equal(t, http.StatusFound, rec.Code)
	terms, err := db.GetAllWatchTerms()
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, "nutsedge", terms[0].Term)
	assert.True(t, terms[0].IsActive)
	id := terms[0].ID

	body := get(t, srv, "/terms").Body.String()
	assert.Contains(t, body, "nutsedge")
	assert.Contains(t, body, "spreads in summer")

	post(t, srv, "/terms/"+itoa(id)+"/toggle", "")
	term, err := db.GetWatchTerm(id)
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.False(t, term.IsActive, "paused after toggle")

	post(t, srv, "/terms/"+itoa(id)+"/edit", "term=yellow+nutsedge&note=")
	term, err = db.GetWatchTerm(id)
	require.NoError(t, err)
	require.NotNil(t, term)
	assert.Equal(t, "yellow nutsedge", term.Term)

	post(t, srv, "/terms/"+itoa(id)+"/delete", "")
	terms, err = db.GetAllWatchTerms()
	require.NoError(t, err)
	assert.Empty(t, terms)
}

func TestTermActionRequiresPost(t *testing.T) {
	db := openTestDB(t)
	id, err := db.InsertWatchTerm("moss", nil)
	require.NoError(t, err)
	srv := newServer(t, db)

	rec := get(t, srv, "/terms/"+itoa(id)+"/delete")
	assert.Equal(t, http.StatusFound, rec.Code)
	term, err := db.GetWatchTerm(id)
	require.NoError(t, err)
	assert.NotNil(t, term, "GET must not delete")
}

func TestStaticRoute(t *testing.T) {
	db := openTestDB(t)
	rec := get(t, newServer(t, db), "/static/style.css")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "font-sans")
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
