package diagnose

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/TurfWatch/internal/database"
	"github.com/TobiSchelling/TurfWatch/internal/llm"
)

type mockProvider struct {
	respond func(req llm.Request) (string, error)
	calls   []llm.Request
}

func (m *mockProvider) Generate(_ context.Context, req llm.Request) (string, error) {
	m.calls = append(m.calls, req)
	return m.respond(req)
}

func (m *mockProvider) IsConfigured() bool { return true }
func (m *mockProvider) Name() string       { return "mock/test" }

func answer(raw string) *mockProvider {
	return &mockProvider{respond: func(llm.Request) (string, error) { return raw, nil }}
}

const goodResponse = `{"root_cause": "Nitrogen burn from dog urine", "confidence": "high",
	"categories": "dog_urine_spots", "solutions": ["water the spot"],
	"weed_percentage": 5, "health_score": 7, "treatment_urgency": "low"}`

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedReport(t *testing.T, db *database.DB, id, title, category string, score int) {
	t.Helper()
	require.NoError(t, db.UpsertReport(&database.Report{
		ID:              id,
		Community:       "lawncare",
		Title:           title,
		Body:            "Yellow circles all over the back lawn since we got a puppy.",
		Author:          "someone",
		CreatedUTC:      1000,
		Score:           score,
		CollectedAt:     database.Now(),
		Category:        category,
		ConfidenceLevel: "medium",
	}))
}

func seedReply(t *testing.T, db *database.DB, id, reportID, body string, solution, diagnostic bool, score int) {
	t.Helper()
	require.NoError(t, db.UpsertReply(&database.Reply{
		ID:           id,
		ReportID:     reportID,
		Author:       "helper",
		Body:         body,
		Score:        score,
		IsSolution:   solution,
		IsDiagnostic: diagnostic,
	}))
}

func testOptions() Options {
	return Options{ReplyRoles: true, Extended: true}
}

func TestAnalyzeStoresDiagnosisOnce(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db, "a", "Yellow spots", "dog_urine_spots", 50)
	seedReport(t, db, "b", "Brown lawn", "drought_stress", 10)
	seedReply(t, db, "a1", "a", "Water it right after, worked for me", true, false, 9)
	seedReply(t, db, "a2", "a", "Looks like dog urine", false, true, 4)

	p := answer(goodResponse)
	o := NewOrchestrator(db, p, testOptions())

	res, err := o.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 2, res.Diagnosed)
	assert.Equal(t, 2, res.Coerced, "bare categories string is coerced")
	assert.NotEmpty(t, res.RunID)
	require.Len(t, p.calls, 2)
	assert.True(t, p.calls[0].JSON)
	assert.Equal(t, systemPrompt, p.calls[0].System)
	assert.Contains(t, p.calls[0].Prompt, "Title: Yellow spots")

	d, err := db.GetDiagnosis("a")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{"dog_urine_spots"}, d.Categories)
	assert.Equal(t, "high", d.Confidence)
	assert.Equal(t, "low", d.Urgency)
	assert.Equal(t, "mock/test", d.Model)
	assert.Equal(t, goodResponse, d.RawResponse)
	assert.Equal(t, 2, d.Insights.TotalReplies)
	assert.Equal(t, 1, d.Insights.SolutionReplies)
	assert.Equal(t, "low", d.Insights.CommunityConfidence)

	again, err := o.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Selected)
	assert.Len(t, p.calls, 2, "diagnosed reports are never sent again")
}

func TestAnalyzeSkipsUnparsableAndRetriesLater(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db, "bad", "Weird patches", "unknown", 90)
	seedReport(t, db, "good", "Dog spots", "dog_urine_spots", 10)

	p := &mockProvider{respond: func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Weird patches") {
			return "Sorry, I am not sure what this is.", nil
		}
		return goodResponse, nil
	}}
	res, err := NewOrchestrator(db, p, testOptions()).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Diagnosed)

	d, err := db.GetDiagnosis("bad")
	require.NoError(t, err)
	assert.Nil(t, d)

	res, err = NewOrchestrator(db, answer(goodResponse), testOptions()).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, 1, res.Diagnosed)
}

func TestAnalyzeProviderErrorContinues(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db, "a", "First", "grubs", 30)
	seedReport(t, db, "b", "Second", "grubs", 20)
	seedReport(t, db, "c", "Third", "grubs", 10)

	p := &mockProvider{respond: func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Title: Second") {
			return "", errors.New("connection reset")
		}
		return goodResponse, nil
	}}
	res, err := NewOrchestrator(db, p, Options{Extended: true, CommitEvery: 1}).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 2, res.Diagnosed)

	n, err := db.CountDiagnoses()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	runs, err := db.GetRecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunAnalyze, runs[0].Kind)
	assert.Equal(t, 2, runs[0].Created)
	assert.Equal(t, 1, runs[0].Errors)
}

func TestAnalyzeCommitsInBatches(t *testing.T) {
	db := openTestDB(t)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		seedReport(t, db, id, "Report "+id, "moss_invasion", 1)
	}
	res, err := NewOrchestrator(db, answer(goodResponse), Options{CommitEvery: 2}).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Diagnosed)

	n, err := db.CountDiagnoses()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAnalyzeBasicSchema(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db, "a", "Yellow spots", "dog_urine_spots", 50)

	p := answer(`{"root_cause": "urine", "confidence": "medium", "categories": ["pets"], "solutions": []}`)
	res, err := NewOrchestrator(db, p, Options{}).Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Diagnosed)
	assert.Equal(t, 0, res.Coerced)
	assert.Contains(t, p.calls[0].Prompt, "turfgrass diagnostician")
	assert.NotContains(t, p.calls[0].Prompt, "weed_percentage")

	d, err := db.GetDiagnosis("a")
	require.NoError(t, err)
	assert.Equal(t, 5.0, d.HealthScore)
	assert.Equal(t, "", d.Urgency)
}

func TestAnalyzeReplyRanking(t *testing.T) {
	seed := func(t *testing.T) *database.DB {
		db := openTestDB(t)
		seedReport(t, db, "a", "Bare patches", "grubs", 50)
		for i := 0; i < signalReplies; i++ {
			seedReply(t, db, fmt.Sprintf("s%02d", i), "a", fmt.Sprintf("Fixed with lime, round %d", i), true, false, 1)
		}
		seedReply(t, db, "top", "a", "Probably grubs, pull back the sod", false, false, 99)
		return db
	}

	byRole := answer(goodResponse)
	_, err := NewOrchestrator(seed(t), byRole, Options{ReplyRoles: true}).Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, byRole.calls, 1)
	assert.NotContains(t, byRole.calls[0].Prompt, "Probably grubs", "labelled replies fill the reply budget first")

	byScore := answer(goodResponse)
	_, err = NewOrchestrator(seed(t), byScore, Options{}).Analyze(context.Background())
	require.NoError(t, err)
	require.Len(t, byScore.calls, 1)
	assert.Contains(t, byScore.calls[0].Prompt, "Diagnostic Comments:\n  1. Probably grubs, pull back the sod...")
}

func TestAnalyzeDryRunWritesNothing(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db, "a", "Yellow spots", "dog_urine_spots", 50)
	seedReply(t, db, "a1", "a", "Water it right after, worked for me", true, false, 9)

	var out bytes.Buffer
	opts := testOptions()
	opts.DryRun = true
	opts.Out = &out
	res, err := NewOrchestrator(db, nil, opts).Analyze(context.Background())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, 1, res.Selected)
	assert.Contains(t, out.String(), "--- DRY RUN for a ---")
	assert.Contains(t, out.String(), "Category: dog_urine_spots, Replies: 1 (1 solutions, 0 diagnostic)")

	n, err := db.CountDiagnoses()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	runs, err := db.GetRecentRuns(5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestAnalyzeCancelled(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db, "a", "First", "grubs", 30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOrchestrator(db, answer(goodResponse), testOptions()).Analyze(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInsights(t *testing.T) {
	assert.Equal(t, "high", Insights(database.Candidate{SolutionReplies: 3, DiagnosticReplies: 5}).CommunityConfidence)
	assert.Equal(t, "medium", Insights(database.Candidate{SolutionReplies: 2, DiagnosticReplies: 2}).CommunityConfidence)
	assert.Equal(t, "low", Insights(database.Candidate{SolutionReplies: 2, DiagnosticReplies: 1}).CommunityConfidence)
}

func TestDiscoverWritesFindings(t *testing.T) {
	db := openTestDB(t)
	seedReport(t, db, "odd", "Strange orange dust on blades", "unknown", 40)
	for i, body := range []string{"Fungicide fixed it", "Mowing less often worked", "Solved with nitrogen"} {
		seedReply(t, db, "odd"+string(rune('a'+i)), "odd", body, true, false, 5)
	}
	seedReport(t, db, "quiet", "Unknown but unpopular", "unknown", 3)

	p := answer(`{"discovered_problems": [{"name": "Leaf rust", "confidence": 0.8, "supporting_posts": 1}]}`)
	dir := t.TempDir()
	var out bytes.Buffer
	res, err := Discover(context.Background(), db, p, DiscoverOptions{
		DataDir:    dir,
		Categories: []string{"dog_urine_spots", "rust_fungus"},
		Out:        &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	require.Len(t, res.Problems, 1)
	assert.Equal(t, Problem{Name: "Leaf rust", Confidence: "0.8", SupportingPosts: "1"}, res.Problems[0])

	require.Len(t, p.calls, 1)
	prompt := p.calls[0].Prompt
	assert.Contains(t, prompt, "Existing categories: dog urine spots, rust fungus.")
	assert.Contains(t, prompt, "1. Title: Strange orange dust on blades")
	assert.Contains(t, prompt, "Fungicide fixed it")
	assert.NotContains(t, prompt, "Unknown but unpopular")

	assert.Equal(t, filepath.Join(dir, DiscoveryFile), res.Path)
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	var saved struct {
		Timestamp   string           `json:"timestamp"`
		Discoveries []map[string]any `json:"discoveries"`
	}
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.NotEmpty(t, saved.Timestamp)
	require.Len(t, saved.Discoveries, 1)
	assert.Equal(t, "Leaf rust", saved.Discoveries[0]["name"])
}

func TestDiscoverNoCandidates(t *testing.T) {
	db := openTestDB(t)
	p := answer(`{}`)
	res, err := Discover(context.Background(), db, p, DiscoverOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Empty(t, p.calls)
}
