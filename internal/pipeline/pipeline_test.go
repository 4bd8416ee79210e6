package pipeline

import (
	"context"
	"errors"
	"iter"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/TurfWatch/internal/collect"
	"github.com/TobiSchelling/TurfWatch/internal/config"
	"github.com/TobiSchelling/TurfWatch/internal/database"
	"github.com/TobiSchelling/TurfWatch/internal/llm"
	"github.com/TobiSchelling/TurfWatch/internal/reddit"
)

type stubSource struct {
	posts map[string][]reddit.Post
}

func (s *stubSource) Search(ctx context.Context, p reddit.SearchParams) iter.Seq2[reddit.Post, error] {
	return func(yield func(reddit.Post, error) bool) {
		for _, post := range s.posts[p.Query] {
			if !yield(post, nil) {
				return
			}
		}
	}
}

func (s *stubSource) Comments(ctx context.Context, postID string, limit int) ([]reddit.Comment, error) {
	return []reddit.Comment{{
		ID: "c_" + postID, ParentID: "t3_" + postID, Author: "helper",
		Body: "Milky spore worked for me, apply it in late summer.", Score: 12, CreatedUTC: 2000,
	}}, nil
}

type stubProvider struct {
	calls int
}

func (p *stubProvider) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.calls++
	return `{"root_cause": "grubs", "confidence": "high", "categories": ["grubs"], "solutions": ["milky spore"],
		"weed_percentage": 0, "health_score": 4, "treatment_urgency": "high"}`, nil
}

func (p *stubProvider) IsConfigured() bool { return true }
func (p *stubProvider) Name() string       { return "stub" }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Output.DataDir = t.TempDir()
	cfg.Sources.Communities = []string{"lawncare"}
	cfg.Sources.RequestDelay = config.Duration{}
	cfg.Analysis.CallDelay = config.Duration{}
	cfg.Assets.Enabled = false
	cfg.Categories = []config.Category{
		{Name: "grubs", Keywords: []string{"grubs", "grass peels like carpet"}},
		{Name: "moss_invasion", Keywords: []string{"moss"}},
	}
	return cfg
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunCollectsThenAnalyzes(t *testing.T) {
	cfg := testConfig(t)
	db := openTestDB(t)
	src := &stubSource{posts: map[string][]reddit.Post{
		"grubs": {{
			ID: "p1", Community: "lawncare", Title: "Grubs everywhere, grass peels like carpet",
			Body: "Whole patches lift up and there are white grubs underneath.", Author: "owner",
			CreatedUTC: 1500, Score: 30, NumComments: 4, PostHint: "self",
		}},
	}}
	provider := &stubProvider{}

	res := New(cfg, db, src, provider).Run(context.Background(), collect.ModeIncremental)
	require.Len(t, res.Steps, 2)
	for _, s := range res.Steps {
		require.NoError(t, s.Err, s.Name)
	}
	assert.Contains(t, res.Steps[0].Summary, "full: 1 new reports, 1 new replies")
	assert.Contains(t, res.Steps[1].Summary, "1 diagnosed")
	assert.Equal(t, 1, provider.calls)

	r, err := db.GetReport("p1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "grubs", r.Category)

	d, err := db.GetDiagnosis("p1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "high", d.Urgency)
}

func TestRunWithoutProviderSkipsAnalysis(t *testing.T) {
	cfg := testConfig(t)
	res := New(cfg, openTestDB(t), &stubSource{}, nil).Run(context.Background(), collect.ModeFull)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "Skipped: no diagnosis provider", res.Steps[1].Summary)
}

func TestDryRunTouchesNothing(t *testing.T) {
	cfg := testConfig(t)
	db := openTestDB(t)
	res := New(cfg, db, nil, nil).DryRun()
	require.Len(t, res.Steps, 2)
	assert.Contains(t, res.Steps[0].Summary, "3 search terms")
	assert.Contains(t, res.Steps[0].Summary, "full collection")
	assert.Contains(t, res.Steps[1].Summary, "0 of 0 undiagnosed")
}

func TestAnalyzeDryRunNeedsNoProvider(t *testing.T) {
	cfg := testConfig(t)
	step := New(cfg, openTestDB(t), nil, nil).Analyze(context.Background(), true, 0)
	require.NoError(t, step.Err)
	assert.True(t, strings.HasPrefix(step.Summary, "[dry-run]"), step.Summary)
}

func TestCategoryTableFallsBackToDefault(t *testing.T) {
	cfg := config.Default()
	cfg.Categories = nil
	tbl := CategoryTable(cfg)
	assert.Greater(t, tbl.Len(), 2)

	cat, _ := tbl.Categorize("Help", "my dog urine is killing the grass")
	assert.Equal(t, "dog_urine_spots", cat)
}

func TestNewSource(t *testing.T) {
	cfg := config.Default()
	cfg.Sources.ClientIDEnv = "TURFWATCH_TEST_ID"
	cfg.Sources.ClientSecretEnv = "TURFWATCH_TEST_SECRET"
	t.Setenv("TURFWATCH_TEST_ID", "")
	t.Setenv("TURFWATCH_TEST_SECRET", "")

	_, err := NewSource(context.Background(), cfg)
	assert.True(t, errors.Is(err, config.ErrMissingCredentials), "got %v", err)

	cfg.Sources.Client = "feed"
	src, err := NewSource(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &reddit.FeedClient{}, src)

	cfg.Sources.Client = "carrier-pigeon"
	_, err = NewSource(context.Background(), cfg)
	assert.Error(t, err)
}
