// Package pipeline wires configuration, store and collaborators into the
// collect and analyze steps.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/TobiSchelling/TurfWatch/internal/assets"
	"github.com/TobiSchelling/TurfWatch/internal/collect"
	"github.com/TobiSchelling/TurfWatch/internal/config"
	"github.com/TobiSchelling/TurfWatch/internal/database"
	"github.com/TobiSchelling/TurfWatch/internal/diagnose"
	"github.com/TobiSchelling/TurfWatch/internal/fetch"
	"github.com/TobiSchelling/TurfWatch/internal/llm"
	"github.com/TobiSchelling/TurfWatch/internal/reddit"
	"github.com/TobiSchelling/TurfWatch/internal/scorer"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
}

// Pipeline runs collection and analysis against one store.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	src      collect.Source
	provider llm.Provider
	table    *scorer.Table
}

// New creates a pipeline. src may be nil when only analysis runs, provider
// may be nil when only collection runs.
func New(cfg *config.Config, db *database.DB, src collect.Source, provider llm.Provider) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		db:       db,
		src:      src,
		provider: provider,
		table:    CategoryTable(cfg),
	}
}

// CategoryTable builds the category table from config, falling back to the
// built-in table when none is configured.
func CategoryTable(cfg *config.Config) *scorer.Table {
	if len(cfg.Categories) == 0 {
		return scorer.DefaultTable()
	}
	cats := make([]scorer.Category, len(cfg.Categories))
	for i, c := range cfg.Categories {
		cats[i] = scorer.Category{Name: c.Name, Keywords: c.Keywords}
	}
	return scorer.NewTable(cats)
}

// NewSource builds the configured Reddit client. The API client needs
// credentials; their absence is reported before any work starts.
func NewSource(ctx context.Context, cfg *config.Config) (collect.Source, error) {
	s := cfg.Sources
	switch strings.ToLower(s.Client) {
	case "feed":
		return reddit.NewFeedClient("", s.UserAgent, s.RequestDelay.Duration), nil
	case "", "api":
		id, secret, err := cfg.RedditCredentials()
		if err != nil {
			return nil, err
		}
		return reddit.NewAPIClient(ctx, reddit.APIConfig{
			ClientID:     id,
			ClientSecret: secret,
			UserAgent:    s.UserAgent,
			MinInterval:  s.RequestDelay.Duration,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sources.client %q (want api or feed)", s.Client)
	}
}

// Run collects and then analyzes. Analysis is skipped when collection was
// cancelled or no provider is configured.
func (p *Pipeline) Run(ctx context.Context, mode collect.Mode) *Result {
	r := &Result{}

	step := p.Collect(ctx, mode)
	r.Steps = append(r.Steps, step)
	if ctx.Err() != nil {
		return r
	}

	if p.provider == nil {
		r.Steps = append(r.Steps, StepResult{Name: "Analyze", Summary: "Skipped: no diagnosis provider"})
		return r
	}
	r.Steps = append(r.Steps, p.Analyze(ctx, false, 0))
	return r
}

// DryRun shows what a run would do without calling any external service.
func (p *Pipeline) DryRun() *Result {
	r := &Result{}

	stats, err := p.db.GetStats()
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Collect", Err: err})
		return r
	}
	terms := p.table.SearchTerms(p.cfg.Sources.MaxSearchTerms)
	collectSummary := fmt.Sprintf("[dry-run] %d search terms (+%d watch terms) in %d communities, full collection (empty store)",
		len(terms), stats.ActiveTerms, len(p.cfg.Sources.Communities))
	if stats.TotalReports > 0 {
		collectSummary = fmt.Sprintf("[dry-run] %d search terms (+%d watch terms) in %d communities, newer than %s",
			len(terms), stats.ActiveTerms, len(p.cfg.Sources.Communities), database.FormatUnix(stats.Watermark))
	}
	r.Steps = append(r.Steps, StepResult{Name: "Collect", Summary: collectSummary})

	pending := min(stats.Undiagnosed, p.cfg.Analysis.SelectLimit)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Analyze",
		Summary: fmt.Sprintf("[dry-run] %d of %d undiagnosed reports would be analyzed", pending, stats.Undiagnosed),
	})
	return r
}

// Collect runs one collection in the given mode.
func (p *Pipeline) Collect(ctx context.Context, mode collect.Mode) StepResult {
	if p.src == nil {
		return StepResult{Name: "Collect", Err: fmt.Errorf("no content source configured")}
	}
	log.Println("Step 1/2: Collecting reports...")

	s := p.cfg.Sources
	opts := collect.Options{
		Mode:          mode,
		Communities:   s.Communities,
		MaxTerms:      s.MaxSearchTerms,
		Sort:          s.Sort,
		TimeFilter:    s.TimeFilter,
		SearchLimit:   s.SearchLimit,
		MaxNewPerTerm: s.MaxNewPerTerm,
		MaxReplies:    s.MaxReplies,
		TermDelay:     s.RequestDelay.Duration,
	}
	if p.cfg.Assets.Enabled {
		opts.Assets = assets.NewStore(p.cfg.GetAssetsDir(), s.UserAgent)
	}
	if s.FetchLinkedContent {
		opts.Linked = fetch.NewLinkedContent(s.UserAgent, 0)
	}

	res, err := collect.NewCollector(p.db, p.src, p.table, opts).Collect(ctx)
	if res == nil {
		return StepResult{Name: "Collect", Err: err}
	}
	summary := fmt.Sprintf("%s: %d new reports, %d new replies, %d updated, %d skipped, %d images, %d errors",
		res.Mode, res.NewReports, res.NewReplies, res.Updated, res.SkippedOld+res.SkippedKnown, res.Images, res.Errors)
	return StepResult{Name: "Collect", Summary: summary, Err: err}
}

// Analyze runs one analysis batch. A limit of zero uses the configured
// select limit.
func (p *Pipeline) Analyze(ctx context.Context, dryRun bool, limit int) StepResult {
	if p.provider == nil && !dryRun {
		return StepResult{Name: "Analyze", Err: fmt.Errorf("no diagnosis provider configured")}
	}
	log.Println("Step 2/2: Analyzing reports...")

	a := p.cfg.Analysis
	if limit <= 0 {
		limit = a.SelectLimit
	}
	o := diagnose.NewOrchestrator(p.db, p.provider, diagnose.Options{
		Limit:       limit,
		CommitEvery: a.CommitEvery,
		MaxTokens:   a.MaxTokens,
		CallDelay:   a.CallDelay.Duration,
		ReplyRoles:  a.Features.ReplyRoles,
		Extended:    a.Features.ExtendedDiagnosis,
		DryRun:      dryRun,
	})
	res, err := o.Analyze(ctx)
	if res == nil {
		return StepResult{Name: "Analyze", Err: err}
	}
	if res.DryRun {
		return StepResult{Name: "Analyze", Summary: fmt.Sprintf("[dry-run] %d reports would be analyzed", res.Selected)}
	}
	summary := fmt.Sprintf("%d selected, %d diagnosed (%d coerced), %d rejected, %d errors",
		res.Selected, res.Diagnosed, res.Coerced, res.Rejected, res.Errors)
	return StepResult{Name: "Analyze", Summary: summary, Err: err}
}

// Discover asks the model for root causes missing from the category table.
func (p *Pipeline) Discover(ctx context.Context, dryRun bool) StepResult {
	if p.provider == nil && !dryRun {
		return StepResult{Name: "Discover", Err: fmt.Errorf("no diagnosis provider configured")}
	}
	res, err := diagnose.Discover(ctx, p.db, p.provider, diagnose.DiscoverOptions{
		DataDir:    p.cfg.GetDataDir(),
		Categories: p.table.Names(),
		DryRun:     dryRun,
	})
	if err != nil {
		return StepResult{Name: "Discover", Err: err}
	}
	summary := fmt.Sprintf("%d candidate reports, %d new root causes", res.Candidates, len(res.Problems))
	if res.Path != "" {
		summary += ", saved to " + res.Path
	}
	return StepResult{Name: "Discover", Summary: summary}
}
