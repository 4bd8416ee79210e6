// Package diagnose turns collected reports into stored diagnoses.
//
// The orchestrator selects reports without a diagnosis in priority order,
// prompts the diagnosis service with each report and its highest-signal
// replies, coerces the untrusted response and stores it exactly once.
// A report whose call or parse fails stays undiagnosed and is selected again
// by the next run.
package diagnose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/TobiSchelling/TurfWatch/internal/database"
	"github.com/TobiSchelling/TurfWatch/internal/llm"
)

const signalReplies = 20

// Options configures an analysis run.
type Options struct {
	Limit       int // reports selected per run
	CommitEvery int
	MaxTokens   int
	CallDelay   time.Duration

	ReplyRoles bool // rank and bucket replies by stored labels instead of score and keyword cues
	Extended   bool // ask for and store the extended diagnosis fields

	DryRun bool
	Out    io.Writer // dry-run prompts; defaults to stdout
}

// Result holds the counts of an analysis run.
type Result struct {
	RunID     string
	Selected  int
	Diagnosed int
	Coerced   int // diagnosed, but at least one field needed repair
	Existing  int // a diagnosis appeared since selection and was kept
	Rejected  int
	Errors    int
	DryRun    bool
}

// Orchestrator runs analysis batches against a store and a provider.
type Orchestrator struct {
	db       *database.DB
	provider llm.Provider
	opts     Options
	limiter  *rate.Limiter
}

// NewOrchestrator creates an orchestrator. provider may be nil for dry runs.
func NewOrchestrator(db *database.DB, provider llm.Provider, opts Options) *Orchestrator {
	if opts.Limit <= 0 {
		opts.Limit = 500
	}
	if opts.CommitEvery <= 0 {
		opts.CommitEvery = 30
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	limit := rate.Inf
	if opts.CallDelay > 0 {
		limit = rate.Every(opts.CallDelay)
	}
	return &Orchestrator{
		db:       db,
		provider: provider,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

func (o *Orchestrator) mode() string {
	if o.opts.Extended {
		return "extended"
	}
	return "basic"
}

// Analyze diagnoses one batch of undiagnosed reports. Per-report failures
// are logged and counted; only store failures and cancellation are returned.
func (o *Orchestrator) Analyze(ctx context.Context) (*Result, error) {
	cands, err := o.db.SelectUndiagnosed(o.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("selecting reports: %w", err)
	}
	r := &Result{Selected: len(cands), DryRun: o.opts.DryRun}
	if len(cands) == 0 {
		log.Println("No reports awaiting diagnosis")
		return r, nil
	}

	if o.opts.DryRun {
		return r, o.dryRun(cands)
	}
	if o.provider == nil {
		return nil, errors.New("no diagnosis provider configured")
	}

	runID, err := o.db.StartRun(database.RunAnalyze, o.mode())
	if err != nil {
		return nil, err
	}
	r.RunID = runID

	runErr := o.analyzeBatches(ctx, cands, r)

	if err := o.db.FinishRun(runID, database.RunCounts{
		Found:   r.Selected,
		Created: r.Diagnosed,
		Updated: r.Coerced,
		Skipped: r.Existing + r.Rejected,
		Errors:  r.Errors,
	}); err != nil {
		log.Printf("Failed to record analyze run: %v", err)
	}

	log.Printf("Analysis complete: %d selected, %d diagnosed (%d coerced), %d rejected, %d errors",
		r.Selected, r.Diagnosed, r.Coerced, r.Rejected, r.Errors)
	return r, runErr
}

// analyzeBatches writes diagnoses in transactions of CommitEvery reports.
func (o *Orchestrator) analyzeBatches(ctx context.Context, cands []database.Candidate, r *Result) error {
	tx, err := o.db.Begin()
	if err != nil {
		return err
	}
	defer func() { tx.Rollback() }()

	pending := 0
	for i, c := range cands {
		if err := o.limiter.Wait(ctx); err != nil {
			if cerr := tx.Commit(); cerr != nil {
				return fmt.Errorf("committing batch: %w", cerr)
			}
			return err
		}

		if err := o.analyzeOne(ctx, tx, c, r); err != nil {
			if errors.Is(err, ErrRejected) {
				r.Rejected++
			} else {
				r.Errors++
			}
			log.Printf("  Analysis failed for %s: %v", c.ReportID, err)
			continue
		}

		pending++
		if pending%o.opts.CommitEvery == 0 {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("committing batch: %w", err)
			}
			log.Printf("  Analyzed %d/%d (replies: %d, solutions: %d)",
				i+1, len(cands), c.ReplyCount, c.SolutionReplies)
			next, err := o.db.Begin()
			if err != nil {
				return err
			}
			tx = next
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

func (o *Orchestrator) analyzeOne(ctx context.Context, tx *database.Tx, c database.Candidate, r *Result) error {
	replies, err := tx.GetSignalReplies(c.ReportID, signalReplies, o.opts.ReplyRoles)
	if err != nil {
		return fmt.Errorf("loading replies: %w", err)
	}
	prompt := BuildPrompt(c, replies, o.opts.ReplyRoles, o.opts.Extended)

	raw, err := o.provider.Generate(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: o.opts.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		return err
	}

	v, outcome, err := Coerce(raw, o.opts.Extended)
	if err != nil {
		return err
	}
	if outcome.Kind == Coerced {
		log.Printf("  Coerced response for %s: %v", c.ReportID, outcome.Notes)
	}

	d := &database.Diagnosis{
		ReportID:           c.ReportID,
		Model:              o.provider.Name(),
		RootCause:          v.RootCause,
		Confidence:         v.Confidence,
		Categories:         v.Categories,
		Solutions:          v.Solutions,
		RawResponse:        raw,
		AnalyzedAt:         database.Now(),
		AffectedPercentage: v.AffectedPercentage,
		HealthScore:        v.HealthScore,
		Urgency:            v.Urgency,
		Insights:           Insights(c),
	}
	inserted, err := tx.InsertDiagnosis(d)
	if err != nil {
		return fmt.Errorf("storing diagnosis: %w", err)
	}
	if !inserted {
		r.Existing++
		return nil
	}
	r.Diagnosed++
	if outcome.Kind == Coerced {
		r.Coerced++
	}
	return nil
}

// Insights summarises the reply roles behind a candidate. Community
// confidence depends on the counts only, never on the model's answer.
func Insights(c database.Candidate) database.ReplyInsights {
	conf := "low"
	switch {
	case c.SolutionReplies > 2:
		conf = "high"
	case c.DiagnosticReplies > 1:
		conf = "medium"
	}
	return database.ReplyInsights{
		TotalReplies:        c.ReplyCount,
		SolutionReplies:     c.SolutionReplies,
		DiagnosticReplies:   c.DiagnosticReplies,
		CommunityConfidence: conf,
	}
}

func (o *Orchestrator) dryRun(cands []database.Candidate) error {
	for _, c := range cands {
		replies, err := o.db.GetSignalReplies(c.ReportID, signalReplies, o.opts.ReplyRoles)
		if err != nil {
			return fmt.Errorf("loading replies: %w", err)
		}
		prompt := BuildPrompt(c, replies, o.opts.ReplyRoles, o.opts.Extended)
		fmt.Fprintf(o.opts.Out, "--- DRY RUN for %s ---\n", c.ReportID)
		fmt.Fprintf(o.opts.Out, "Category: %s, Replies: %d (%d solutions, %d diagnostic)\n",
			c.Category, c.ReplyCount, c.SolutionReplies, c.DiagnosticReplies)
		fmt.Fprintf(o.opts.Out, "%s...\n\n", truncate(prompt, dryRunPromptLen))
	}
	return nil
}
