// Package collect merges Reddit search results into the corpus store.
//
// Each upstream post falls into one of four states: new (scored and inserted
// with its replies), existing in a full run (skipped), existing in an
// incremental run (popularity signals refreshed and unseen replies added),
// or older than the watermark in an incremental run (skipped without any
// store access). Writes are committed once per search term; each post is
// wrapped in a savepoint so a failing post never takes the rest of the term
// with it.
package collect

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/TobiSchelling/TurfWatch/internal/assets"
	"github.com/TobiSchelling/TurfWatch/internal/database"
	"github.com/TobiSchelling/TurfWatch/internal/reddit"
	"github.com/TobiSchelling/TurfWatch/internal/scorer"
)

// Mode selects how existing reports are treated.
type Mode string

const (
	// ModeIncremental skips posts at or below the watermark and refreshes
	// the signals of posts that are already stored.
	ModeIncremental Mode = "incremental"
	// ModeFull ignores the watermark and skips posts that are already stored.
	ModeFull Mode = "full"
)

// Source is the content platform the collector reads from.
type Source interface {
	Search(ctx context.Context, p reddit.SearchParams) iter.Seq2[reddit.Post, error]
	Comments(ctx context.Context, postID string, limit int) ([]reddit.Comment, error)
}

// AssetStore saves post images and returns their local path.
type AssetStore interface {
	Save(ctx context.Context, url, id string) (string, error)
}

// ContentFetcher returns the readable text of a linked page.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Options configures a collection run.
type Options struct {
	Mode          Mode
	Communities   []string
	Terms         []string // empty: category keywords plus active watch terms
	MaxTerms      int      // cap on category keywords when Terms is empty
	Sort          string
	TimeFilter    string
	SearchLimit   int
	MaxNewPerTerm int
	MaxReplies    int
	TermDelay     time.Duration

	Assets AssetStore     // nil disables image downloads
	Linked ContentFetcher // nil disables linked-page bodies
}

// Result holds the counts of a collection run.
type Result struct {
	RunID        string
	Mode         Mode
	Watermark    int64
	Terms        int
	Found        int
	NewReports   int
	Updated      int
	NewReplies   int
	Images       int
	SkippedOld   int // incremental: at or below the watermark
	SkippedKnown int // full: already stored
	Errors       int
}

// Collector runs search terms against a Source and writes through the store.
type Collector struct {
	db      *database.DB
	src     Source
	table   *scorer.Table
	opts    Options
	limiter *rate.Limiter
}

// NewCollector creates a collector. table is the category table used both
// for search terms and for categorizing new reports.
func NewCollector(db *database.DB, src Source, table *scorer.Table, opts Options) *Collector {
	if opts.Mode == "" {
		opts.Mode = ModeIncremental
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 15
	}
	if opts.MaxNewPerTerm <= 0 {
		opts.MaxNewPerTerm = 10
	}
	if opts.MaxReplies <= 0 {
		opts.MaxReplies = 25
	}
	limit := rate.Inf
	if opts.TermDelay > 0 {
		limit = rate.Every(opts.TermDelay)
	}
	return &Collector{
		db:      db,
		src:     src,
		table:   table,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
	}
}

type itemState int

const (
	stateNew itemState = iota
	stateKnown
	stateRefreshed
)

// Collect runs every search term in every community. Only store failures
// before the first term and context cancellation are returned; per-term and
// per-item failures are logged and counted.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	r := &Result{Mode: c.opts.Mode}

	if r.Mode == ModeIncremental {
		wm, ok, err := c.db.MaxCreatedUTC()
		if err != nil {
			return nil, fmt.Errorf("reading watermark: %w", err)
		}
		if ok {
			r.Watermark = wm
			log.Printf("Incremental mode: collecting posts newer than %s", database.FormatUnix(wm))
		} else {
			log.Println("No previous data found, performing full collection")
			r.Mode = ModeFull
		}
	}

	terms, err := c.searchTerms()
	if err != nil {
		return nil, err
	}
	r.Terms = len(terms)

	runID, err := c.db.StartRun(database.RunCollect, string(r.Mode))
	if err != nil {
		return nil, err
	}
	r.RunID = runID

	var runErr error
loop:
	for _, community := range c.opts.Communities {
		log.Printf("Collecting from r/%s (%s)", community, r.Mode)
		for i, term := range terms {
			if err := c.limiter.Wait(ctx); err != nil {
				runErr = err
				break loop
			}
			log.Printf("  [%d/%d] Searching: %q", i+1, len(terms), term)
			if err := c.collectTerm(ctx, community, term, r); err != nil {
				r.Errors++
				log.Printf("  Search error for %q: %v", term, err)
			}
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break loop
			}
		}
	}

	if err := c.db.FinishRun(runID, database.RunCounts{
		Found:   r.Found,
		Created: r.NewReports,
		Updated: r.Updated,
		Skipped: r.SkippedOld + r.SkippedKnown,
		Errors:  r.Errors,
	}); err != nil {
		log.Printf("Failed to record collect run: %v", err)
	}

	log.Printf("Collection complete: %d found, %d new, %d updated, %d replies, %d skipped, %d errors",
		r.Found, r.NewReports, r.Updated, r.NewReplies, r.SkippedOld+r.SkippedKnown, r.Errors)
	return r, runErr
}

// searchTerms returns the explicit terms, or the first MaxTerms category
// keywords followed by the active watch terms, without duplicates.
func (c *Collector) searchTerms() ([]string, error) {
	if len(c.opts.Terms) > 0 {
		return c.opts.Terms, nil
	}

	n := c.opts.MaxTerms
	if n <= 0 {
		n = 30
	}
	terms := c.table.SearchTerms(n)

	watch, err := c.db.GetActiveWatchTerms()
	if err != nil {
		return nil, fmt.Errorf("loading watch terms: %w", err)
	}
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		seen[t] = struct{}{}
	}
	for _, w := range watch {
		t := strings.ToLower(strings.TrimSpace(w.Term))
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms, nil
}

// collectTerm processes one search inside one batch transaction.
func (c *Collector) collectTerm(ctx context.Context, community, term string, r *Result) error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	accepted := 0
	params := reddit.SearchParams{
		Community:  community,
		Query:      term,
		Sort:       c.opts.Sort,
		TimeFilter: c.opts.TimeFilter,
		Limit:      c.opts.SearchLimit,
	}
	for post, err := range c.src.Search(ctx, params) {
		if err != nil {
			r.Errors++
			log.Printf("    Skipping result: %v", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		r.Found++

		if r.Mode == ModeIncremental && post.CreatedUTC <= r.Watermark {
			r.SkippedOld++
			continue
		}

		var state itemState
		var replies, images int
		err := tx.Item(func() error {
			var err error
			state, replies, images, err = c.processPost(ctx, tx, post, r.Mode)
			return err
		})
		if err != nil {
			r.Errors++
			log.Printf("    Error processing post %s: %v", post.ID, err)
			continue
		}

		r.NewReplies += replies
		r.Images += images
		switch state {
		case stateKnown:
			r.SkippedKnown++
		case stateRefreshed:
			r.Updated++
			if replies > 0 {
				log.Printf("    Added %d new replies to existing post %s", replies, post.ID)
			}
		case stateNew:
			r.NewReports++
			accepted++
		}
		if accepted >= c.opts.MaxNewPerTerm {
			break
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	if accepted > 0 {
		log.Printf("    Collected %d posts", accepted)
	}
	return nil
}

// processPost applies the state machine to one post. It returns the number
// of replies and images written.
func (c *Collector) processPost(ctx context.Context, tx *database.Tx, post reddit.Post, mode Mode) (itemState, int, int, error) {
	if post.ID == "" {
		return 0, 0, 0, errors.New("post without id")
	}

	exists, err := tx.ReportExists(post.ID)
	if err != nil {
		return 0, 0, 0, err
	}
	if exists {
		if mode == ModeFull {
			return stateKnown, 0, 0, nil
		}
		n, err := c.refresh(ctx, tx, post)
		return stateRefreshed, n, 0, err
	}

	images, err := c.insertNew(ctx, tx, post)
	if err != nil {
		return 0, 0, 0, err
	}
	n, err := c.insertReplies(ctx, tx, post.ID, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	return stateNew, n, images, nil
}

// refresh updates the popularity signals of a stored report and adds the
// replies it does not have yet. The report text and labels are untouched.
func (c *Collector) refresh(ctx context.Context, tx *database.Tx, post reddit.Post) (int, error) {
	if err := tx.UpdateReportSignals(post.ID, post.Score, post.NumComments, post.UpvoteRatio, database.Now()); err != nil {
		return 0, err
	}
	known, err := tx.GetReplyIDs(post.ID)
	if err != nil {
		return 0, err
	}
	return c.insertReplies(ctx, tx, post.ID, known)
}

func (c *Collector) insertNew(ctx context.Context, tx *database.Tx, post reddit.Post) (int, error) {
	body := post.Body
	if strings.TrimSpace(body) == "" && c.opts.Linked != nil && post.PostHint == "link" &&
		post.URL != "" && !assets.Wants(post.PostHint, post.URL) {
		text, err := c.opts.Linked.Fetch(ctx, post.URL)
		if err != nil {
			log.Printf("    No linked content for %s: %v", post.ID, err)
		} else {
			body = text
		}
	}

	verdict := scorer.ScoreReport(post.Title, body, post.NumComments, post.Score)
	category, tier := c.table.Categorize(post.Title, body)

	author := post.Author
	if author == "" {
		author = database.DeletedAuthor
	}
	report := &database.Report{
		ID:              post.ID,
		Community:       post.Community,
		Title:           post.Title,
		Body:            body,
		Author:          author,
		CreatedUTC:      post.CreatedUTC,
		URL:             post.URL,
		PostHint:        post.PostHint,
		Score:           post.Score,
		NumComments:     post.NumComments,
		UpvoteRatio:     post.UpvoteRatio,
		CollectedAt:     database.Now(),
		Category:        category,
		ConfidenceLevel: string(tier),
		QualityScore:    verdict.Quality,
		WordCount:       verdict.WordCount,
	}

	images := 0
	if c.opts.Assets != nil && assets.Wants(post.PostHint, post.URL) {
		p, err := c.opts.Assets.Save(ctx, post.URL, post.ID)
		if err != nil {
			log.Printf("    Image download failed for %s: %v", post.ID, err)
		} else {
			report.ImagePath = &p
			report.HasImage = true
			images = 1
		}
	}

	if err := tx.UpsertReport(report); err != nil {
		return 0, fmt.Errorf("storing report: %w", err)
	}
	return images, nil
}

// insertReplies fetches the top replies of a post and stores those whose id
// is not in known. A failed fetch is logged and leaves the report in place.
func (c *Collector) insertReplies(ctx context.Context, tx *database.Tx, reportID string, known map[string]struct{}) (int, error) {
	comments, err := c.src.Comments(ctx, reportID, c.opts.MaxReplies)
	if err != nil {
		log.Printf("    Reply collection error for %s: %v", reportID, err)
		return 0, nil
	}

	n := 0
	for i, cm := range comments {
		if i >= c.opts.MaxReplies {
			break
		}
		if cm.ID == "" {
			continue
		}
		if _, ok := known[cm.ID]; ok {
			continue
		}
		if err := tx.UpsertReply(newReply(reportID, cm)); err != nil {
			return n, fmt.Errorf("storing reply %s: %w", cm.ID, err)
		}
		n++
	}
	return n, nil
}

func newReply(reportID string, cm reddit.Comment) *database.Reply {
	v := scorer.ClassifyReply(cm.Body, cm.Score)
	var parent *string
	if cm.ParentID != "" {
		p := cm.ParentID
		parent = &p
	}
	author := cm.Author
	if author == "" {
		author = database.DeletedAuthor
	}
	return &database.Reply{
		ID:                cm.ID,
		ReportID:          reportID,
		ParentID:          parent,
		Author:            author,
		Body:              cm.Body,
		Score:             cm.Score,
		CreatedUTC:        cm.CreatedUTC,
		IsSolution:        v.IsSolution,
		IsDiagnostic:      v.IsDiagnostic,
		HasProductMention: v.MentionsProduct,
		ConfidenceScore:   v.Confidence,
		ReplyType:         string(v.Type),
	}
}
