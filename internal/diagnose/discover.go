package diagnose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/TurfWatch/internal/database"
	"github.com/TobiSchelling/TurfWatch/internal/llm"
)

// DiscoveryFile is written into the data directory by Discover.
const DiscoveryFile = "discovered_root_causes.json"

const (
	discoverMinScore     = 10
	discoverMinSolutions = 2
	discoverSelect       = 50
	discoverPrompted     = 20
	discoverBodyLen      = 200
	discoverSolutionsLen = 300
)

const discoverSystemPrompt = "You are an expert lawn care diagnostician discovering new problem patterns."

// DiscoverOptions configures a root-cause discovery run.
type DiscoverOptions struct {
	DataDir    string
	Categories []string // names of the known categories
	MaxTokens  int
	DryRun     bool
	Out        io.Writer // dry-run prompt and findings; defaults to stdout
}

// Problem is one candidate root cause proposed by the model.
type Problem struct {
	Name            string
	Confidence      string
	SupportingPosts string
}

// DiscoverResult holds the outcome of a discovery run.
type DiscoverResult struct {
	Candidates int
	Problems   []Problem
	Path       string // empty when nothing was written
}

// Discover asks the model for root causes the category table does not cover,
// using well-supported reports that could not be placed.
func Discover(ctx context.Context, db *database.DB, provider llm.Provider, opts DiscoverOptions) (*DiscoverResult, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}

	cands, err := db.SelectDiscoveryCandidates(discoverMinScore, discoverMinSolutions, discoverSelect)
	if err != nil {
		return nil, fmt.Errorf("selecting reports: %w", err)
	}
	res := &DiscoverResult{Candidates: len(cands)}
	if len(cands) == 0 {
		log.Println("No unclassified reports found for root cause discovery")
		return res, nil
	}

	prompt, err := discoveryPrompt(db, cands, opts.Categories)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		fmt.Fprintln(opts.Out, "--- ROOT CAUSE DISCOVERY DRY RUN ---")
		fmt.Fprintf(opts.Out, "Would analyze %d unclassified reports\n", len(cands))
		fmt.Fprintf(opts.Out, "%s...\n", truncate(prompt, dryRunPromptLen))
		return res, nil
	}
	if provider == nil {
		return nil, errors.New("no diagnosis provider configured")
	}

	runID, err := db.StartRun(database.RunDiscover, "")
	if err != nil {
		return nil, err
	}
	counts := database.RunCounts{Found: len(cands)}
	defer func() {
		if err := db.FinishRun(runID, counts); err != nil {
			log.Printf("Failed to record discover run: %v", err)
		}
	}()

	raw, err := provider.Generate(ctx, llm.Request{
		System:    discoverSystemPrompt,
		Prompt:    prompt,
		MaxTokens: opts.MaxTokens,
		JSON:      true,
	})
	if err != nil {
		counts.Errors++
		return nil, fmt.Errorf("root cause discovery: %w", err)
	}
	data, err := llm.ParseJSONObject(raw)
	if err != nil {
		counts.Errors++
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	discovered, _ := data["discovered_problems"].([]any)
	if len(discovered) == 0 {
		fmt.Fprintln(opts.Out, "No new root causes discovered from current data")
		return res, nil
	}

	fmt.Fprintf(opts.Out, "Discovered %d potential new root causes:\n", len(discovered))
	for _, item := range discovered {
		p := problemOf(item)
		res.Problems = append(res.Problems, p)
		fmt.Fprintf(opts.Out, "  - %s (confidence: %s, posts: %s)\n", p.Name, p.Confidence, p.SupportingPosts)
	}
	counts.Created = len(res.Problems)

	path, err := writeDiscoveries(opts.DataDir, discovered)
	if err != nil {
		counts.Errors++
		return res, err
	}
	res.Path = path
	fmt.Fprintf(opts.Out, "Saved discoveries to %s\n", path)
	return res, nil
}

func discoveryPrompt(db *database.DB, cands []database.Candidate, categories []string) (string, error) {
	known := make([]string, len(categories))
	for i, c := range categories {
		known[i] = strings.ReplaceAll(c, "_", " ")
	}

	var b strings.Builder
	b.WriteString("Analyze these lawn care posts that couldn't be classified into existing categories.\n")
	b.WriteString("Identify potential NEW root causes not covered by existing categories.\n\n")
	fmt.Fprintf(&b, "Existing categories: %s.\n\nPosts to analyze:\n", strings.Join(known, ", "))

	for i, c := range cands {
		if i == discoverPrompted {
			break
		}
		replies, err := db.GetReplies(c.ReportID)
		if err != nil {
			return "", fmt.Errorf("loading replies: %w", err)
		}
		var solutions []string
		for _, r := range replies {
			if r.IsSolution && strings.TrimSpace(r.Body) != "" {
				solutions = append(solutions, r.Body)
			}
		}
		sol := "None"
		if len(solutions) > 0 {
			sol = truncate(strings.Join(solutions, " | "), discoverSolutionsLen)
		}
		fmt.Fprintf(&b, "\n%d. Title: %s\nDescription: %s...\nSolutions: %s...\n",
			i+1, c.Title, truncate(c.Body, discoverBodyLen), sol)
	}

	b.WriteString(`
Return JSON like:
{
  "discovered_problems": [
    {
      "name": "Problem Name",
      "description": "Detailed symptoms",
      "confidence": 0.85,
      "supporting_posts": 5,
      "example_descriptions": ["quote 1", "quote 2"],
      "suggested_treatments": ["treatment 1", "treatment 2"],
      "suggested_products": ["product 1", "product 2"]
    }
  ]
}
`)
	return b.String(), nil
}

func problemOf(item any) Problem {
	m, ok := item.(map[string]any)
	if !ok {
		return Problem{Name: stringify(item)}
	}
	p := Problem{
		Name:            stringify(m["name"]),
		Confidence:      stringify(m["confidence"]),
		SupportingPosts: stringify(m["supporting_posts"]),
	}
	if p.Name == "" {
		p.Name = "Unnamed"
	}
	return p
}

func writeDiscoveries(dir string, discovered []any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	data, err := json.MarshalIndent(map[string]any{
		"timestamp":   database.Now(),
		"discoveries": discovered,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding discoveries: %w", err)
	}
	path := filepath.Join(dir, DiscoveryFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing discoveries: %w", err)
	}
	return path, nil
}
