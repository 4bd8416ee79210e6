package diagnose

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/TobiSchelling/TurfWatch/internal/database"
)

const systemPrompt = "You are an expert lawn care diagnostician. Analyze posts and return structured JSON following the schema."

const extendedInstructions = `You are an expert lawn care diagnostician analyzing Reddit posts about lawn problems.

Based on the post content and community comments, provide a comprehensive analysis. Pay special attention to:
1) Solution comments from users who solved similar problems
2) Diagnostic insights from experienced users
3) Weed identification and percentage estimation
4) Treatment urgency and seasonal timing
Return a JSON object with exactly these keys:
{
  "root_cause": "primary root cause in 1-2 sentences",
  "confidence": "high | medium | low",
  "categories": ["problem category", "..."],
  "solutions": ["specific treatment recommendation", "..."],
  "weed_percentage": 0-100 (estimated % of area affected),
  "health_score": 1-10 (overall lawn health),
  "treatment_urgency": "low | medium | high"
}`

const basicInstructions = `You are a turfgrass diagnostician. Analyze the issue and return a JSON object ONLY with these keys:
{
  "root_cause": "primary root cause in 1-2 sentences",
  "confidence": "high | medium | low",
  "categories": ["problem category", "..."],
  "solutions": ["specific treatment recommendation", "..."]
}
Use evidence from the post and comments. Prefer common, realistic causes. If uncertain, say "low" confidence.`

const (
	promptReplies   = 15
	perBucket       = 5
	signalReplyLen  = 200
	otherReplyLen   = 150
	dryRunPromptLen = 600
)

var (
	solutionCues   = []string{"fixed", "worked", "solved", "cured", "success"}
	diagnosticCues = []string{"looks like", "probably", "appears", "diagnosed"}
)

// buckets splits replies into solution, diagnostic and other replies. With
// roles set the stored reply labels decide, otherwise keyword cues do.
func buckets(replies []database.Reply, roles bool) (solution, diagnostic, other []string) {
	if len(replies) > promptReplies {
		replies = replies[:promptReplies]
	}
	for _, r := range replies {
		body := strings.TrimSpace(r.Body)
		if body == "" {
			continue
		}
		var isSolution, isDiagnostic bool
		if roles {
			isSolution, isDiagnostic = r.IsSolution, r.IsDiagnostic
		} else {
			lower := strings.ToLower(body)
			isSolution = containsAny(lower, solutionCues)
			isDiagnostic = containsAny(lower, diagnosticCues)
		}
		switch {
		case isSolution:
			solution = append(solution, body)
		case isDiagnostic:
			diagnostic = append(diagnostic, body)
		default:
			other = append(other, body)
		}
	}
	return solution, diagnostic, other
}

// BuildPrompt renders the model input for one report and its highest-signal
// replies.
func BuildPrompt(c database.Candidate, replies []database.Reply, roles, extended bool) string {
	solution, diagnostic, other := buckets(replies, roles)

	category := c.Category
	if category == "" {
		category = "unknown"
	}
	parts := []string{
		"Title: " + c.Title,
		"Post: " + c.Body,
		"Suspected Category: " + categoryLabel(category),
	}
	parts = appendSection(parts, "Solution Comments:", solution, signalReplyLen)
	parts = appendSection(parts, "Diagnostic Comments:", diagnostic, signalReplyLen)
	parts = appendSection(parts, "Other Comments:", other, otherReplyLen)

	instructions := basicInstructions
	if extended {
		instructions = extendedInstructions
	}
	return instructions + "\n\n" + strings.Join(parts, "\n\n")
}

func appendSection(parts []string, heading string, bodies []string, maxLen int) []string {
	if len(bodies) == 0 {
		return parts
	}
	var b strings.Builder
	b.WriteString(heading)
	for i, body := range bodies {
		if i == perBucket {
			break
		}
		fmt.Fprintf(&b, "\n  %d. %s...", i+1, truncate(body, maxLen))
	}
	return append(parts, b.String())
}

// categoryLabel turns "dog_urine_spots" into "Dog Urine Spots".
func categoryLabel(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
