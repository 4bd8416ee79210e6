// Package scorer assigns quality scores, categories and reply roles to
// community posts using phrase matching. Every function is pure: empty or
// malformed input degrades to the lowest-information verdict.
package scorer

import (
	"math"
	"strings"
	"unicode/utf8"
)

const (
	minReportBody = 30
	minReplyBody  = 20
)

var (
	reportSolutionPhrases = []string{
		"fixed it by", "solved with", "treatment worked", "this cured",
		"here's what worked", "problem solved", "success with", "finally fixed", "this worked",
	}
	reportDiagnosticPhrases = []string{
		"diagnosed as", "turned out to be", "identified as",
		"soil test showed", "confirmed it was", "expert said",
		"professional identified", "lab results",
	}
	reportProductPhrases = []string{
		"highly recommend", "waste of money", "good results",
		"didn't work", "amazing results", "product review",
		"tried this", "used this",
	}

	replySolutionPhrases = []string{
		"i had this", "same problem", "fixed mine", "worked for me",
		"try this", "use this", "apply", "treatment", "solution",
		"here's how", "what worked", "success", "cured",
	}
	replyDiagnosticPhrases = []string{
		"looks like", "appears to be", "probably", "likely",
		"diagnosed", "identified", "classic signs", "symptoms",
		"caused by", "due to", "result of",
	}
	replyProductPhrases = []string{
		"product", "brand", "recommend", "buy", "purchase",
		"amazon", "store", "works well", "effective",
	}
)

// ReportVerdict is the lexical assessment of a post.
type ReportVerdict struct {
	Quality       float64
	HasSolution   bool
	HasDiagnostic bool
	HasProduct    bool
	WordCount     int
}

// ScoreReport rates a post from its text and popularity. Posts whose body is
// missing or shorter than 30 characters score zero; only the title word
// count is reported for them.
func ScoreReport(title, body string, numComments, score int) ReportVerdict {
	if utf8.RuneCountInString(strings.TrimSpace(body)) < minReportBody {
		return ReportVerdict{WordCount: len(strings.Fields(title))}
	}

	text := strings.ToLower(title + " " + body)
	v := ReportVerdict{WordCount: len(strings.Fields(text))}

	quality := math.Min(float64(v.WordCount)/200, 0.3)

	v.HasSolution = containsAny(text, reportSolutionPhrases)
	if v.HasSolution {
		quality += 0.4
	}
	v.HasDiagnostic = containsAny(text, reportDiagnosticPhrases)
	if v.HasDiagnostic {
		quality += 0.3
	}
	v.HasProduct = containsAny(text, reportProductPhrases)
	if v.HasProduct {
		quality += 0.2
	}

	if numComments > 5 {
		quality += math.Min(float64(numComments)/50, 0.15)
	}
	if score > 10 {
		quality += math.Min(float64(score)/100, 0.1)
	}

	v.Quality = clamp01(quality)
	return v
}

// ReplyType is the role a reply plays in a discussion.
type ReplyType string

const (
	ReplySolution      ReplyType = "solution"
	ReplyDiagnostic    ReplyType = "diagnostic"
	ReplyProductReview ReplyType = "product_review"
	ReplyDiscussion    ReplyType = "discussion"
	ReplyLowQuality    ReplyType = "low_quality"
)

// ReplyVerdict is the lexical assessment of a reply.
type ReplyVerdict struct {
	IsSolution      bool
	IsDiagnostic    bool
	MentionsProduct bool
	Confidence      float64
	Type            ReplyType
}

// ClassifyReply assigns a role and confidence to a reply. Precedence when
// several signals match: confident solution, confident diagnosis, product
// mention, long discussion, then low quality.
func ClassifyReply(body string, score int) ReplyVerdict {
	if utf8.RuneCountInString(strings.TrimSpace(body)) < minReplyBody {
		return ReplyVerdict{Type: ReplyLowQuality}
	}

	text := strings.ToLower(body)
	words := len(strings.Fields(text))

	v := ReplyVerdict{
		IsSolution:      containsAny(text, replySolutionPhrases),
		IsDiagnostic:    containsAny(text, replyDiagnosticPhrases),
		MentionsProduct: containsAny(text, replyProductPhrases),
	}

	confidence := 0.0
	if v.IsSolution {
		confidence += 0.4
	}
	if v.IsDiagnostic {
		confidence += 0.3
	}
	if v.MentionsProduct {
		confidence += 0.2
	}
	if score > 5 {
		confidence += math.Min(float64(score)/20, 0.2)
	}
	if words > 50 {
		confidence += 0.1
	}

	switch {
	case v.IsSolution && confidence > 0.5:
		v.Type = ReplySolution
	case v.IsDiagnostic && confidence > 0.4:
		v.Type = ReplyDiagnostic
	case v.MentionsProduct:
		v.Type = ReplyProductReview
	case words > 30:
		v.Type = ReplyDiscussion
	default:
		v.Type = ReplyLowQuality
	}

	v.Confidence = clamp01(confidence)
	return v
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
