package database

// DeletedAuthor stands in for authors that were removed upstream.
const DeletedAuthor = "[deleted]"

// Report is a collected community post describing a lawn problem.
type Report struct {
	ID              string
	Community       string
	Title           string
	Body            string
	Author          string
	CreatedUTC      int64
	URL             string
	PostHint        string
	Score           int
	NumComments     int
	UpvoteRatio     float64
	ImagePath       *string
	CollectedAt     string
	Category        string
	ConfidenceLevel string
	HasImage        bool
	QualityScore    float64
	WordCount       int
}

// Reply is a comment on a Report, possibly nested under another Reply.
type Reply struct {
	ID                string
	ReportID          string
	ParentID          *string
	Author            string
	Body              string
	Score             int
	CreatedUTC        int64
	IsSolution        bool
	IsDiagnostic      bool
	HasProductMention bool
	ConfidenceScore   float64
	ReplyType         string
}

// Diagnosis is the structured verdict for a Report. There is at most one per Report.
type Diagnosis struct {
	ReportID           string
	Model              string
	RootCause          string
	Confidence         string
	Categories         []string
	Solutions          []string
	RawResponse        string
	AnalyzedAt         string
	AffectedPercentage float64
	HealthScore        float64
	Urgency            string
	Insights           ReplyInsights
}

// ReplyInsights summarises the supporting replies behind a Diagnosis.
type ReplyInsights struct {
	TotalReplies        int    `json:"total_replies"`
	SolutionReplies     int    `json:"solution_replies"`
	DiagnosticReplies   int    `json:"diagnostic_replies"`
	CommunityConfidence string `json:"community_confidence"`
}

// Candidate is a Report awaiting diagnosis, with its reply role counts.
type Candidate struct {
	ReportID          string
	Title             string
	Body              string
	Category          string
	Score             int
	ReplyCount        int
	SolutionReplies   int
	DiagnosticReplies int
}

// DiagnosedReport joins a Report with its Diagnosis.
type DiagnosedReport struct {
	Report    Report
	Diagnosis Diagnosis
}

// WatchTerm is a user-defined extra search query.
type WatchTerm struct {
	ID        int64
	Term      string
	Note      *string
	IsActive  bool
	CreatedAt *string
	UpdatedAt *string
}

// PipelineRun records one collect, analyze or discover run.
type PipelineRun struct {
	ID         string
	Kind       string
	Mode       string
	StartedAt  string
	FinishedAt *string
	Found      int
	Created    int
	Updated    int
	Skipped    int
	Errors     int
}

// RunCounts are the totals written when a run finishes.
type RunCounts struct {
	Found   int
	Created int
	Updated int
	Skipped int
	Errors  int
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalReports      int
	ReportsWithImages int
	TotalReplies      int
	SolutionReplies   int
	DiagnosticReplies int
	Diagnoses         int
	Undiagnosed       int
	TotalTerms        int
	ActiveTerms       int
	Watermark         int64
}
