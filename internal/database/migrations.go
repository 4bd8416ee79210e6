package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS reports (
    id TEXT PRIMARY KEY,
    community TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '[deleted]',
    created_utc INTEGER NOT NULL DEFAULT 0,
    url TEXT,
    post_hint TEXT,
    score INTEGER DEFAULT 0,
    num_comments INTEGER DEFAULT 0,
    upvote_ratio REAL DEFAULT 0.0,
    image_path TEXT,
    collected_at TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'unknown',
    confidence_level TEXT NOT NULL DEFAULT 'low',
    has_image INTEGER DEFAULT 0,
    quality_score REAL DEFAULT 0.0,
    word_count INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS replies (
    id TEXT PRIMARY KEY,
    report_id TEXT NOT NULL REFERENCES reports(id),
    parent_id TEXT,
    author TEXT NOT NULL DEFAULT '[deleted]',
    body TEXT NOT NULL DEFAULT '',
    score INTEGER DEFAULT 0,
    created_utc INTEGER DEFAULT 0,
    is_solution INTEGER DEFAULT 0,
    is_diagnostic INTEGER DEFAULT 0,
    has_product_mention INTEGER DEFAULT 0,
    confidence_score REAL DEFAULT 0.0,
    reply_type TEXT
);

CREATE TABLE IF NOT EXISTS diagnoses (
    report_id TEXT PRIMARY KEY REFERENCES reports(id),
    model TEXT NOT NULL,
    root_cause TEXT NOT NULL DEFAULT '',
    confidence TEXT NOT NULL CHECK(confidence IN ('high', 'medium', 'low')),
    categories TEXT NOT NULL DEFAULT '[]',
    solutions TEXT NOT NULL DEFAULT '[]',
    raw_response TEXT NOT NULL,
    analyzed_at TEXT NOT NULL,
    affected_percentage REAL DEFAULT 0.0,
    health_score REAL DEFAULT 5.0,
    urgency TEXT,
    reply_insights TEXT
);

CREATE TABLE IF NOT EXISTS watch_terms (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    term TEXT NOT NULL UNIQUE,
    note TEXT,
    is_active INTEGER DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL CHECK(kind IN ('collect', 'analyze', 'discover')),
    mode TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    found INTEGER DEFAULT 0,
    created INTEGER DEFAULT 0,
    updated INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    errors INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_utc);
CREATE INDEX IF NOT EXISTS idx_reports_category ON reports(category);
CREATE INDEX IF NOT EXISTS idx_replies_report ON replies(report_id);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started ON pipeline_runs(started_at);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
