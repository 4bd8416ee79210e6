// Package reddit reads lawn-problem posts and their comment threads from
// Reddit, either through the OAuth2 JSON API or through the public Atom feeds.
package reddit

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a community or thread does not exist or is
// not visible to the client.
var ErrNotFound = errors.New("reddit: not found")

// deletedAuthor matches database.DeletedAuthor.
const deletedAuthor = "[deleted]"

// Post is a submission returned by a search. Missing upstream fields are
// left at their zero value; a missing author is "[deleted]".
type Post struct {
	ID          string
	Community   string
	Title       string
	Body        string
	Author      string
	CreatedUTC  int64
	Score       int
	NumComments int
	UpvoteRatio float64
	URL         string
	PostHint    string
}

// Comment is a top-level reply on a Post.
type Comment struct {
	ID         string
	ParentID   string
	Author     string
	Body       string
	Score      int
	CreatedUTC int64
}

// SearchParams selects posts within one community.
type SearchParams struct {
	Community  string
	Query      string
	Sort       string
	TimeFilter string
	Limit      int
}

func authorOrDeleted(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/u/")
	if name == "" {
		return deletedAuthor
	}
	return name
}

// stripKind removes a "t1_"/"t3_" fullname prefix.
func stripKind(id string) string {
	if len(id) > 3 && id[0] == 't' && id[2] == '_' {
		return id[3:]
	}
	return id
}
