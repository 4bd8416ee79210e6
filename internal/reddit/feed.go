package reddit

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const defaultFeedBaseURL = "https://www.reddit.com"

// FeedClient reads Reddit through its public Atom feeds. It needs no
// credentials but the feeds carry no popularity signals, so Score,
// NumComments and UpvoteRatio are always zero.
type FeedClient struct {
	baseURL string
	parser  *gofeed.Parser
	limiter *rate.Limiter
}

// NewFeedClient creates a feed client. An empty baseURL means reddit.com.
func NewFeedClient(baseURL, userAgent string, minInterval time.Duration) *FeedClient {
	if baseURL == "" {
		baseURL = defaultFeedBaseURL
	}
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	parser := gofeed.NewParser()
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	parser.Client = &http.Client{Timeout: 30 * time.Second}
	return &FeedClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		parser:  parser,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// Search yields up to p.Limit posts from the community search feed.
func (c *FeedClient) Search(ctx context.Context, p SearchParams) iter.Seq2[Post, error] {
	return func(yield func(Post, error) bool) {
		params := url.Values{
			"q":           {p.Query},
			"restrict_sr": {"on"},
			"limit":       {strconv.Itoa(p.Limit)},
		}
		if p.Sort != "" {
			params.Set("sort", p.Sort)
		}
		if p.TimeFilter != "" {
			params.Set("t", p.TimeFilter)
		}

		feed, err := c.parse(ctx, "/r/"+url.PathEscape(p.Community)+"/search.rss", params)
		if err != nil {
			yield(Post{}, fmt.Errorf("searching r/%s for %q: %w", p.Community, p.Query, err))
			return
		}

		n := 0
		for _, item := range feed.Items {
			if n >= p.Limit {
				return
			}
			post, err := postFromItem(item, p.Community)
			if err != nil {
				if !yield(Post{}, err) {
					return
				}
				continue
			}
			n++
			if !yield(post, nil) {
				return
			}
		}
	}
}

// Comments returns up to limit comments from the thread feed. The feed does
// not expose nesting, so every comment is attributed to the post itself.
func (c *FeedClient) Comments(ctx context.Context, postID string, limit int) ([]Comment, error) {
	params := url.Values{
		"limit": {strconv.Itoa(limit)},
		"depth": {"1"},
	}
	feed, err := c.parse(ctx, "/comments/"+url.PathEscape(postID)+"/.rss", params)
	if err != nil {
		return nil, fmt.Errorf("fetching comments of %s: %w", postID, err)
	}

	var comments []Comment
	for _, item := range feed.Items {
		if len(comments) >= limit {
			break
		}
		if !strings.HasPrefix(item.GUID, "t1_") {
			continue
		}
		body, _ := extractContent(item.Content)
		comments = append(comments, Comment{
			ID:         stripKind(item.GUID),
			ParentID:   "t3_" + postID,
			Author:     itemAuthor(item),
			Body:       body,
			CreatedUTC: itemTime(item),
		})
	}
	return comments, nil
}

func (c *FeedClient) parse(ctx context.Context, p string, params url.Values) (*gofeed.Feed, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	feed, err := c.parser.ParseURLWithContext(c.baseURL+p+"?"+params.Encode(), ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusForbidden) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return feed, nil
}

func postFromItem(item *gofeed.Item, community string) (Post, error) {
	if !strings.HasPrefix(item.GUID, "t3_") {
		return Post{}, fmt.Errorf("feed entry %q is not a post", item.GUID)
	}
	if len(item.Categories) > 0 && item.Categories[0] != "" {
		community = item.Categories[0]
	}

	body, link := extractContent(item.Content)
	post := Post{
		ID:         stripKind(item.GUID),
		Community:  community,
		Title:      strings.TrimSpace(item.Title),
		Body:       body,
		Author:     itemAuthor(item),
		CreatedUTC: itemTime(item),
		URL:        item.Link,
		PostHint:   "self",
	}
	if link != "" && link != item.Link {
		post.URL = link
		post.PostHint = "link"
		if isImageURL(link) {
			post.PostHint = "image"
		}
	}
	return post, nil
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return authorOrDeleted(item.Authors[0].Name)
	}
	return deletedAuthor
}

func itemTime(item *gofeed.Item) int64 {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.Unix()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.Unix()
	}
	return 0
}

func isImageURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(parsed.Path)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	}
	return parsed.Host == "i.redd.it"
}

// extractContent pulls the markdown-rendered text out of an entry's HTML
// content (the first div with class "md") and the target of its "[link]"
// anchor.
func extractContent(content string) (text, link string) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", ""
	}

	var md *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if md == nil && n.Data == "div" && hasClass(n, "md") {
				md = n
			}
			if n.Data == "a" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode &&
				strings.TrimSpace(n.FirstChild.Data) == "[link]" {
				link = attr(n, "href")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if md != nil {
		text = nodeText(md)
	}
	return text, link
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "br" || n.Data == "li") && b.Len() > 0 {
			b.WriteString("\n")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)

	lines := strings.Split(b.String(), "\n")
	var out []string
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
