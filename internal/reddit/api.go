package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	defaultAPIBaseURL  = "https://oauth.reddit.com"
	defaultTokenURL    = "https://www.reddit.com/api/v1/access_token"
	defaultMinInterval = 600 * time.Millisecond
	maxPageSize        = 100
)

// APIConfig configures an APIClient. Empty URLs fall back to reddit.com.
type APIConfig struct {
	ClientID     string
	ClientSecret string
	UserAgent    string
	BaseURL      string
	TokenURL     string
	// MinInterval is the minimum spacing between two API requests.
	MinInterval time.Duration
}

// APIClient reads Reddit through its application-only OAuth2 JSON API.
type APIClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewAPIClient creates a client that fetches its bearer token with the
// client-credentials grant and refreshes it as needed.
func NewAPIClient(ctx context.Context, cfg APIConfig) *APIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAPIBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// Reddit rejects requests without a descriptive User-Agent, token
	// requests included.
	base := &http.Client{Transport: &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport}}
	client := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	client.Timeout = 30 * time.Second

	return &APIClient{
		baseURL: cfg.BaseURL,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	return t.base.RoundTrip(req)
}

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type postData struct {
	ID          string  `json:"id"`
	Subreddit   string  `json:"subreddit"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	URL         string  `json:"url"`
	PostHint    string  `json:"post_hint"`
}

type commentData struct {
	ID         string  `json:"id"`
	ParentID   string  `json:"parent_id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

// Search yields up to p.Limit posts matching p.Query in p.Community, paging
// as needed. A request failure ends the sequence with that error; an
// undecodable item yields an error for that item only.
func (c *APIClient) Search(ctx context.Context, p SearchParams) iter.Seq2[Post, error] {
	return func(yield func(Post, error) bool) {
		after := ""
		remaining := p.Limit
		for remaining > 0 {
			page := min(remaining, maxPageSize)
			params := url.Values{
				"q":           {p.Query},
				"restrict_sr": {"1"},
				"limit":       {strconv.Itoa(page)},
				"raw_json":    {"1"},
			}
			if p.Sort != "" {
				params.Set("sort", p.Sort)
			}
			if p.TimeFilter != "" {
				params.Set("t", p.TimeFilter)
			}
			if after != "" {
				params.Set("after", after)
			}

			var l listing
			path := "/r/" + url.PathEscape(p.Community) + "/search"
			if err := c.getJSON(ctx, path, params, &l); err != nil {
				yield(Post{}, fmt.Errorf("searching r/%s for %q: %w", p.Community, p.Query, err))
				return
			}

			for _, child := range l.Data.Children {
				if child.Kind != "t3" {
					continue
				}
				var d postData
				if err := json.Unmarshal(child.Data, &d); err != nil {
					if !yield(Post{}, fmt.Errorf("decoding post: %w", err)) {
						return
					}
					continue
				}
				remaining--
				if !yield(d.post(p.Community), nil) {
					return
				}
				if remaining == 0 {
					return
				}
			}

			if l.Data.After == "" || len(l.Data.Children) == 0 {
				return
			}
			after = l.Data.After
		}
	}
}

// Comments returns up to limit top-level comments of a post, in Reddit's
// default thread order. "Load more" stubs are not expanded.
func (c *APIClient) Comments(ctx context.Context, postID string, limit int) ([]Comment, error) {
	params := url.Values{
		"limit":    {strconv.Itoa(limit)},
		"depth":    {"1"},
		"raw_json": {"1"},
	}
	var listings []listing
	if err := c.getJSON(ctx, "/comments/"+url.PathEscape(postID), params, &listings); err != nil {
		return nil, fmt.Errorf("fetching comments of %s: %w", postID, err)
	}
	if len(listings) < 2 {
		return nil, nil
	}

	var comments []Comment
	for _, child := range listings[1].Data.Children {
		if len(comments) >= limit {
			break
		}
		if child.Kind != "t1" {
			continue
		}
		var d commentData
		if err := json.Unmarshal(child.Data, &d); err != nil {
			log.Printf("Skipping undecodable comment on %s: %v", postID, err)
			continue
		}
		if d.ID == "" {
			continue
		}
		comments = append(comments, Comment{
			ID:         d.ID,
			ParentID:   d.ParentID,
			Author:     authorOrDeleted(d.Author),
			Body:       d.Body,
			Score:      d.Score,
			CreatedUTC: int64(d.CreatedUTC),
		})
	}
	return comments, nil
}

func (d postData) post(community string) Post {
	if d.Subreddit != "" {
		community = d.Subreddit
	}
	return Post{
		ID:          d.ID,
		Community:   community,
		Title:       d.Title,
		Body:        d.Selftext,
		Author:      authorOrDeleted(d.Author),
		CreatedUTC:  int64(d.CreatedUTC),
		Score:       d.Score,
		NumComments: d.NumComments,
		UpvoteRatio: d.UpvoteRatio,
		URL:         d.URL,
		PostHint:    d.PostHint,
	}
}

func (c *APIClient) getJSON(ctx context.Context, path string, params url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (retry after %q)", resp.Header.Get("Retry-After"))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
