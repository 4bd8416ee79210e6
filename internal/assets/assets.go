// Package assets downloads the images attached to image and link posts.
package assets

import (
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// maxImageBytes caps a single download.
const maxImageBytes = 20 << 20

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// Store saves post images into a directory as <post id><ext>.
type Store struct {
	dir       string
	userAgent string
	client    *http.Client
}

// NewStore creates a store writing into dir.
func NewStore(dir, userAgent string) *Store {
	return &Store{
		dir:       dir,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 20 * time.Second},
	}
}

// Wants reports whether a post with the given type hint and URL carries a
// downloadable image.
func Wants(postHint, rawURL string) bool {
	if postHint != "image" && postHint != "link" {
		return false
	}
	if rawURL == "" {
		return false
	}
	p := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil {
		p = strings.ToLower(u.Path)
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// Save downloads the image at rawURL and returns its local path. The file
// extension follows the response Content-Type (png, webp, otherwise jpg).
// A file that fails to decode as an image is kept and only logged.
func (s *Store) Save(ctx context.Context, rawURL, id string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("no image url")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating assets directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	dst := filepath.Join(s.dir, safeName(id)+extensionFor(resp.Header.Get("Content-Type")))
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}

	if err := verify(dst); err != nil {
		log.Printf("Image %s did not decode: %v", dst, err)
	}
	return dst, nil
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}

// verify decodes the image header only.
func verify(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _, err = image.DecodeConfig(f)
	return err
}

func safeName(id string) string {
	return strings.ReplaceAll(path.Clean("/"+id)[1:], "/", "_")
}
