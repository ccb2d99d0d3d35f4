// Package ingest turns files and web pages into source content.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// MaxContentBytes caps stored source content.
const MaxContentBytes = 2 << 20

// Fetcher downloads web pages and converts their HTML to markdown.
type Fetcher struct {
	client *http.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch returns the page at url as markdown. Non-HTML responses are kept
// as text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "memorial-ingest/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch url: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxContentBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return string(body), nil
	}
	return toMarkdown(string(body))
}

// ReadFile loads a local document. HTML files are converted to markdown.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source file: %w", err)
	}
	if len(data) > MaxContentBytes {
		return "", fmt.Errorf("source file %s exceeds %d bytes", path, MaxContentBytes)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return toMarkdown(string(data))
	}
	return string(data), nil
}

func toMarkdown(html string) (string, error) {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return strings.TrimSpace(md), nil
}
