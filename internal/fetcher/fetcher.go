// Package fetcher downloads announcements from the bulletin source and resolves their content.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"metro_alerts/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SourceKind selects how the bulletin source is parsed.
type SourceKind string

// Supported source kinds.
const (
	SourceHTML SourceKind = "html"
	SourceFeed SourceKind = "feed"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 5 * 1024 * 1024
)

// Fetcher downloads and parses the bulletin source.
type Fetcher struct {
	client    HTTPClient
	sourceURL string
	kind      SourceKind
	timeout   time.Duration
}

// New creates a Fetcher reading announcements of the given kind from sourceURL.
func New(client HTTPClient, sourceURL string, kind SourceKind) *Fetcher {
	return &Fetcher{
		client:    client,
		sourceURL: sourceURL,
		kind:      kind,
		timeout:   defaultTimeout,
	}
}

// SetTimeout overrides the per-request timeout.
func (f *Fetcher) SetTimeout(d time.Duration) {
	if d > 0 {
		f.timeout = d
	}
}

// FetchAnnouncements downloads and parses the announcement list.
func (f *Fetcher) FetchAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	body, err := f.get(ctx, f.sourceURL)
	if err != nil {
		return nil, err
	}

	switch f.kind {
	case SourceFeed:
		return ParseFeed(body)
	default:
		base, err := url.Parse(f.sourceURL)
		if err != nil {
			return nil, fmt.Errorf("parse source url: %w", err)
		}
		return ParseIndex(bytes.NewReader(body), base)
	}
}

// FetchParagraphs downloads an announcement page and returns its text paragraphs.
func (f *Fetcher) FetchParagraphs(ctx context.Context, pageURL string) ([]string, error) {
	body, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return ParseParagraphs(bytes.NewReader(body))
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "MetroAlertsBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

var publishedLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseIndex extracts announcements from the alerts index page.
func ParseIndex(r io.Reader, base *url.URL) ([]model.Announcement, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	list := doc.Find("div.article-body").First()
	if list.Length() == 0 {
		return nil, fmt.Errorf("announcement list not found")
	}

	var out []model.Announcement
	list.Find("article").Each(func(_ int, s *goquery.Selection) {
		a := model.Announcement{
			Title:    strings.TrimSpace(s.Find("h4").First().Text()),
			Location: strings.TrimSpace(s.Find("span").First().Text()),
		}
		if dt, ok := s.Find("time").First().Attr("datetime"); ok {
			a.PublishedAt = parsePublished(dt)
		}
		if href, ok := s.Find("a").First().Attr("href"); ok {
			a.URL = resolve(base, href)
		}
		if desc := strings.TrimSpace(s.Find("p").First().Text()); desc != "" {
			a.Description = &desc
		}
		out = append(out, a)
	})
	return out, nil
}

// ParseFeed converts RSS/Atom items into announcements.
func ParseFeed(body []byte) ([]model.Announcement, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	out := make([]model.Announcement, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := model.Announcement{
			Title: strings.TrimSpace(item.Title),
			URL:   item.Link,
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		}
		if desc := strings.TrimSpace(item.Description); desc != "" {
			a.Description = &desc
		}
		if len(item.Categories) > 0 {
			a.Location = item.Categories[0]
		}
		out = append(out, a)
	}
	return out, nil
}

// ParseParagraphs returns the non-empty paragraphs of an announcement page.
// Paragraphs inside the article body are preferred over the rest of the page.
func ParseParagraphs(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	sel := doc.Find(".article-body p")
	if sel.Length() == 0 {
		sel = doc.Find("p")
	}

	var paragraphs []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return paragraphs, nil
}

func parsePublished(v string) time.Time {
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil || base == nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
