package search

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/research"
)

const maxFetchBytes = 2 << 20

// Enricher pulls readable article text for the top sources of a vertical so
// generation can work from page content instead of search snippets. Pages
// are fetched statically; a headless browser is used as fallback only when
// configured, since it needs Chrome present on the host.
type Enricher struct {
	cfg    config.EnrichConfig
	client *http.Client
	logger *log.Logger
}

func NewEnricher(cfg config.EnrichConfig, logger *log.Logger) *Enricher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ENRICH] ", log.LstdFlags)
	}
	return &Enricher{cfg: cfg, client: &http.Client{Timeout: timeout}, logger: logger}
}

// Enrich fills Content (and a missing Title or Image) for the first
// MaxPages sources, in place. A page that cannot be fetched or extracted
// leaves its source untouched.
func (e *Enricher) Enrich(ctx context.Context, sources []research.Source) {
	if e == nil || !e.cfg.Enabled {
		return
	}
	pages := e.cfg.MaxPages
	if pages <= 0 {
		pages = 3
	}
	for i := range sources {
		if i >= pages {
			break
		}
		if err := e.enrichOne(ctx, &sources[i]); err != nil {
			e.logger.Printf("enriching %s failed: %v", sources[i].URL, err)
		}
	}
}

func (e *Enricher) enrichOne(ctx context.Context, src *research.Source) error {
	html, err := e.fetchHTML(ctx, src.URL)
	if err != nil {
		return err
	}
	parsed, err := url.Parse(src.URL)
	if err != nil {
		parsed = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return fmt.Errorf("extracting article: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return fmt.Errorf("no readable text")
	}
	if e.cfg.MaxChars > 0 && len(text) > e.cfg.MaxChars {
		text = text[:e.cfg.MaxChars]
	}
	src.Content = text
	if src.Title == "" {
		src.Title = strings.TrimSpace(article.Title)
	}
	if src.Image == "" {
		src.Image = article.Image
	}
	return nil
}

func (e *Enricher) fetchHTML(ctx context.Context, target string) (string, error) {
	html, err := e.fetchStatic(ctx, target)
	if err == nil {
		return html, nil
	}
	if e.cfg.UseBrowser {
		if rendered, berr := fetchRendered(ctx, target); berr == nil {
			return rendered, nil
		}
	}
	return "", err
}

func (e *Enricher) fetchStatic(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "researcher/1.0 (+https://github.com/mohammad-safakhou/researcher)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
