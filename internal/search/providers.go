package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/research"
)

// Provider is one web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]research.Source, error)
}

// NewProviders builds every provider that has a key configured and is not
// disabled. An empty slice is legal; verticals then resolve to no sources.
func NewProviders(cfg config.SearchConfig) []Provider {
	httpc := NewHTTPClient(cfg.Timeout, 2, 300*time.Millisecond)
	var providers []Provider
	if cfg.Brave.APIKey != "" && !cfg.Brave.Disabled {
		providers = append(providers, NewBraveClient(cfg.Brave.APIKey, httpc))
	}
	if cfg.Serper.APIKey != "" && !cfg.Serper.Disabled {
		providers = append(providers, NewSerperClient(cfg.Serper.APIKey, httpc))
	}
	if cfg.NewsAPI.APIKey != "" && !cfg.NewsAPI.Disabled {
		providers = append(providers, NewNewsAPIClient(cfg.NewsAPI.APIKey, httpc))
	}
	return providers
}

// BraveClient searches via the Brave Search API.
type BraveClient struct {
	apiKey  string
	baseURL string
	http    *HTTPClient
}

func NewBraveClient(apiKey string, httpc *HTTPClient) *BraveClient {
	return &BraveClient{apiKey: apiKey, baseURL: "https://api.search.brave.com/res/v1/web/search", http: httpc}
}

func (b *BraveClient) Name() string { return "brave" }

func (b *BraveClient) Search(ctx context.Context, query string, limit int) ([]research.Source, error) {
	var resp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Thumbnail   struct {
					Src string `json:"src"`
				} `json:"thumbnail"`
			} `json:"results"`
		} `json:"web"`
	}
	headers := map[string]string{"X-Subscription-Token": b.apiKey, "Accept": "application/json"}
	u := fmt.Sprintf("%s?q=%s&count=%d", b.baseURL, url.QueryEscape(query), atLeast(limit, 10))
	if err := b.http.DoJSON(ctx, http.MethodGet, u, headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]research.Source, 0, len(resp.Web.Results))
	for _, r := range resp.Web.Results {
		out = append(out, research.Source{
			ID:       uuid.NewString(),
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  r.Description,
			Image:    r.Thumbnail.Src,
			Provider: "brave",
		})
	}
	return out, nil
}

// SerperClient searches via serper.dev.
type SerperClient struct {
	apiKey  string
	baseURL string
	http    *HTTPClient
}

func NewSerperClient(apiKey string, httpc *HTTPClient) *SerperClient {
	return &SerperClient{apiKey: apiKey, baseURL: "https://google.serper.dev/search", http: httpc}
}

func (s *SerperClient) Name() string { return "serper" }

func (s *SerperClient) Search(ctx context.Context, query string, limit int) ([]research.Source, error) {
	var resp struct {
		Organic []struct {
			Title    string `json:"title"`
			Link     string `json:"link"`
			Snippet  string `json:"snippet"`
			ImageURL string `json:"imageUrl"`
		} `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.apiKey}
	body := map[string]any{"q": query, "num": atLeast(limit, 10)}
	if err := s.http.DoJSON(ctx, http.MethodPost, s.baseURL, headers, body, &resp); err != nil {
		return nil, err
	}
	out := make([]research.Source, 0, len(resp.Organic))
	for _, r := range resp.Organic {
		out = append(out, research.Source{
			ID:       uuid.NewString(),
			Title:    r.Title,
			URL:      r.Link,
			Snippet:  r.Snippet,
			Image:    r.ImageURL,
			Provider: "serper",
		})
	}
	return out, nil
}

// NewsAPIClient searches via newsapi.org.
type NewsAPIClient struct {
	apiKey  string
	baseURL string
	http    *HTTPClient
}

func NewNewsAPIClient(apiKey string, httpc *HTTPClient) *NewsAPIClient {
	return &NewsAPIClient{apiKey: apiKey, baseURL: "https://newsapi.org/v2/everything", http: httpc}
}

func (n *NewsAPIClient) Name() string { return "newsapi" }

func (n *NewsAPIClient) Search(ctx context.Context, query string, limit int) ([]research.Source, error) {
	var resp struct {
		Articles []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			URLToImage  string `json:"urlToImage"`
			Content     string `json:"content"`
		} `json:"articles"`
	}
	headers := map[string]string{"X-Api-Key": n.apiKey}
	u := fmt.Sprintf("%s?q=%s&language=en&sortBy=relevancy&pageSize=%d", n.baseURL, url.QueryEscape(query), atLeast(limit, 20))
	if err := n.http.DoJSON(ctx, http.MethodGet, u, headers, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]research.Source, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		out = append(out, research.Source{
			ID:       uuid.NewString(),
			Title:    a.Title,
			URL:      a.URL,
			Snippet:  a.Description,
			Image:    a.URLToImage,
			Content:  a.Content,
			Provider: "newsapi",
		})
	}
	return out, nil
}

func atLeast(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}
