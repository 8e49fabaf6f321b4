package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/researcher/config"
)

func testHTTPClient() *HTTPClient {
	return NewHTTPClient(5*time.Second, 0, time.Millisecond)
}

func TestBraveSearchMapsResults(t *testing.T) {
	var gotToken, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		json.NewEncoder(w).Encode(map[string]any{
			"web": map[string]any{
				"results": []map[string]any{
					{
						"title":       "Go proverbs",
						"url":         "https://go.dev/proverbs",
						"description": "Simple, poetic, pithy.",
						"thumbnail":   map[string]any{"src": "https://img.example.com/t.png"},
					},
				},
			},
		})
	}))
	defer ts.Close()

	client := NewBraveClient("brave-key", testHTTPClient())
	client.baseURL = ts.URL

	sources, err := client.Search(context.Background(), "go proverbs", 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if gotToken != "brave-key" {
		t.Fatalf("expected subscription token header, got %q", gotToken)
	}
	if gotQuery != "go proverbs" {
		t.Fatalf("expected query forwarded, got %q", gotQuery)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	src := sources[0]
	if src.Title != "Go proverbs" || src.URL != "https://go.dev/proverbs" {
		t.Fatalf("unexpected mapping: %+v", src)
	}
	if src.Snippet != "Simple, poetic, pithy." || src.Image != "https://img.example.com/t.png" {
		t.Fatalf("unexpected snippet or image: %+v", src)
	}
	if src.Provider != "brave" || src.ID == "" {
		t.Fatalf("expected provider tag and id, got %+v", src)
	}
}

func TestSerperSearchPostsQuery(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]any{
				{"title": "A", "link": "https://a.example.com", "snippet": "sa", "imageUrl": "https://a.example.com/i.jpg"},
				{"title": "B", "link": "https://b.example.com", "snippet": "sb"},
			},
		})
	}))
	defer ts.Close()

	client := NewSerperClient("serper-key", testHTTPClient())
	client.baseURL = ts.URL

	sources, err := client.Search(context.Background(), "quantum batteries", 7)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if gotKey != "serper-key" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if gotBody["q"] != "quantum batteries" {
		t.Fatalf("expected query in body, got %v", gotBody)
	}
	if n, ok := gotBody["num"].(float64); !ok || int(n) != 7 {
		t.Fatalf("expected num 7 in body, got %v", gotBody["num"])
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[1].Image != "" {
		t.Fatalf("expected empty image for source without one, got %q", sources[1].Image)
	}
	if sources[0].Provider != "serper" {
		t.Fatalf("expected provider tag, got %q", sources[0].Provider)
	}
}

func TestNewsAPISearchMapsArticles(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "news-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		if got := r.URL.Query().Get("pageSize"); got != "4" {
			t.Errorf("expected pageSize 4, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"articles": []map[string]any{
				{
					"title":       "Fusion milestone",
					"url":         "https://news.example.com/fusion",
					"description": "Net gain repeated",
					"urlToImage":  "https://news.example.com/f.jpg",
					"content":     "The laboratory announced...",
				},
			},
		})
	}))
	defer ts.Close()

	client := NewNewsAPIClient("news-key", testHTTPClient())
	client.baseURL = ts.URL

	sources, err := client.Search(context.Background(), "fusion", 4)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(sources))
	}
	src := sources[0]
	if src.Content != "The laboratory announced..." {
		t.Fatalf("expected article content carried over, got %q", src.Content)
	}
	if src.Provider != "newsapi" {
		t.Fatalf("expected provider tag, got %q", src.Provider)
	}
}

func TestProviderSearchReturnsErrorOnBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewBraveClient("k", testHTTPClient())
	client.baseURL = ts.URL

	if _, err := client.Search(context.Background(), "anything", 5); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}

func TestNewProvidersGatesOnKeys(t *testing.T) {
	cfg := config.SearchConfig{
		Brave:  config.ProviderKeyConfig{APIKey: "b"},
		Serper: config.ProviderKeyConfig{APIKey: "s", Disabled: true},
	}
	providers := NewProviders(cfg)
	if len(providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(providers))
	}
	if providers[0].Name() != "brave" {
		t.Fatalf("expected brave, got %s", providers[0].Name())
	}
}
