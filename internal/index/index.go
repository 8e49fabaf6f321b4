package index

import (
	"fmt"
	"strings"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/researcher/internal/research"
)

const snippetChars = 240

// Index is a BM25 full-text index over finished research surfaces. It is
// rebuilt from the store at startup and updated as runs complete, so losing
// the files under the index path is never data loss.
type Index struct {
	idx bleve.Index
}

// Open opens or creates the index at path. An empty path yields an
// in-memory index.
func Open(path string) (*Index, error) {
	if path == "" {
		return OpenMemOnly()
	}
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening surface index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// OpenMemOnly creates a throwaway in-memory index.
func OpenMemOnly() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

func (i *Index) Close() error { return i.idx.Close() }

// IndexSurface makes one surface searchable. Section contents are folded
// into a single content field; the id doubles as the bleve document id, so
// re-indexing a surface replaces it.
func (i *Index) IndexSurface(surfaceID, userID, conversationID string, s *research.Surface) error {
	if surfaceID == "" {
		return fmt.Errorf("surface id must be provided")
	}
	var content strings.Builder
	for _, sec := range s.Metadata.Sections {
		if sec.Content == "" {
			continue
		}
		content.WriteString(sec.Heading)
		content.WriteString("\n")
		content.WriteString(sec.Content)
		content.WriteString("\n\n")
	}
	doc := map[string]interface{}{
		"user_id":         userID,
		"conversation_id": conversationID,
		"title":           s.Metadata.Title,
		"query":           s.Metadata.Query,
		"abstract":        s.Metadata.Abstract,
		"content":         content.String(),
		"created_at":      s.CreatedAt.Format(time.RFC3339),
	}
	return i.idx.Index(surfaceID, doc)
}

// Hit is one search result.
type Hit struct {
	SurfaceID      string  `json:"surfaceId"`
	ConversationID string  `json:"conversationId"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	Score          float64 `json:"score"`
}

// Search runs a query-string search scoped to one user. The index holds all
// users' surfaces, so candidates are oversampled and filtered by owner.
func (i *Index) Search(userID, q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit*3, 0, false)
	req.Fields = []string{"user_id", "conversation_id", "title", "abstract"}
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, limit)
	for _, hit := range res.Hits {
		owner, _ := hit.Fields["user_id"].(string)
		if owner != userID {
			continue
		}
		title, _ := hit.Fields["title"].(string)
		abstract, _ := hit.Fields["abstract"].(string)
		conversationID, _ := hit.Fields["conversation_id"].(string)
		out = append(out, Hit{
			SurfaceID:      hit.ID,
			ConversationID: conversationID,
			Title:          title,
			Snippet:        snippet(abstract),
			Score:          hit.Score,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= snippetChars {
		return s
	}
	cut := strings.LastIndex(s[:snippetChars], " ")
	if cut <= 0 {
		cut = snippetChars
	}
	return s[:cut] + "…"
}
