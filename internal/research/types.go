package research

import (
	"strings"
	"time"
)

// Batch size shared by the searching and writing phases. Batches run their
// items concurrently and are awaited sequentially, so this is also the peak
// concurrency of a run.
const batchSize = 3

const (
	// wordsPerMinute converts total word count into estimated read time.
	wordsPerMinute = 200
	// maxHeroImages caps the images surfaced on the finished document.
	maxHeroImages = 4
)

// SurfaceTypeResearch tags persisted surfaces produced by this pipeline.
const SurfaceTypeResearch = "research"

// VerticalStatus tracks one research angle through the searching phase.
type VerticalStatus string

const (
	VerticalPending   VerticalStatus = "pending"
	VerticalActive    VerticalStatus = "active"
	VerticalCompleted VerticalStatus = "completed"
)

// SectionStatus tracks one document section through the writing phase.
// A section whose generation fails stays pending with empty content.
type SectionStatus string

const (
	SectionPending   SectionStatus = "pending"
	SectionCompleted SectionStatus = "completed"
)

// Request identifies one research run.
type Request struct {
	UserID         string
	ConversationID string
	Query          string
}

// Plan is the structured output of the planning phase. It is created once
// per run and never mutated afterwards; only the Vertical statuses inside
// the surface copy advance.
type Plan struct {
	Title             string        `json:"title"`
	Query             string        `json:"query"`
	Methodology       string        `json:"methodology"`
	Verticals         []Vertical    `json:"verticals"`
	SuggestedSections []SectionSpec `json:"suggestedSections"`
}

// Vertical is one independent research angle explored via its own searches.
type Vertical struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Queries      []string       `json:"queries,omitempty"`
	Status       VerticalStatus `json:"status"`
	SourcesCount int            `json:"sourcesCount"`
}

// SectionSpec declares a section before any content exists.
type SectionSpec struct {
	ID         string `json:"id"`
	Heading    string `json:"heading"`
	VerticalID string `json:"verticalId"`
}

// Source is one document returned by a search provider. Content is filled
// by enrichment when available and is never required.
type Source struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet,omitempty"`
	Image    string `json:"image,omitempty"`
	Content  string `json:"content,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// VerticalResult is the settled outcome of one vertical's search. A failed
// search yields an empty Sources slice, never an error across this boundary.
type VerticalResult struct {
	VerticalID string   `json:"verticalId"`
	Sources    []Source `json:"sources"`
}

// Citation points at one referenced source in the finished document.
type Citation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Synthesis is produced exactly once per run from all vertical results.
type Synthesis struct {
	Abstract     string     `json:"abstract"`
	KeyFindings  []string   `json:"keyFindings"`
	Limitations  string     `json:"limitations,omitempty"`
	AllCitations []Citation `json:"allCitations"`
	TotalSources int        `json:"totalSources"`
}

// Section is one heading-and-content unit of the final document. It starts
// as a skeleton right after planning and is completed in place during the
// writing phase.
type Section struct {
	ID         string        `json:"id"`
	Heading    string        `json:"heading"`
	VerticalID string        `json:"verticalId"`
	Content    string        `json:"content"`
	WordCount  int           `json:"wordCount"`
	Citations  []Citation    `json:"citations,omitempty"`
	Images     []string      `json:"images,omitempty"`
	Status     SectionStatus `json:"status"`
}

// SectionResult is the settled outcome of one section generation call.
type SectionResult struct {
	Content   string
	Citations []Citation
	Images    []string
}

// Metadata aggregates everything needed to render the finished document.
type Metadata struct {
	Title             string     `json:"title"`
	Query             string     `json:"query"`
	Abstract          string     `json:"abstract"`
	KeyFindings       []string   `json:"keyFindings"`
	Methodology       string     `json:"methodology"`
	Limitations       string     `json:"limitations,omitempty"`
	Verticals         []Vertical `json:"verticals"`
	Sections          []Section  `json:"sections"`
	AllCitations      []Citation `json:"allCitations"`
	HeroImages        []string   `json:"heroImages"`
	TotalSources      int        `json:"totalSources"`
	TotalWordCount    int        `json:"totalWordCount"`
	EstimatedReadTime int        `json:"estimatedReadTime"`
}

// Surface is the persisted artifact of a run. The skeleton variant is
// emitted right after planning; the final variant is assembled during
// finalization, persisted at most once, and handed to the client as the
// terminal event payload.
type Surface struct {
	ID          string    `json:"id,omitempty"`
	SurfaceType string    `json:"surfaceType"`
	Metadata    Metadata  `json:"metadata"`
	IsSkeleton  bool      `json:"isSkeleton"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CountWords reports the whitespace-separated word count used for section
// word counts and read-time estimation.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// ReadTime converts a total word count into whole minutes, rounding up.
func ReadTime(totalWords int) int {
	if totalWords <= 0 {
		return 0
	}
	return (totalWords + wordsPerMinute - 1) / wordsPerMinute
}
