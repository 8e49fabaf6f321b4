package index

import (
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/researcher/internal/research"
)

func surfaceWith(title, abstract, sectionText string) *research.Surface {
	return &research.Surface{
		SurfaceType: research.SurfaceTypeResearch,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
		Metadata: research.Metadata{
			Title:    title,
			Query:    title,
			Abstract: abstract,
			Sections: []research.Section{
				{Heading: "Background", Content: sectionText, Status: research.SectionCompleted},
			},
		},
	}
}

func TestSearchScopesToOwner(t *testing.T) {
	idx, err := OpenMemOnly()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	mine := surfaceWith("Geothermal adoption", "Geothermal heating is spreading across northern cities.", "District heating from geothermal wells cut costs sharply.")
	theirs := surfaceWith("Geothermal drilling", "Deep drilling for geothermal energy.", "Drilling rigs reach hotter rock every year.")
	if err := idx.IndexSurface("s-1", "user-a", "conv-1", mine); err != nil {
		t.Fatalf("index mine: %v", err)
	}
	if err := idx.IndexSurface("s-2", "user-b", "conv-2", theirs); err != nil {
		t.Fatalf("index theirs: %v", err)
	}

	hits, err := idx.Search("user-a", "geothermal", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected only the owner's surface, got %d hits", len(hits))
	}
	if hits[0].SurfaceID != "s-1" || hits[0].ConversationID != "conv-1" {
		t.Fatalf("unexpected hit: %+v", hits[0])
	}
	if hits[0].Title != "Geothermal adoption" {
		t.Fatalf("expected stored title, got %q", hits[0].Title)
	}
}

func TestSearchMatchesSectionContent(t *testing.T) {
	idx, err := OpenMemOnly()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	s := surfaceWith("Ocean currents", "A survey of circulation changes.", "The thermohaline circulation shows measurable slowing.")
	if err := idx.IndexSurface("s-1", "user-a", "conv-1", s); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := idx.Search("user-a", "thermohaline", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected a hit on section text, got %d", len(hits))
	}
}

func TestReindexReplacesDocument(t *testing.T) {
	idx, err := OpenMemOnly()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	first := surfaceWith("Draft title", "Original abstract about tidal power.", "Tidal turbines in estuaries.")
	if err := idx.IndexSurface("s-1", "user-a", "conv-1", first); err != nil {
		t.Fatalf("index: %v", err)
	}
	second := surfaceWith("Final title", "Revised abstract about tidal power.", "Tidal turbines in estuaries.")
	if err := idx.IndexSurface("s-1", "user-a", "conv-1", second); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	hits, err := idx.Search("user-a", "tidal", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected reindex to replace, got %d hits", len(hits))
	}
	if hits[0].Title != "Final title" {
		t.Fatalf("expected updated title, got %q", hits[0].Title)
	}
}

func TestSnippetTruncatesOnWordBoundary(t *testing.T) {
	long := strings.Repeat("circulation measurements across basins ", 20)
	got := snippet(long)
	if len(got) > snippetChars+len("…") {
		t.Fatalf("snippet too long: %d", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}
