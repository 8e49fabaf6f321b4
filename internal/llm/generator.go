package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/research"
)

// maxSectionImages caps images attached to a single section.
const maxSectionImages = 2

// Generator produces plans, syntheses and section prose on top of a
// Provider. It implements the research pipeline's generator interfaces.
type Generator struct {
	provider     Provider
	routing      config.LLMRoutingConfig
	maxVerticals int
	maxSections  int
}

// NewGenerator wires a provider to the routing table.
func NewGenerator(provider Provider, cfg *config.Config) *Generator {
	return &Generator{
		provider:     provider,
		routing:      cfg.LLM.Routing,
		maxVerticals: cfg.Research.MaxVerticals,
		maxSections:  cfg.Research.MaxSections,
	}
}

// GeneratePlan asks the planning model to break a query into verticals and
// report sections. Vertical and section IDs are assigned here so sections
// can reference their vertical by ID for the rest of the run.
func (g *Generator) GeneratePlan(ctx context.Context, query string) (research.Plan, error) {
	reply, err := g.provider.Complete(ctx, g.routing.Model("planning"), planPrompt(query, g.maxVerticals, g.maxSections))
	if err != nil {
		return research.Plan{}, fmt.Errorf("plan generation: %w", err)
	}

	var parsed struct {
		Title       string `json:"title"`
		Methodology string `json:"methodology"`
		Verticals   []struct {
			Name    string   `json:"name"`
			Queries []string `json:"queries"`
		} `json:"verticals"`
		Sections []struct {
			Heading  string `json:"heading"`
			Vertical int    `json:"vertical"`
		} `json:"sections"`
	}
	if err := decodeJSON(reply, &parsed); err != nil {
		return research.Plan{}, fmt.Errorf("plan generation: %w", err)
	}
	if len(parsed.Verticals) == 0 {
		return research.Plan{}, fmt.Errorf("plan generation: plan has no verticals")
	}
	if len(parsed.Sections) == 0 {
		return research.Plan{}, fmt.Errorf("plan generation: plan has no sections")
	}
	if g.maxVerticals > 0 && len(parsed.Verticals) > g.maxVerticals {
		parsed.Verticals = parsed.Verticals[:g.maxVerticals]
	}
	if g.maxSections > 0 && len(parsed.Sections) > g.maxSections {
		parsed.Sections = parsed.Sections[:g.maxSections]
	}

	plan := research.Plan{
		Title:       strings.TrimSpace(parsed.Title),
		Query:       query,
		Methodology: strings.TrimSpace(parsed.Methodology),
	}
	for _, v := range parsed.Verticals {
		plan.Verticals = append(plan.Verticals, research.Vertical{
			ID:      uuid.New().String(),
			Name:    strings.TrimSpace(v.Name),
			Queries: v.Queries,
			Status:  research.VerticalPending,
		})
	}
	for _, s := range parsed.Sections {
		// Out-of-range vertical references land on the first vertical
		// rather than failing the plan.
		idx := s.Vertical - 1
		if idx < 0 || idx >= len(plan.Verticals) {
			idx = 0
		}
		plan.SuggestedSections = append(plan.SuggestedSections, research.SectionSpec{
			ID:         uuid.New().String(),
			Heading:    strings.TrimSpace(s.Heading),
			VerticalID: plan.Verticals[idx].ID,
		})
	}
	return plan, nil
}

// Synthesize distills all vertical results into an abstract, key findings
// and limitations. Citations and source totals are derived from the
// gathered sources directly; the model is not trusted to count.
func (g *Generator) Synthesize(ctx context.Context, results []research.VerticalResult, plan research.Plan) (research.Synthesis, error) {
	reply, err := g.provider.Complete(ctx, g.routing.Model("synthesis"), synthesisPrompt(plan, results))
	if err != nil {
		return research.Synthesis{}, fmt.Errorf("synthesis: %w", err)
	}

	var parsed struct {
		Abstract    string   `json:"abstract"`
		KeyFindings []string `json:"keyFindings"`
		Limitations string   `json:"limitations"`
	}
	if err := decodeJSON(reply, &parsed); err != nil {
		return research.Synthesis{}, fmt.Errorf("synthesis: %w", err)
	}
	if strings.TrimSpace(parsed.Abstract) == "" {
		return research.Synthesis{}, fmt.Errorf("synthesis: empty abstract")
	}

	total := 0
	seen := make(map[string]bool)
	var citations []research.Citation
	for _, r := range results {
		total += len(r.Sources)
		for _, src := range r.Sources {
			if src.URL == "" || seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			citations = append(citations, research.Citation{URL: src.URL, Title: src.Title})
		}
	}

	return research.Synthesis{
		Abstract:     strings.TrimSpace(parsed.Abstract),
		KeyFindings:  parsed.KeyFindings,
		Limitations:  strings.TrimSpace(parsed.Limitations),
		AllCitations: citations,
		TotalSources: total,
	}, nil
}

// GenerateSection writes one section from its sources. Cited source numbers
// come back from the model and are resolved to URLs here; numbers that do
// not match a listed source are dropped.
func (g *Generator) GenerateSection(ctx context.Context, sec research.Section, sources []research.Source, plan research.Plan, headings []string) (research.SectionResult, error) {
	reply, err := g.provider.Complete(ctx, g.routing.Model("sections"), sectionPrompt(sec, sources, plan, headings))
	if err != nil {
		return research.SectionResult{}, fmt.Errorf("section %q: %w", sec.Heading, err)
	}

	var parsed struct {
		Content   string `json:"content"`
		Citations []int  `json:"citations"`
	}
	if err := decodeJSON(reply, &parsed); err != nil {
		return research.SectionResult{}, fmt.Errorf("section %q: %w", sec.Heading, err)
	}
	content := strings.TrimSpace(parsed.Content)
	if content == "" {
		return research.SectionResult{}, fmt.Errorf("section %q: empty content", sec.Heading)
	}

	seen := make(map[int]bool)
	var citations []research.Citation
	var images []string
	for _, n := range parsed.Citations {
		idx := n - 1
		if idx < 0 || idx >= len(sources) || seen[idx] {
			continue
		}
		seen[idx] = true
		src := sources[idx]
		citations = append(citations, research.Citation{URL: src.URL, Title: src.Title})
		if src.Image != "" && len(images) < maxSectionImages {
			images = append(images, src.Image)
		}
	}

	return research.SectionResult{Content: content, Citations: citations, Images: images}, nil
}
