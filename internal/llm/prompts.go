package llm

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researcher/internal/research"
)

// digestCharsPerSource bounds how much of each source's text reaches a
// prompt so a handful of long articles cannot blow the context window.
const digestCharsPerSource = 1200

func planPrompt(query string, maxVerticals, maxSections int) string {
	return fmt.Sprintf(`You are a research planning agent. Break the research query below into independent research verticals (distinct angles that can be searched separately) and propose the sections of the final report.

Research query: %s

Respond ONLY with valid JSON in exactly this format:
{
  "title": "Title of the final report",
  "methodology": "One or two sentences describing the research approach",
  "verticals": [
    {"name": "Name of the vertical", "queries": ["focused search query", "another search query"]}
  ],
  "sections": [
    {"heading": "Section heading", "vertical": 1}
  ]
}

Rules:
- Between 2 and %d verticals, each with 1 to 3 focused web search queries.
- Between 3 and %d sections. "vertical" is the 1-based index of the vertical each section draws from.
- Order sections the way a reader should encounter them.
- No markdown, no commentary, JSON only.`, query, maxVerticals, maxSections)
}

func synthesisPrompt(plan research.Plan, results []research.VerticalResult) string {
	names := make(map[string]string, len(plan.Verticals))
	for _, v := range plan.Verticals {
		names[v.ID] = v.Name
	}
	var b strings.Builder
	for _, r := range results {
		name := names[r.VerticalID]
		if name == "" {
			name = r.VerticalID
		}
		fmt.Fprintf(&b, "\n## Vertical: %s (%d sources)\n", name, len(r.Sources))
		if len(r.Sources) == 0 {
			b.WriteString("No sources were found for this vertical.\n")
			continue
		}
		b.WriteString(sourceDigest(r.Sources))
	}

	return fmt.Sprintf(`You are synthesizing the findings of a multi-angle web research run into the framing of a report titled %q.

Research query: %s

Sources gathered per vertical:
%s

Respond ONLY with valid JSON in exactly this format:
{
  "abstract": "A 120-200 word abstract of what the research found",
  "keyFindings": ["One sentence finding", "Another finding"],
  "limitations": "One or two sentences on gaps or weaknesses in the gathered evidence"
}

Rules:
- 3 to 7 key findings, each grounded in the sources above.
- Mention verticals that produced no sources in the limitations.
- No markdown, no commentary, JSON only.`, plan.Title, plan.Query, b.String())
}

func sectionPrompt(sec research.Section, sources []research.Source, plan research.Plan, headings []string) string {
	others := make([]string, 0, len(headings))
	for _, h := range headings {
		if h != sec.Heading {
			others = append(others, h)
		}
	}
	digest := sourceDigest(sources)
	if digest == "" {
		digest = "No sources are available; write carefully from general knowledge and keep claims modest.\n"
	}

	return fmt.Sprintf(`You are writing one section of a research report titled %q.

Section to write: %q
Other sections of the report (do not cover their ground): %s

Sources, numbered for citation:
%s

Respond ONLY with valid JSON in exactly this format:
{
  "content": "The section body in markdown",
  "citations": [1, 2]
}

Rules:
- 250 to 400 words of flowing prose; markdown emphasis and lists are fine.
- Do not repeat the section heading inside the content.
- Cite sources inline as [n] and list every cited number in "citations".
- Cite only the numbered sources above.
- No commentary outside the JSON.`, plan.Title, sec.Heading, strings.Join(others, "; "), digest)
}

// sourceDigest renders sources as a numbered block for prompts. Enriched
// page text is preferred over the search snippet when present.
func sourceDigest(sources []research.Source) string {
	var b strings.Builder
	for i, src := range sources {
		text := src.Content
		if text == "" {
			text = src.Snippet
		}
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n", i+1, src.Title, src.URL)
		if text != "" {
			fmt.Fprintf(&b, "%s\n", clip(text, digestCharsPerSource))
		}
	}
	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
