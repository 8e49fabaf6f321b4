package research

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PlanGenerator turns a raw query into a research plan.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, query string) (Plan, error)
}

// VerticalSearcher resolves one vertical into sources. It never returns an
// error across this boundary: internal failure yields empty sources.
type VerticalSearcher interface {
	Search(ctx context.Context, vertical Vertical, query string) VerticalResult
}

// Synthesizer distills all vertical results into the cross-vertical summary.
type Synthesizer interface {
	Synthesize(ctx context.Context, results []VerticalResult, plan Plan) (Synthesis, error)
}

// SectionGenerator writes one section from the sources of its vertical.
type SectionGenerator interface {
	GenerateSection(ctx context.Context, section Section, sources []Source, plan Plan, headings []string) (SectionResult, error)
}

// SurfaceStore persists finished surfaces.
type SurfaceStore interface {
	SaveSurface(ctx context.Context, userID, conversationID string, surface *Surface) (string, error)
}

var researchTracer trace.Tracer = otel.Tracer("researcher/internal/research")

// Orchestrator drives one research run through planning, vertical searches,
// synthesis, section writing and finalization. Searches and section writes
// run in concurrent batches; everything else is sequential. Each run owns
// its entire state, so any number of runs can proceed independently.
type Orchestrator struct {
	planner     PlanGenerator
	searcher    VerticalSearcher
	synthesizer Synthesizer
	generator   SectionGenerator
	store       SurfaceStore
	logger      *log.Logger
	callTimeout time.Duration
}

// NewOrchestrator creates an orchestrator. callTimeout bounds every single
// model or search call; zero means no per-call deadline.
func NewOrchestrator(planner PlanGenerator, searcher VerticalSearcher, synthesizer Synthesizer, generator SectionGenerator, store SurfaceStore, callTimeout time.Duration, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		planner:     planner,
		searcher:    searcher,
		synthesizer: synthesizer,
		generator:   generator,
		store:       store,
		logger:      logger,
		callTimeout: callTimeout,
	}
}

// Run drives one research run to its terminal event: complete on success,
// error when planning or synthesis fails. Exactly one terminal event is
// emitted. The returned surface is nil on the error path.
//
// emit may be nil for headless runs. Non-nil emit implementations must be
// safe for concurrent use: batched phases emit from multiple goroutines.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit EmitFunc) (*Surface, error) {
	started := time.Now()
	ctx, span := researchTracer.Start(ctx, "research.run",
		trace.WithAttributes(
			attribute.String("conversation.id", req.ConversationID),
			attribute.String("user.id", req.UserID),
		))
	defer span.End()

	surface, err := o.run(ctx, req, emit)
	if err != nil {
		recordRunOutcome(ctx, time.Since(started), "failed", 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Printf("run failed for conversation %s: %v", req.ConversationID, err)
		o.send(emit, errorEvent(err.Error()))
		return nil, err
	}
	recordRunOutcome(ctx, time.Since(started), "completed", surface.Metadata.TotalWordCount)
	span.SetStatus(codes.Ok, "completed")
	o.logger.Printf("run completed for conversation %s in %s: %d sources, %d words",
		req.ConversationID, time.Since(started).Round(time.Millisecond),
		surface.Metadata.TotalSources, surface.Metadata.TotalWordCount)
	return surface, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request, emit EmitFunc) (*Surface, error) {
	// Phase 1: planning. Nothing is emitted until the plan exists; a failed
	// plan means the terminal error is the run's only event.
	callCtx, cancel := o.callContext(ctx)
	plan, err := o.planner.GeneratePlan(callCtx, req.Query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	normalizePlan(&plan, req.Query)
	surface := newSkeleton(plan)
	o.send(emit, skeletonEvent(surface))

	// Phase 2: vertical searches in batches.
	o.send(emit, phaseEvent(PhaseSearching, fmt.Sprintf("Searching %d research verticals", len(surface.Metadata.Verticals))))
	results := o.searchVerticals(ctx, plan, surface, emit)

	// Phase 3: synthesis. Single call, no fallback: a failed synthesis
	// aborts the run.
	o.send(emit, phaseEvent(PhaseSynthesizing, "Synthesizing findings across verticals"))
	callCtx, cancel = o.callContext(ctx)
	synthesis, err := o.synthesizer.Synthesize(callCtx, results, plan)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	o.send(emit, synthesisEvent(synthesis))
	surface.Metadata.Abstract = synthesis.Abstract
	surface.Metadata.KeyFindings = synthesis.KeyFindings
	surface.Metadata.Limitations = synthesis.Limitations
	surface.Metadata.AllCitations = synthesis.AllCitations

	// Phase 4: section writing in batches.
	o.send(emit, phaseEvent(PhaseWriting, fmt.Sprintf("Writing %d sections", len(surface.Metadata.Sections))))
	o.writeSections(ctx, plan, surface, results, emit)

	// Phase 5: finalization and persistence.
	o.send(emit, phaseEvent(PhaseFinalizing, "Assembling final research surface"))
	o.finalize(ctx, req, surface, results, emit)
	return surface, nil
}

// searchVerticals runs every vertical's search in batches of batchSize. A
// failed search surfaces as zero sources; the vertical still completes.
func (o *Orchestrator) searchVerticals(ctx context.Context, plan Plan, surface *Surface, emit EmitFunc) []VerticalResult {
	verticals := surface.Metadata.Verticals
	results := make([]VerticalResult, len(verticals))
	runBatches(len(verticals), batchSize, func(i int) {
		v := verticals[i]
		verticals[i].Status = VerticalActive
		o.send(emit, verticalStartEvent(v))

		callCtx, cancel := o.callContext(ctx)
		res := o.searcher.Search(callCtx, v, plan.Query)
		cancel()

		res.VerticalID = v.ID
		results[i] = res
		verticals[i].Status = VerticalCompleted
		verticals[i].SourcesCount = len(res.Sources)
		o.send(emit, verticalCompleteEvent(v.ID, len(res.Sources)))
	})
	return results
}

// writeSections fills the section skeletons in batches of batchSize. A
// section whose vertical turned up nothing is written from the first
// vertical's sources; a failed generation leaves the section pending and
// the run moves on.
func (o *Orchestrator) writeSections(ctx context.Context, plan Plan, surface *Surface, results []VerticalResult, emit EmitFunc) {
	byVertical := make(map[string][]Source, len(results))
	for _, r := range results {
		byVertical[r.VerticalID] = r.Sources
	}
	var fallback []Source
	if len(results) > 0 {
		fallback = results[0].Sources
	}

	sections := surface.Metadata.Sections
	headings := make([]string, 0, len(sections))
	for _, s := range sections {
		headings = append(headings, s.Heading)
	}

	runBatches(len(sections), batchSize, func(i int) {
		sec := sections[i]
		o.send(emit, sectionStartEvent(sec))

		sources := byVertical[sec.VerticalID]
		if len(sources) == 0 {
			sources = fallback
		}
		callCtx, cancel := o.callContext(ctx)
		result, err := o.generator.GenerateSection(callCtx, sec, sources, plan, headings)
		cancel()
		if err != nil {
			o.logger.Printf("section %q failed: %v", sec.Heading, err)
			recordSectionFailure(ctx)
			o.send(emit, sectionErrorEvent(sec.ID, err))
			return
		}

		words := CountWords(result.Content)
		sections[i].Content = result.Content
		sections[i].WordCount = words
		sections[i].Citations = result.Citations
		sections[i].Images = result.Images
		sections[i].Status = SectionCompleted
		o.send(emit, sectionCompleteEvent(sec.ID, result.Content, words))
	})
}

// finalize computes the aggregate fields, persists the surface and emits the
// terminal complete event. Persistence failure is logged and the surface is
// still delivered so the client keeps the generated content.
func (o *Orchestrator) finalize(ctx context.Context, req Request, surface *Surface, results []VerticalResult, emit EmitFunc) {
	total := 0
	for _, s := range surface.Metadata.Sections {
		if s.Status == SectionCompleted {
			total += s.WordCount
		}
	}
	sources := 0
	for _, r := range results {
		sources += len(r.Sources)
	}
	surface.Metadata.TotalWordCount = total
	surface.Metadata.EstimatedReadTime = ReadTime(total)
	surface.Metadata.TotalSources = sources
	surface.Metadata.HeroImages = heroImages(results)
	surface.IsSkeleton = false
	surface.UpdatedAt = time.Now().UTC()

	if id, err := o.store.SaveSurface(ctx, req.UserID, req.ConversationID, surface); err != nil {
		o.logger.Printf("warn: saving research surface for conversation %s failed: %v", req.ConversationID, err)
	} else {
		surface.ID = id
	}
	o.send(emit, completeEvent(surface))
}

// send delivers ev and logs delivery failures. A client that went away must
// not affect the run.
func (o *Orchestrator) send(emit EmitFunc, ev Event) {
	if emit == nil {
		return
	}
	if err := emit(ev); err != nil {
		o.logger.Printf("emit %s failed: %v", ev.Type, err)
	}
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.callTimeout)
}

// normalizePlan fills in anything optional the model left out so the rest
// of the run can rely on IDs and statuses being present.
func normalizePlan(plan *Plan, query string) {
	if plan.Query == "" {
		plan.Query = query
	}
	if plan.Title == "" {
		plan.Title = query
	}
	for i := range plan.Verticals {
		v := &plan.Verticals[i]
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		v.Status = VerticalPending
		v.SourcesCount = 0
	}
	for i := range plan.SuggestedSections {
		s := &plan.SuggestedSections[i]
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
	}
}

// newSkeleton builds the initial surface: every vertical pending, every
// section empty.
func newSkeleton(plan Plan) *Surface {
	now := time.Now().UTC()
	verticals := make([]Vertical, len(plan.Verticals))
	copy(verticals, plan.Verticals)
	sections := make([]Section, 0, len(plan.SuggestedSections))
	for _, sp := range plan.SuggestedSections {
		sections = append(sections, Section{
			ID:         sp.ID,
			Heading:    sp.Heading,
			VerticalID: sp.VerticalID,
			Status:     SectionPending,
		})
	}
	return &Surface{
		SurfaceType: SurfaceTypeResearch,
		IsSkeleton:  true,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata: Metadata{
			Title:       plan.Title,
			Query:       plan.Query,
			Methodology: plan.Methodology,
			Verticals:   verticals,
			Sections:    sections,
		},
	}
}

// heroImages picks the first maxHeroImages source images across verticals
// in plan order.
func heroImages(results []VerticalResult) []string {
	images := make([]string, 0, maxHeroImages)
	for _, r := range results {
		for _, src := range r.Sources {
			if src.Image == "" {
				continue
			}
			images = append(images, src.Image)
			if len(images) == maxHeroImages {
				return images
			}
		}
	}
	return images
}
