package research

// EventType discriminates the stream event union.
type EventType string

const (
	EventPhase            EventType = "phase"
	EventSkeleton         EventType = "skeleton"
	EventVerticalStart    EventType = "vertical_start"
	EventVerticalComplete EventType = "vertical_complete"
	EventSynthesis        EventType = "synthesis"
	EventSectionStart     EventType = "section_start"
	EventSectionComplete  EventType = "section_complete"
	EventSectionError     EventType = "section_error"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Phase labels carried by phase events, in run order. Planning has no phase
// event: its success is announced by the skeleton itself, and its failure is
// the run's only event.
const (
	PhaseSearching    = "searching"
	PhaseSynthesizing = "synthesizing"
	PhaseWriting      = "writing"
	PhaseFinalizing   = "finalizing"
)

// Event is one progress update pushed to the client. Fields are populated
// per Type; counts use pointers so a zero still serializes (a vertical whose
// search failed reports sourcesCount 0, not a missing field).
type Event struct {
	Type         EventType   `json:"type"`
	Phase        string      `json:"phase,omitempty"`
	Message      string      `json:"message,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	VerticalID   string      `json:"verticalId,omitempty"`
	Name         string      `json:"name,omitempty"`
	SourcesCount *int        `json:"sourcesCount,omitempty"`
	SectionID    string      `json:"sectionId,omitempty"`
	Heading      string      `json:"heading,omitempty"`
	Content      string      `json:"content,omitempty"`
	WordCount    *int        `json:"wordCount,omitempty"`
	Error        string      `json:"error,omitempty"`
	SurfaceState *Surface    `json:"surfaceState,omitempty"`
}

// EmitFunc delivers one event to the connected client. Delivery failure is
// the emitter's concern only: the orchestrator logs it and keeps running.
type EmitFunc func(Event) error

func phaseEvent(phase, message string) Event {
	return Event{Type: EventPhase, Phase: phase, Message: message}
}

func skeletonEvent(s *Surface) Event {
	return Event{Type: EventSkeleton, Data: s}
}

func verticalStartEvent(v Vertical) Event {
	return Event{Type: EventVerticalStart, VerticalID: v.ID, Name: v.Name}
}

func verticalCompleteEvent(verticalID string, sourcesCount int) Event {
	return Event{Type: EventVerticalComplete, VerticalID: verticalID, SourcesCount: &sourcesCount}
}

type synthesisData struct {
	Abstract    string   `json:"abstract"`
	KeyFindings []string `json:"keyFindings"`
}

func synthesisEvent(s Synthesis) Event {
	return Event{Type: EventSynthesis, Data: synthesisData{Abstract: s.Abstract, KeyFindings: s.KeyFindings}}
}

func sectionStartEvent(sec Section) Event {
	return Event{Type: EventSectionStart, SectionID: sec.ID, Heading: sec.Heading}
}

func sectionCompleteEvent(sectionID, content string, wordCount int) Event {
	return Event{Type: EventSectionComplete, SectionID: sectionID, Content: content, WordCount: &wordCount}
}

func sectionErrorEvent(sectionID string, err error) Event {
	return Event{Type: EventSectionError, SectionID: sectionID, Error: err.Error()}
}

func completeEvent(s *Surface) Event {
	return Event{Type: EventComplete, SurfaceState: s}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
