package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Stage represents the lifecycle of a task.
type Stage string

const (
	StageLoaded                  Stage = "loaded"
	StageTranscriptionInProgress Stage = "transcription_in_progress"
	StageTranscriptionDone       Stage = "transcription_done"
	StageExtractionInProgress    Stage = "extraction_in_progress"
	StageExtractionDone          Stage = "extraction_done"
	StageReportInProgress        Stage = "report_in_progress"
	StageReportDone              Stage = "report_done"
	StageFailed                  Stage = "failed"
)

var stageOrder = []Stage{
	StageLoaded,
	StageTranscriptionInProgress,
	StageTranscriptionDone,
	StageExtractionInProgress,
	StageExtractionDone,
	StageReportInProgress,
	StageReportDone,
}

var stageIndex = func() map[Stage]int {
	idx := make(map[Stage]int, len(stageOrder))
	for i, stage := range stageOrder {
		idx[stage] = i
	}
	return idx
}()

var inProgressStages = map[Stage]struct{}{
	StageTranscriptionInProgress: {},
	StageExtractionInProgress:    {},
	StageReportInProgress:        {},
}

// AllStages returns the ordered list of known stages, terminal failure last.
func AllStages() []Stage {
	cp := make([]Stage, len(stageOrder), len(stageOrder)+1)
	copy(cp, stageOrder)
	return append(cp, StageFailed)
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == StageFailed {
		return normalized, true
	}
	_, ok := stageIndex[normalized]
	return normalized, ok
}

// IsTerminal reports whether a stage ends the pipeline for a task.
func (s Stage) IsTerminal() bool {
	return s == StageReportDone || s == StageFailed
}

// IsInProgress reports whether the stage reflects an in-flight worker.
func (s Stage) IsInProgress() bool {
	_, ok := inProgressStages[s]
	return ok
}

// CanTransition reports whether moving from one stage to another respects
// the forward-only invariant. Failure is reachable from any non-terminal
// stage; no stage ever regresses.
func CanTransition(from, to Stage) bool {
	if from == to {
		return true
	}
	if to == StageFailed {
		return !from.IsTerminal()
	}
	fromIdx, okFrom := stageIndex[from]
	toIdx, okTo := stageIndex[to]
	if !okFrom || !okTo {
		return false
	}
	return toIdx > fromIdx
}

// EventKind identifies which stage transition an outbox event signals.
// The enumeration is closed; new kinds are additive only.
type EventKind string

const (
	EventAudioUploaded        EventKind = "audio_uploaded"
	EventAudioStoredRemotely  EventKind = "audio_stored_remotely"
	EventTranscriptionStarted EventKind = "transcription_started"
	EventTranscriptionReady   EventKind = "transcription_ready"
	EventTemplateSelected     EventKind = "template_selected"
	EventExtractionReady      EventKind = "extraction_ready"
	EventReportReady          EventKind = "report_ready"
)

var allEventKinds = []EventKind{
	EventAudioUploaded,
	EventAudioStoredRemotely,
	EventTranscriptionStarted,
	EventTranscriptionReady,
	EventTemplateSelected,
	EventExtractionReady,
	EventReportReady,
}

var eventKindSet = func() map[EventKind]struct{} {
	set := make(map[EventKind]struct{}, len(allEventKinds))
	for _, kind := range allEventKinds {
		set[kind] = struct{}{}
	}
	return set
}()

// AllEventKinds returns the closed set of event kinds.
func AllEventKinds() []EventKind {
	cp := make([]EventKind, len(allEventKinds))
	copy(cp, allEventKinds)
	return cp
}

// KnownEventKind reports whether the kind belongs to the closed enumeration.
func KnownEventKind(kind EventKind) bool {
	_, ok := eventKindSet[kind]
	return ok
}

// Payload is the stage-specific metadata bag carried by an event. It is
// consumed only by the stage worker the event's kind maps to.
type Payload map[string]any

// Encode serializes the payload for persistence. A nil payload encodes as
// an empty object.
func (p Payload) Encode() (string, error) {
	if len(p) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodePayload parses a persisted payload string.
func DecodePayload(raw string) (Payload, error) {
	if strings.TrimSpace(raw) == "" {
		return Payload{}, nil
	}
	var payload Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Segment is one diarized slice of the transcript.
type Segment struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// Task represents a submitted media item persisted in SQLite.
type Task struct {
	ID                   int64
	Stage                Stage
	TemplateID           *int64
	AudioName            string
	AudioExt             string
	AudioLocalPath       string
	AudioSavedName       string
	AudioStorageURL      string
	AudioDurationSeconds float64
	TranscriptText       string
	TranscriptSegments   string
	ExtractionResult     string
	ExtractionRaw        string
	TokenCount           int64
	ReportPath           string
	ErrorMessage         string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	StageCompletedAt     *time.Time
	FinishedAt           *time.Time
	LastHeartbeat        *time.Time
}

// Segments decodes the stored diarization segments.
func (t *Task) Segments() ([]Segment, error) {
	if strings.TrimSpace(t.TranscriptSegments) == "" {
		return nil, nil
	}
	var segments []Segment
	if err := json.Unmarshal([]byte(t.TranscriptSegments), &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// SetSegments encodes and stores diarization segments.
func (t *Task) SetSegments(segments []Segment) error {
	raw, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	t.TranscriptSegments = string(raw)
	return nil
}

// Answers decodes the structured extraction result keyed by question id.
func (t *Task) Answers() (map[string]string, error) {
	if strings.TrimSpace(t.ExtractionResult) == "" {
		return nil, nil
	}
	var answers map[string]string
	if err := json.Unmarshal([]byte(t.ExtractionResult), &answers); err != nil {
		return nil, err
	}
	return answers, nil
}

// Event is one outbox row owned by a task.
type Event struct {
	ID          int64
	TaskID      int64
	Kind        EventKind
	Payload     string
	CreatedAt   time.Time
	Processed   bool
	ProcessedAt *time.Time
	Error       string
	ClaimedBy   string
	ClaimedAt   *time.Time
}

// DecodedPayload parses the event payload.
func (e *Event) DecodedPayload() (Payload, error) {
	return DecodePayload(e.Payload)
}

// Template is a stored question set plus prompt preamble. Rows are
// immutable once referenced by a task so extraction stays reproducible.
type Template struct {
	ID             int64
	Title          string
	PromptPreamble string
	QuestionsJSON  string
	CreatedAt      time.Time
}

// TaskStats aggregates task counts per key lifecycle states.
type TaskStats struct {
	Total      int
	Loaded     int
	InProgress int
	Done       int
	Failed     int
}

// EventStats aggregates outbox counts for operator monitoring.
type EventStats struct {
	Unprocessed     int
	Claimed         int
	Processed       int
	OldestCreatedAt *time.Time
}
