package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lifeos/internal/metrics"
	"lifeos/internal/models"
)

const (
	maxDescriptionLen = 500
	maxPreviewLen     = 1000
)

// ErrNoGenerator is returned when no summarization backend is configured.
var ErrNoGenerator = errors.New("no summarization backend configured")

// AnalysisError is a failed summarization. Analyze never returns it; it is
// logged and answered with Fallback.
type AnalysisError struct {
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string { return fmt.Sprintf("analysis %s: %v", e.Stage, e.Err) }

func (e *AnalysisError) Unwrap() error { return e.Err }

// EventInput is the reduced form of a calendar event sent to the summarizer.
type EventInput struct {
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
}

// EmailInput is the reduced form of a thread sent to the summarizer.
type EmailInput struct {
	Sender  string               `json:"sender"`
	Subject string               `json:"subject"`
	Date    time.Time            `json:"date"`
	Status  models.MessageStatus `json:"status"`
	Snippet string               `json:"snippet"`
	Preview string               `json:"preview"`
}

// Input is the JSON bundle handed to the summarizer.
type Input struct {
	Calendar    []EventInput `json:"calendar"`
	Emails      []EmailInput `json:"emails"`
	CurrentDate time.Time    `json:"currentDate"`
}

// BuildInput reduces events and threads to the summarizer bundle, truncating
// long descriptions and bodies.
func BuildInput(events []models.CalendarEvent, threads []models.EmailThread, now time.Time) Input {
	in := Input{
		Calendar:    make([]EventInput, 0, len(events)),
		Emails:      make([]EmailInput, 0, len(threads)),
		CurrentDate: now,
	}
	for _, e := range events {
		in.Calendar = append(in.Calendar, EventInput{
			Summary:     e.Title,
			Start:       e.Start,
			End:         e.End,
			Description: truncate(e.Description, maxDescriptionLen),
		})
	}
	for _, t := range threads {
		in.Emails = append(in.Emails, EmailInput{
			Sender:  t.Sender,
			Subject: t.Subject,
			Date:    t.Timestamp,
			Status:  t.Status,
			Snippet: t.Snippet,
			Preview: truncate(t.Body, maxPreviewLen),
		})
	}
	return in
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Generator sends the prompt and the JSON input to a model and returns its
// raw JSON answer.
type Generator interface {
	Generate(ctx context.Context, prompt string, input []byte) ([]byte, error)
}

// Analyzer produces a LifeAnalysis for a snapshot.
type Analyzer struct {
	logger *slog.Logger
	gen    Generator
	now    func() time.Time
}

// NewAnalyzer creates an Analyzer. gen may be nil, in which case every call
// returns the fallback analysis.
func NewAnalyzer(logger *slog.Logger, gen Generator) *Analyzer {
	return &Analyzer{logger: logger, gen: gen, now: time.Now}
}

// Analyze returns the model's analysis, or Fallback on any failure.
func (a *Analyzer) Analyze(ctx context.Context, events []models.CalendarEvent, threads []models.EmailThread) models.LifeAnalysis {
	result, err := a.analyze(ctx, events, threads)
	if err != nil {
		metrics.AnalysisFallback()
		a.logger.Error("AI analysis failed", "error", err)
		return Fallback()
	}
	return result
}

func (a *Analyzer) analyze(ctx context.Context, events []models.CalendarEvent, threads []models.EmailThread) (models.LifeAnalysis, error) {
	if a.gen == nil {
		return models.LifeAnalysis{}, &AnalysisError{Stage: "generate", Err: ErrNoGenerator}
	}
	payload, err := json.Marshal(BuildInput(events, threads, a.now()))
	if err != nil {
		return models.LifeAnalysis{}, &AnalysisError{Stage: "encode", Err: err}
	}
	raw, err := a.gen.Generate(ctx, Prompt, payload)
	if err != nil {
		return models.LifeAnalysis{}, &AnalysisError{Stage: "generate", Err: err}
	}
	if len(raw) == 0 {
		return models.LifeAnalysis{}, &AnalysisError{Stage: "generate", Err: errors.New("empty response from AI")}
	}
	result, err := Decode(raw)
	if err != nil {
		return models.LifeAnalysis{}, &AnalysisError{Stage: "decode", Err: err}
	}
	return result, nil
}

// Decode parses a model answer and checks it against the response schema.
func Decode(raw []byte) (models.LifeAnalysis, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return models.LifeAnalysis{}, fmt.Errorf("decoding response: %w", err)
	}
	for _, key := range requiredFields {
		if _, ok := fields[key]; !ok {
			return models.LifeAnalysis{}, fmt.Errorf("response is missing %q", key)
		}
	}

	var result models.LifeAnalysis
	if err := json.Unmarshal(raw, &result); err != nil {
		return models.LifeAnalysis{}, fmt.Errorf("decoding response: %w", err)
	}
	for _, w := range result.Workflows {
		if !w.UrgencyLevel.Valid() {
			return models.LifeAnalysis{}, fmt.Errorf("workflow %q has invalid urgency %q", w.CategoryName, w.UrgencyLevel)
		}
	}
	return result, nil
}

// Fallback is the well-formed analysis returned when the summarizer fails.
func Fallback() models.LifeAnalysis {
	return models.LifeAnalysis{
		Overview: []models.OverviewItem{{
			Title:       "Analysis Failed",
			Description: "Could not generate overview due to a network or API error.",
		}},
		Workflows:   []models.WorkflowCategory{},
		KeyInsights: []string{"Failed to analyze data. Please try again or reduce the data volume."},
		InboxAnalysis: models.InboxAnalysis{
			Summary: "Analysis unavailable.",
			Topics:  []models.InboxTopic{},
		},
	}
}
