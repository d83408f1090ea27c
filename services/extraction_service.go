package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"eventParseAPI/internal/types/event"
	"eventParseAPI/utils"
)

// CompletionProvider is the slice of the AI client the extraction flow
// needs. The real implementation lives in internal/ai and is injected
// from main.go.
type CompletionProvider interface {
	ExtractCalendarJSON(ctx context.Context, text string, images []event.ImageAttachment, hints event.ScheduleHints) (string, error)
}

// ErrNoCompletionProvider is returned when no API credential was
// configured at startup.
var ErrNoCompletionProvider = errors.New("completion provider is not configured")

// InvalidModelJSONError reports model output that failed to parse as
// JSON. RawText holds the unparsed text for diagnosis. The output is
// never retried or partially salvaged.
type InvalidModelJSONError struct {
	RawText string
	Err     error
}

func (e *InvalidModelJSONError) Error() string {
	return fmt.Sprintf("model returned invalid JSON: %v", e.Err)
}

func (e *InvalidModelJSONError) Unwrap() error { return e.Err }

// ExtractionService turns free text and images into calendar events
// through one schema-constrained completion call.
type ExtractionService struct {
	provider CompletionProvider
	log      *zerolog.Logger
}

func NewExtractionService(logger *zerolog.Logger) *ExtractionService {
	return &ExtractionService{
		log: logger,
	}
}

// Allow injecting the real AI provider from main.go
func (s *ExtractionService) SetCompletionProvider(provider CompletionProvider) {
	s.provider = provider
}

// ExtractEvents runs the full extraction flow: hint pre-analysis, the
// completion call, JSON decode, and the weekday post-correction. The
// decoded payload is trusted to match the requested schema, so no
// structural validation happens here.
func (s *ExtractionService) ExtractEvents(ctx context.Context, text string, images []event.ImageAttachment) ([]event.CalendarEvent, error) {
	if s.provider == nil {
		return nil, ErrNoCompletionProvider
	}

	hints := event.ScheduleHints{
		Weekdays: utils.WeekdayOrdinals(text),
		FullYear: utils.ImpliesFullYear(text),
	}

	raw, err := s.provider.ExtractCalendarJSON(ctx, text, images, hints)
	if err != nil {
		return nil, err
	}

	var payload event.ParseResponse
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		s.log.Error().Err(err).Str("raw_text", truncate(raw, 512)).Msg("Model output is not valid JSON")
		return nil, &InvalidModelJSONError{RawText: raw, Err: err}
	}

	events := utils.FillMissingWeekdays(payload.Events, hints.Weekdays, hints.FullYear)

	s.log.Info().
		Int("events", len(events)).
		Int("images", len(images)).
		Ints("weekday_hints", hints.Weekdays).
		Bool("full_year", hints.FullYear).
		Msg("Extraction complete")

	return events, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Mock implementation for testing

type MockCompletionProvider struct {
	Response string
	Err      error

	Calls      int
	LastText   string
	LastImages []event.ImageAttachment
	LastHints  event.ScheduleHints
}

func (m *MockCompletionProvider) ExtractCalendarJSON(ctx context.Context, text string, images []event.ImageAttachment, hints event.ScheduleHints) (string, error) {
	m.Calls++
	m.LastText = text
	m.LastImages = images
	m.LastHints = hints

	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
