package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"eventParseAPI/internal/types/event"
)

type Client struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Client {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// UpstreamError reports a failed completion API call. StatusCode is 0
// when the call never reached the API (network failure).
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("completion API returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("completion API call failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// NoOutputTextError reports a completion response that contained no
// extractable text in any choice. RawResponse holds the full envelope
// for diagnosis.
type NoOutputTextError struct {
	RawResponse string
}

func (e *NoOutputTextError) Error() string {
	return "completion response contained no output text"
}

// The completion API rejects oversized multimodal payloads, so images
// past this cap are dropped rather than sent.
const maxImageParts = 10

const systemPromptTemplate = `You are a calendar extraction assistant. Read the user's text and images and return every calendar event they describe.

Current date: %s

Rules:
1. Resolve relative dates ("tomorrow", "next Friday") against the current date. When no year is given, assume the current year.
2. A single-day event sets "date". A multi-day or recurring event sets "start_date" and "end_date" instead. Never set both.
3. A weekly schedule inside a date range lists its weekdays in "days_of_week" (0 = Sunday .. 6 = Saturday). Never expand a weekly schedule into one event per day.
4. Times are 24-hour "HH:MM". When no time is given, set "all_day" to true and leave the times null.
5. Give every event a short "title"; put remaining context in "details".
6. Set every field that does not apply to null. Return only JSON conforming to the schema.`

func systemPrompt(hints event.ScheduleHints) string {
	prompt := fmt.Sprintf(systemPromptTemplate, time.Now().Format("2006-01-02 (Monday)"))

	if len(hints.Weekdays) > 0 {
		prompt += fmt.Sprintf("\n\nThe text mentions these weekday ordinals (0 = Sunday): %v.", hints.Weekdays)
	}
	if hints.FullYear {
		prompt += "\nThe text implies the schedule repeats for the whole year."
	}

	return prompt
}

// JSON Schema for structured output
var calendarEventsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"events": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"date": {
						"type": ["string", "null"],
						"description": "Single-day event date in YYYY-MM-DD, null for ranges"
					},
					"start_date": {
						"type": ["string", "null"],
						"description": "Range start date in YYYY-MM-DD"
					},
					"end_date": {
						"type": ["string", "null"],
						"description": "Inclusive range end date in YYYY-MM-DD"
					},
					"days_of_week": {
						"type": ["array", "null"],
						"items": {
							"type": "integer",
							"minimum": 0,
							"maximum": 6
						},
						"description": "Weekday ordinals (0 = Sunday) for weekly recurrence within the range"
					},
					"title": {
						"type": "string",
						"description": "Short human-readable label"
					},
					"details": {
						"type": "string",
						"description": "Free-text description"
					},
					"all_day": {
						"type": "boolean",
						"description": "True when the event has no specific start and end time"
					},
					"start_time": {
						"type": ["string", "null"],
						"description": "Start time of day in 24-hour HH:MM"
					},
					"end_time": {
						"type": ["string", "null"],
						"description": "End time of day in 24-hour HH:MM"
					}
				},
				"required": ["date", "start_date", "end_date", "days_of_week", "title", "details", "all_day", "start_time", "end_time"],
				"additionalProperties": false
			}
		}
	},
	"required": ["events"],
	"additionalProperties": false
}`)

// ExtractCalendarJSON sends the text and images to the completion API
// with the calendar_events schema attached and returns the raw JSON
// text produced by the model.
func (c *Client) ExtractCalendarJSON(ctx context.Context, text string, images []event.ImageAttachment, hints event.ScheduleHints) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: buildMessages(text, images, hints),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "calendar_events",
				Schema: calendarEventsSchema,
				Strict: true,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", classifyCallError(err)
	}

	return outputText(&resp)
}

// buildMessages assembles the chat payload. It never mutates its
// inputs: plain text becomes a single user message, images become
// inline base64 data URL parts alongside the text.
func buildMessages(text string, images []event.ImageAttachment, hints event.ScheduleHints) []openai.ChatCompletionMessage {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt(hints),
		},
	}

	if len(images) > maxImageParts {
		images = images[:maxImageParts]
	}

	if len(images) == 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: text,
		})
		return messages
	}

	parts := []openai.ChatMessagePart{}
	if text != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:         openai.ChatMessageRoleUser,
		MultiContent: parts,
	})

	return messages
}

func dataURL(img event.ImageAttachment) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func classifyCallError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error(), Err: err}
	}

	return &UpstreamError{Err: err}
}

// The response envelope differs across API versions: some return the
// text in the message Content field, others as a list of typed content
// parts. Each strategy reads one shape; the first non-empty hit wins.
var textStrategies = []func(*openai.ChatCompletionResponse) string{
	contentFieldText,
	multiContentText,
}

func outputText(resp *openai.ChatCompletionResponse) (string, error) {
	for _, strategy := range textStrategies {
		if text := strategy(resp); text != "" {
			return text, nil
		}
	}

	raw, _ := json.Marshal(resp)
	return "", &NoOutputTextError{RawResponse: string(raw)}
}

func contentFieldText(resp *openai.ChatCompletionResponse) string {
	for _, choice := range resp.Choices {
		if choice.Message.Content != "" {
			return choice.Message.Content
		}
	}
	return ""
}

func multiContentText(resp *openai.ChatCompletionResponse) string {
	for _, choice := range resp.Choices {
		for _, part := range choice.Message.MultiContent {
			if part.Type == openai.ChatMessagePartTypeText && part.Text != "" {
				return part.Text
			}
		}
	}
	return ""
}
