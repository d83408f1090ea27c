package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"eventParseAPI/internal/ai"
	"eventParseAPI/internal/config"
	"eventParseAPI/internal/types/event"
	"eventParseAPI/middleware"
	"eventParseAPI/services"
)

type ParseHandler struct {
	extractionService *services.ExtractionService
	cfg               *config.Config
	log               *zerolog.Logger
}

func NewParseHandler(extractionService *services.ExtractionService, cfg *config.Config, logger *zerolog.Logger) *ParseHandler {
	return &ParseHandler{
		extractionService: extractionService,
		cfg:               cfg,
		log:               logger,
	}
}

// HandleParse accepts a multipart form with an optional text field and
// optional images file fields and responds with the extracted events.
func (h *ParseHandler) HandleParse(w http.ResponseWriter, r *http.Request) {
	// The handler stays blocked on the completion call for as long as
	// the transport allows, so no deadline is set on the context here.
	ctx := r.Context()

	maxBody := int64(h.cfg.MaxImages)*h.cfg.MaxImageBytes + int64(h.cfg.MaxTextChars) + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		middleware.RecordExtraction("bad_request", 0)
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	text := strings.TrimSpace(r.FormValue("text"))
	if utf8.RuneCountInString(text) > h.cfg.MaxTextChars {
		middleware.RecordExtraction("bad_request", 0)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Text exceeds the %d character limit", h.cfg.MaxTextChars))
		return
	}

	images, err := h.readImages(r)
	if err != nil {
		middleware.RecordExtraction("bad_request", 0)
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if text == "" && len(images) == 0 {
		middleware.RecordExtraction("bad_request", 0)
		respondWithError(w, http.StatusBadRequest, "No text or images provided")
		return
	}

	events, err := h.extractionService.ExtractEvents(ctx, text, images)
	if err != nil {
		h.respondExtractionError(w, r, err)
		return
	}

	if events == nil {
		events = []event.CalendarEvent{}
	}

	middleware.RecordExtraction("ok", len(events))
	respondWithJSON(w, http.StatusOK, event.ParseResponse{Events: events})
}

// readImages drains the uploaded files, enforcing the per-file size
// cap. Files past the count cap are ignored rather than rejected.
func (h *ParseHandler) readImages(r *http.Request) ([]event.ImageAttachment, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	files := r.MultipartForm.File["images"]
	if len(files) > h.cfg.MaxImages {
		files = files[:h.cfg.MaxImages]
	}

	images := make([]event.ImageAttachment, 0, len(files))
	for _, fh := range files {
		if fh.Size > h.cfg.MaxImageBytes {
			return nil, fmt.Errorf("image %q exceeds the %d byte limit", fh.Filename, h.cfg.MaxImageBytes)
		}

		file, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("unable to read image %q", fh.Filename)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("unable to read image %q", fh.Filename)
		}

		mimeType := fh.Header.Get("Content-Type")
		if mimeType == "" || mimeType == "application/octet-stream" {
			mimeType = http.DetectContentType(data)
		}
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, fmt.Errorf("file %q is not an image", fh.Filename)
		}

		images = append(images, event.ImageAttachment{MIME: mimeType, Data: data})
	}

	return images, nil
}

// respondExtractionError maps each failure kind onto its HTTP shape.
// Everything downstream of input validation surfaces as a 500 with the
// diagnostic detail in the body.
func (h *ParseHandler) respondExtractionError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := middleware.GetRequestID(r.Context())
	h.log.Error().Err(err).Str("request_id", requestID).Msg("Extraction failed")

	var upstream *ai.UpstreamError
	var noText *ai.NoOutputTextError
	var invalid *services.InvalidModelJSONError

	switch {
	case errors.Is(err, services.ErrNoCompletionProvider):
		middleware.RecordExtraction("no_provider", 0)
		respondWithError(w, http.StatusInternalServerError, "AI credentials are not configured")
	case errors.As(err, &upstream):
		middleware.RecordExtraction("upstream_error", 0)
		respondWithJSON(w, http.StatusInternalServerError, map[string]any{
			"error":           "Upstream completion request failed",
			"upstream_status": upstream.StatusCode,
			"upstream_body":   upstream.Body,
		})
	case errors.As(err, &noText):
		middleware.RecordExtraction("no_output_text", 0)
		respondWithJSON(w, http.StatusInternalServerError, map[string]any{
			"error":        "Model response contained no output text",
			"raw_response": noText.RawResponse,
		})
	case errors.As(err, &invalid):
		middleware.RecordExtraction("invalid_json", 0)
		respondWithJSON(w, http.StatusInternalServerError, map[string]any{
			"error":    "Model returned invalid JSON",
			"raw_text": invalid.RawText,
		})
	default:
		middleware.RecordExtraction("internal_error", 0)
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
