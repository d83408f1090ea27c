package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"eventParseAPI/internal/types/event"
	"eventParseAPI/services"
)

var validate = validator.New()

type ExportHandler struct {
	icsService *services.ICSService
	log        *zerolog.Logger
}

func NewExportHandler(icsService *services.ICSService, logger *zerolog.Logger) *ExportHandler {
	return &ExportHandler{
		icsService: icsService,
		log:        logger,
	}
}

// HandleExport converts a JSON list of events into a downloadable
// iCalendar file. Unlike the parse flow, the events here come straight
// from the client, so they are validated before rendering.
func (h *ExportHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var req event.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := validate.Struct(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Validation failed: %v", err))
		return
	}

	calendar, err := h.icsService.BuildCalendar(req.CalendarName, req.Events)
	if err != nil {
		h.log.Error().Err(err).Msg("Calendar build failed")
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(calendar))
}
