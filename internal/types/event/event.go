package event

// CalendarEvent is the single domain entity. It exists only for the
// lifetime of one request/response cycle and is never stored.
//
// Exactly one of date or start_date+end_date is expected to be set.
// A range event with a non-empty days_of_week denotes weekly recurrence
// on those weekdays (Sunday=0 .. Saturday=6) inside the range, not a
// continuous span.
type CalendarEvent struct {
	Date       *string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartDate  *string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate    *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	DaysOfWeek []int   `json:"days_of_week" validate:"omitempty,dive,gte=0,lte=6"`
	Title      string  `json:"title" validate:"required"`
	Details    string  `json:"details"`
	AllDay     bool    `json:"all_day"`
	StartTime  *string `json:"start_time" validate:"omitempty,datetime=15:04"`
	EndTime    *string `json:"end_time" validate:"omitempty,datetime=15:04"`
}

// IsRange reports whether the event is expressed as a date range
// rather than a single day.
func (e *CalendarEvent) IsRange() bool {
	return e.Date == nil && e.StartDate != nil && e.EndDate != nil
}

// HasWeekdays reports whether the event already carries a weekly
// recurrence pattern.
func (e *CalendarEvent) HasWeekdays() bool {
	return len(e.DaysOfWeek) > 0
}

type ParseResponse struct {
	Events []CalendarEvent `json:"events"`
}

// ImageAttachment is an uploaded image ready to be forwarded to the
// completion provider as an inline data URL.
type ImageAttachment struct {
	MIME string
	Data []byte
}

// ScheduleHints carries what the request text revealed about the
// schedule before the model was called. The hints are embedded into
// the extraction instructions and drive the post-correction step.
type ScheduleHints struct {
	Weekdays []int
	FullYear bool
}

type ExportRequest struct {
	CalendarName string          `json:"calendar_name"`
	Events       []CalendarEvent `json:"events" validate:"required,min=1,max=100,dive"`
}
