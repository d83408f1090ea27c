package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"

	"eventParseAPI/internal/types/event"
)

const (
	dateLayout        = "2006-01-02"
	timeLayout        = "15:04"
	icsDateTimeLayout = "20060102T150405"
)

// Weekday ordinals (Sunday=0 .. Saturday=6) mapped to rrule weekdays
// and to RFC 5545 BYDAY tokens.
var (
	rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}
	icalDayTokens = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}
)

// ICSService renders extracted calendar events into an iCalendar
// document so users can import them into their own calendar app.
type ICSService struct {
	log *zerolog.Logger
}

func NewICSService(logger *zerolog.Logger) *ICSService {
	return &ICSService{
		log: logger,
	}
}

// BuildCalendar turns events into a single VCALENDAR. Weekly
// recurrences stay one VEVENT with an RRULE, never one VEVENT per day.
func (s *ICSService) BuildCalendar(name string, events []event.CalendarEvent) (string, error) {
	if len(events) == 0 {
		return "", errors.New("no events to export")
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//eventParseAPI//Calendar Export//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for i, ev := range events {
		if err := s.addEvent(cal, ev); err != nil {
			return "", fmt.Errorf("event %d (%q): %w", i, ev.Title, err)
		}
	}

	s.log.Info().Int("events", len(events)).Str("calendar", name).Msg("Calendar built")

	return cal.Serialize(), nil
}

func (s *ICSService) addEvent(cal *ics.Calendar, ev event.CalendarEvent) error {
	// Exactly one mode per event: a single date, or a start/end range.
	if ev.Date != nil && (ev.StartDate != nil || ev.EndDate != nil) {
		return errors.New("event sets both a date and a start/end range")
	}

	ve := cal.AddEvent(uuid.New().String())
	ve.SetDtStampTime(time.Now().UTC())
	ve.SetSummary(ev.Title)
	if ev.Details != "" {
		ve.SetDescription(ev.Details)
	}

	switch {
	case ev.Date != nil:
		return setSingleDay(ve, ev)
	case ev.IsRange():
		return setRange(ve, ev)
	default:
		return errors.New("event has neither a date nor a start/end range")
	}
}

func setSingleDay(ve *ics.VEvent, ev event.CalendarEvent) error {
	day, err := time.Parse(dateLayout, *ev.Date)
	if err != nil {
		return fmt.Errorf("bad date %q: %w", *ev.Date, err)
	}

	if !ev.AllDay && ev.StartTime != nil {
		return setTimedDay(ve, ev, day)
	}

	ve.SetAllDayStartAt(day)
	ve.SetAllDayEndAt(day.AddDate(0, 0, 1))
	return nil
}

func setRange(ve *ics.VEvent, ev event.CalendarEvent) error {
	start, err := time.Parse(dateLayout, *ev.StartDate)
	if err != nil {
		return fmt.Errorf("bad start_date %q: %w", *ev.StartDate, err)
	}
	end, err := time.Parse(dateLayout, *ev.EndDate)
	if err != nil {
		return fmt.Errorf("bad end_date %q: %w", *ev.EndDate, err)
	}
	if end.Before(start) {
		return fmt.Errorf("end_date %q before start_date %q", *ev.EndDate, *ev.StartDate)
	}

	if !ev.HasWeekdays() {
		// Continuous multi-day span.
		ve.SetAllDayStartAt(start)
		ve.SetAllDayEndAt(end.AddDate(0, 0, 1))
		return nil
	}

	days := normalizeWeekdays(ev.DaysOfWeek)
	if len(days) == 0 {
		return errors.New("days_of_week contains no valid ordinals")
	}

	byweekday := make([]rrule.Weekday, len(days))
	for i, d := range days {
		byweekday[i] = rruleWeekdays[d]
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: byweekday,
		Dtstart:   start,
		Until:     end.AddDate(0, 0, 1).Add(-time.Second),
	})
	if err != nil {
		return fmt.Errorf("invalid recurrence: %w", err)
	}

	// DTSTART must land on the first weekday the rule actually hits.
	first := rule.After(start, true)
	if first.IsZero() {
		return errors.New("recurrence has no occurrences inside the range")
	}

	if !ev.AllDay && ev.StartTime != nil {
		if err := setTimedDay(ve, ev, first); err != nil {
			return err
		}
		ve.SetProperty(ics.ComponentPropertyRrule, weeklyRule(days, end, true))
		return nil
	}

	ve.SetAllDayStartAt(first)
	ve.SetAllDayEndAt(first.AddDate(0, 0, 1))
	ve.SetProperty(ics.ComponentPropertyRrule, weeklyRule(days, end, false))
	return nil
}

// setTimedDay writes floating local DTSTART/DTEND on the given day.
// A missing end_time defaults to one hour after the start.
func setTimedDay(ve *ics.VEvent, ev event.CalendarEvent, day time.Time) error {
	start, err := atTime(day, *ev.StartTime)
	if err != nil {
		return err
	}

	end := start.Add(time.Hour)
	if ev.EndTime != nil {
		end, err = atTime(day, *ev.EndTime)
		if err != nil {
			return err
		}
	}

	ve.SetProperty(ics.ComponentPropertyDtStart, start.Format(icsDateTimeLayout))
	ve.SetProperty(ics.ComponentPropertyDtEnd, end.Format(icsDateTimeLayout))
	return nil
}

func atTime(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse(timeLayout, hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: %w", hhmm, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC), nil
}

// weeklyRule builds the RRULE value. The pattern was already validated
// through rrule-go in setRange. All-day recurrences use the DATE form
// of UNTIL, timed ones the UTC date-time form.
func weeklyRule(days []int, until time.Time, timed bool) string {
	tokens := make([]string, len(days))
	for i, d := range days {
		tokens[i] = icalDayTokens[d]
	}

	untilStr := until.Format("20060102")
	if timed {
		untilStr += "T235959Z"
	}

	return fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s;UNTIL=%s", strings.Join(tokens, ","), untilStr)
}

func normalizeWeekdays(days []int) []int {
	var seen [7]bool
	for _, d := range days {
		if d >= 0 && d <= 6 {
			seen[d] = true
		}
	}

	out := []int{}
	for d, ok := range seen {
		if ok {
			out = append(out, d)
		}
	}
	return out
}
