package utils

import (
	"strings"

	"eventParseAPI/internal/types/event"
)

// Weekday names and common abbreviations, indexed by ordinal
// (Sunday=0 .. Saturday=6). Matching is substring based on purpose:
// this is a best-effort hint extractor, not a tokenizer.
var weekdayNames = [7][]string{
	{"sunday", "sun"},
	{"monday", "mon"},
	{"tuesday", "tues", "tue"},
	{"wednesday", "wed"},
	{"thursday", "thurs", "thur", "thu"},
	{"friday", "fri"},
	{"saturday", "sat"},
}

// Phrases that imply a recurrence spanning the whole year.
var fullYearPhrases = []string{
	"all year",
	"throughout the year",
	"every week",
	"for the year",
	"of the year",
	"entire year",
}

// WeekdayOrdinals returns the sorted set of weekday ordinals mentioned
// anywhere in text, matched case-insensitively against full and
// abbreviated English names. Returns an empty slice when no weekday
// name appears.
func WeekdayOrdinals(text string) []int {
	lower := strings.ToLower(text)

	found := []int{}
	for ordinal, names := range weekdayNames {
		for _, name := range names {
			if strings.Contains(lower, name) {
				found = append(found, ordinal)
				break
			}
		}
	}

	return found
}

// ImpliesFullYear reports whether text contains phrasing that implies
// the schedule repeats across a full year.
func ImpliesFullYear(text string) bool {
	lower := strings.ToLower(text)

	for _, phrase := range fullYearPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}

	return false
}

// FillMissingWeekdays repairs a known model failure mode: the model
// returns a date-range event for a weekly schedule but omits
// days_of_week. When the request text mentioned specific weekdays and
// implied full-year recurrence, those weekdays are injected into every
// range event that has none. Events that already carry days_of_week
// and single-day events are left untouched. The input slice is not
// mutated.
func FillMissingWeekdays(events []event.CalendarEvent, weekdays []int, fullYear bool) []event.CalendarEvent {
	if len(weekdays) == 0 || !fullYear {
		return events
	}

	corrected := make([]event.CalendarEvent, len(events))
	copy(corrected, events)

	for i := range corrected {
		if corrected[i].IsRange() && !corrected[i].HasWeekdays() {
			corrected[i].DaysOfWeek = append([]int{}, weekdays...)
		}
	}

	return corrected
}
