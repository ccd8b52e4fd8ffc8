package manifest

import (
	"fmt"
	"time"
)

// dateLayout and dateTimeLayout implement the spec's "%d.%m.%Y" /
// "%I:%M%p %d.%m.%Y" strftime-style output formats in Go's reference-time
// layout syntax. SetDateLayouts overrides them from config.Config; the
// zero-value defaults below match config.Default()'s values.
var (
	dateLayout     = "02.01.2006"
	dateTimeLayout = "03:04PM 02.01.2006"
)

// SetDateLayouts configures the layouts FormatDate/FormatDateTime render
// with, per config.Config.DateFormat/DateTimeFormat. A blank argument
// leaves the corresponding layout unchanged.
func SetDateLayouts(date, dateTime string) {
	if date != "" {
		dateLayout = date
	}
	if dateTime != "" {
		dateTimeLayout = dateTime
	}
}

// inputLayouts are tried in order against free-form timestamp strings
// accepted on input; RFC3339 first since it is what the registry itself
// emits when round-tripping a prior run's output.
func inputLayouts() []string {
	return []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
		dateTimeLayout,
		dateLayout,
	}
}

// ParseTimestamp accepts any of inputLayouts, returning the first
// successful parse.
func ParseTimestamp(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range inputLayouts() {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, fmt.Errorf("manifest: %q matches no recognized timestamp layout: %w", s, firstErr)
}

// FormatDate renders t using the output date format.
func FormatDate(t time.Time) string { return t.Format(dateLayout) }

// FormatDateTime renders t using the output datetime format.
func FormatDateTime(t time.Time) string { return t.Format(dateTimeLayout) }
