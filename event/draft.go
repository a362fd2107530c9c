package event

import (
	"strings"
	"time"
)

// Draft holds the caller-supplied fields of an event before it is published.
// Dates are strings as received from the client.
type Draft struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location"`
	HostName    string `json:"host_name"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date,omitempty"`
}

// FieldError names the draft field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// dateLayouts are tried in order when parsing client dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseDate parses a client date. Values without a zone are read as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Validate checks the required fields and returns the parsed start and end
// times. The first failing field is reported as a *FieldError.
func (d Draft) Validate() (start time.Time, end *time.Time, err error) {
	required := []struct {
		field string
		value string
	}{
		{"title", d.Title},
		{"location", d.Location},
		{"host_name", d.HostName},
		{"start_date", d.StartDate},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return time.Time{}, nil, &FieldError{Field: r.field, Message: "is required"}
		}
	}

	start, ok := ParseDate(d.StartDate)
	if !ok {
		return time.Time{}, nil, &FieldError{Field: "start_date", Message: "is not a valid date"}
	}

	if strings.TrimSpace(d.EndDate) != "" {
		e, ok := ParseDate(d.EndDate)
		if !ok {
			return time.Time{}, nil, &FieldError{Field: "end_date", Message: "is not a valid date"}
		}
		if e.Before(start) {
			return time.Time{}, nil, &FieldError{Field: "end_date", Message: "is before start_date"}
		}
		end = &e
	}
	return start, end, nil
}
