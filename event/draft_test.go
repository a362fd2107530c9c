package event

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func validDraft() Draft {
	return Draft{
		Title:     "Board game night",
		Location:  "Community hall",
		HostName:  "Ada",
		StartDate: "2026-06-12T19:00:00Z",
	}
}

func TestDraftValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Draft)
		field  string
	}{
		{"valid", func(*Draft) {}, ""},
		{"missing title", func(d *Draft) { d.Title = " " }, "title"},
		{"missing location", func(d *Draft) { d.Location = "" }, "location"},
		{"missing host", func(d *Draft) { d.HostName = "" }, "host_name"},
		{"missing start", func(d *Draft) { d.StartDate = "" }, "start_date"},
		{"bad start", func(d *Draft) { d.StartDate = "next friday" }, "start_date"},
		{"bad end", func(d *Draft) { d.EndDate = "soon" }, "end_date"},
		{"end before start", func(d *Draft) { d.EndDate = "2026-06-11" }, "end_date"},
		{"date only", func(d *Draft) { d.StartDate = "2026-06-12" }, ""},
		{"local minutes", func(d *Draft) { d.StartDate = "2026-06-12T19:00" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(&d)
			_, _, err := d.Validate()

			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("error = %v, want *FieldError", err)
			}
			if fe.Field != tt.field {
				t.Errorf("Field = %q, want %q", fe.Field, tt.field)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	got, ok := ParseDate("2026-06-12T21:00:00+02:00")
	if !ok {
		t.Fatal("expected offset date to parse")
	}
	want := time.Date(2026, 6, 12, 19, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("ParseDate = %v, want %v", got, want)
	}
}
