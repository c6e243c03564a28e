package changelog

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	tests := []struct {
		name    string
		raw     string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339", raw: "2024-03-01T09:30:00Z", want: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)},
		{name: "rfc3339 offset", raw: "2024-03-01T09:30:00+02:00", want: time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)},
		{name: "seven digit fraction", raw: "2024-03-01T09:30:00.0000000+01:00", want: time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)},
		{name: "local text", raw: "2024-03-01 09:30:00", want: time.Date(2024, 3, 1, 9, 30, 0, 0, berlin)},
		{name: "us text", raw: "3/1/2024 9:30:00 AM", want: time.Date(2024, 3, 1, 9, 30, 0, 0, berlin)},
		{name: "us text with offset", raw: "3/1/2024 9:30:00 AM -05:00", want: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)},
		{name: "date only", raw: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, berlin)},
		{name: "excel serial", raw: "45352", want: time.Date(2024, 3, 1, 0, 0, 0, 0, berlin)},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "garbage", raw: "next tuesday", wantErr: true},
		{name: "negative serial", raw: "-3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTime(tt.raw, berlin, false)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTime(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		raw       string
		value     bool
		blank     bool
		wantError bool
	}{
		{raw: "TRUE", value: true},
		{raw: "false"},
		{raw: "1", value: true},
		{raw: "0"},
		{raw: "", blank: true},
		{raw: "maybe", wantError: true},
	}
	for _, tt := range tests {
		value, blank, err := parseFlag(tt.raw)
		if (err != nil) != tt.wantError {
			t.Errorf("parseFlag(%q) err = %v", tt.raw, err)
			continue
		}
		if value != tt.value || blank != tt.blank {
			t.Errorf("parseFlag(%q) = %v, %v", tt.raw, value, blank)
		}
	}
}

func TestParseAction(t *testing.T) {
	for raw, want := range map[string]Action{
		"Added":     ActionAdded,
		" updated ": ActionUpdated,
		"DELETED":   ActionDeleted,
	} {
		got, err := ParseAction(raw)
		if err != nil || got != want {
			t.Errorf("ParseAction(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseAction("Moved"); err == nil {
		t.Error("expected error for unknown action")
	}
}
