package core

import (
	"testing"
	"time"
)

func TestParseTimestamp_PublishedLayouts(t *testing.T) {
	want := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
	}{
		{"rfc1123z", "Tue, 05 Mar 2024 14:30:00 +0000"},
		{"rfc1123", "Tue, 05 Mar 2024 14:30:00 UTC"},
		{"single digit day", "Tue, 5 Mar 2024 14:30:00 +0000"},
		{"rfc3339", "2024-03-05T14:30:00Z"},
		{"offset", "Tue, 05 Mar 2024 09:30:00 -0500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.value, PublishedLayouts)
			if !ok {
				t.Fatalf("Expected %q to parse", tt.value)
			}
			if !got.Equal(want) {
				t.Errorf("Expected %v, got %v", want, got)
			}
		})
	}
}

func TestParseTimestamp_Unparseable(t *testing.T) {
	for _, value := range []string{"", "   ", "yesterday", "32/13/2024"} {
		if _, ok := ParseTimestamp(value, PublishedLayouts); ok {
			t.Errorf("Expected %q not to parse", value)
		}
	}
}

func TestParseTimestamp_ClickDatesAreDayFirst(t *testing.T) {
	got, ok := ParseTimestamp("03/04/2024", ClickDateLayouts)
	if !ok {
		t.Fatal("Expected day-first date to parse")
	}
	if got.Month() != time.April || got.Day() != 3 {
		t.Errorf("Expected 3 April, got %v", got)
	}
}
