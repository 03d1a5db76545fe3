package recommend

import (
	"context"
	"strings"
	"testing"
	"time"

	"newsrec/internal/core"
)

func TestRecordClick(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	recorder := NewClickRecorder(repo, func() time.Time { return now })

	event, err := recorder.RecordClick(context.Background(), Click{
		UserID: "u1",
		Title:  "Tour de France route announced",
		Date:   "05/03/2024",
		Domain: "www.nytimes.com",
	})
	if err != nil {
		t.Fatalf("RecordClick failed: %v", err)
	}

	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !event.Timestamp.Equal(want) {
		t.Errorf("Expected day-first date %v, got %v", want, event.Timestamp)
	}
	if event.Date != "05/03/2024" {
		t.Errorf("Expected raw date to be kept, got %q", event.Date)
	}
	if len(repo.interactions["u1"]) != 1 {
		t.Errorf("Expected one stored interaction, got %d", len(repo.interactions["u1"]))
	}
}

func TestRecordClick_UnparseableDateUsesNow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	recorder := NewClickRecorder(newFakeRepository(), func() time.Time { return now })

	event, err := recorder.RecordClick(context.Background(), Click{
		UserID: "u1", Title: "t", Date: "yesterday-ish", Domain: "d.com",
	})
	if err != nil {
		t.Fatalf("RecordClick failed: %v", err)
	}
	if !event.Timestamp.Equal(now) {
		t.Errorf("Expected recording time, got %v", event.Timestamp)
	}
}

func TestRecordClick_MissingFields(t *testing.T) {
	recorder := NewClickRecorder(newFakeRepository(), nil)

	_, err := recorder.RecordClick(context.Background(), Click{UserID: "u1", Title: " "})
	if !core.IsKind(err, core.KindInvalidRequest) {
		t.Fatalf("Expected invalid_request, got %v", err)
	}
	for _, field := range []string{"title", "date", "domain"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Expected %q in error, got %v", field, err)
		}
	}
}

func TestRecordClick_DuplicatesAccumulate(t *testing.T) {
	repo := newFakeRepository()
	recorder := NewClickRecorder(repo, nil)
	click := Click{UserID: "u1", Title: "Same", Date: "2024-03-10", Domain: "d.com"}

	for i := 0; i < 3; i++ {
		if _, err := recorder.RecordClick(context.Background(), click); err != nil {
			t.Fatalf("RecordClick failed: %v", err)
		}
	}
	if len(repo.interactions["u1"]) != 3 {
		t.Errorf("Expected 3 clicks, got %d", len(repo.interactions["u1"]))
	}
}
