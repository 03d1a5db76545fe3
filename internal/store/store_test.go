package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"newsrec/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewStore(tmpDir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := os.Stat(filepath.Join(tmpDir, "newsrec.db")); os.IsNotExist(err) {
		t.Error("Database file should be created")
	}
}

func TestNewStore_InvalidDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	invalidPath := filepath.Join(tmpDir, "file.txt")
	_ = os.WriteFile(invalidPath, []byte("test"), 0644)

	if _, err := NewStore(invalidPath); err == nil {
		t.Error("Expected error when creating store in invalid directory")
	}
}

func TestGetPreferenceText_FirstTimeUser(t *testing.T) {
	store := newTestStore(t)

	text, err := store.GetPreferenceText(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("GetPreferenceText failed: %v", err)
	}
	if text != NoPreferences {
		t.Errorf("Expected %q for a user without a record, got %q", NoPreferences, text)
	}
}

func TestEnsureUserInitialized_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetPreferenceText(ctx, "u1", "likes cycling"); err != nil {
		t.Fatalf("SetPreferenceText failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.EnsureUserInitialized(ctx, "u1"); err != nil {
			t.Fatalf("EnsureUserInitialized failed: %v", err)
		}
	}

	text, _ := store.GetPreferenceText(ctx, "u1")
	if text != "likes cycling" {
		t.Errorf("Expected existing preferences to survive initialization, got %q", text)
	}

	_ = store.EnsureUserInitialized(ctx, "u2")
	exists, err := store.UserExists(ctx, "u2")
	if err != nil || !exists {
		t.Errorf("Expected u2 to exist after initialization, got %v (%v)", exists, err)
	}
	text, _ = store.GetPreferenceText(ctx, "u2")
	if text != "" {
		t.Errorf("Expected empty preferences for initialized user, got %q", text)
	}
}

func TestEnsureUserInitialized_RequiresUserID(t *testing.T) {
	store := newTestStore(t)
	err := store.EnsureUserInitialized(context.Background(), "")
	if !core.IsKind(err, core.KindInvalidRequest) {
		t.Errorf("Expected invalid_request, got %v", err)
	}
}

func TestSetPreferenceText_Overwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.SetPreferenceText(ctx, "u1", "likes cycling")
	_ = store.SetPreferenceText(ctx, "u1", "prefers science")

	text, err := store.GetPreferenceText(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPreferenceText failed: %v", err)
	}
	if text != "prefers science" {
		t.Errorf("Expected full overwrite, got %q", text)
	}
}

func TestGetRecentInteractions_Window(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	events := []core.InteractionEvent{
		{UserID: "u1", Title: "Too old", Date: "01/03/2024", Timestamp: now.Add(-8 * 24 * time.Hour), Domain: "a.com"},
		{UserID: "u1", Title: "In window", Date: "05/03/2024", Timestamp: now.Add(-5 * 24 * time.Hour), Domain: "b.com"},
		{UserID: "u1", Title: "Today", Date: "10/03/2024", Timestamp: now.Add(-time.Hour), Domain: "c.com"},
		{UserID: "u2", Title: "Someone else", Date: "10/03/2024", Timestamp: now, Domain: "d.com"},
	}
	for _, e := range events {
		if _, err := store.AppendInteraction(ctx, e); err != nil {
			t.Fatalf("AppendInteraction failed: %v", err)
		}
	}

	got, err := store.GetRecentInteractions(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("GetRecentInteractions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 events in window, got %d", len(got))
	}
	if got[0].Title != "In window" || got[1].Title != "Today" {
		t.Errorf("Expected oldest-first order, got %q, %q", got[0].Title, got[1].Title)
	}
	if got[0].Date != "05/03/2024" || got[0].Domain != "b.com" || got[0].ID == "" {
		t.Errorf("Expected stored fields to round-trip, got %+v", got[0])
	}
}

func TestGetRecentInteractions_NoHistory(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetRecentInteractions(context.Background(), "ghost", 7)
	if err != nil {
		t.Fatalf("Expected no error for missing history, got %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", got)
	}
}

func TestAppendInteraction_KeepsDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	click := core.InteractionEvent{UserID: "u1", Title: "Same story", Date: "2024-03-10", Domain: "nytimes.com"}
	for i := 0; i < 3; i++ {
		if _, err := store.AppendInteraction(ctx, click); err != nil {
			t.Fatalf("AppendInteraction failed: %v", err)
		}
	}

	n, err := store.CountInteractions(ctx, "u1")
	if err != nil {
		t.Fatalf("CountInteractions failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 accumulated clicks, got %d", n)
	}
}
