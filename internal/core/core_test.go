package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestArticleEmbeddingText(t *testing.T) {
	article := Article{
		ID:      "https://example.com/a",
		Title:   "Markets rally",
		Summary: "Stocks closed higher.",
	}

	if got := article.EmbeddingText(); got != "Markets rally Stocks closed higher." {
		t.Errorf("Expected joined title and summary, got %q", got)
	}
}

func TestNewRecommendations(t *testing.T) {
	candidates := []Candidate{
		{Article: Article{ID: "https://a", Title: "A", Domain: "a.com", Published: "Mon, 01 Jan 2024 10:00:00 +0000"}, Explanation: "because A"},
		{Article: Article{ID: "https://b", Title: "B", Domain: "b.com", Published: "Tue, 02 Jan 2024 10:00:00 +0000"}, Explanation: "because B"},
	}

	recs := NewRecommendations(candidates)

	if recs.Len() != 2 {
		t.Fatalf("Expected 2 recommendations, got %d", recs.Len())
	}
	columns := map[string][]string{
		"title":       recs.Title,
		"link":        recs.Link,
		"domain":      recs.Domain,
		"published":   recs.Published,
		"explanation": recs.Explanation,
	}
	for name, column := range columns {
		if len(column) != 2 {
			t.Errorf("Expected column %s to have 2 entries, got %d", name, len(column))
		}
	}
	if recs.Link[1] != "https://b" {
		t.Errorf("Expected link https://b, got %s", recs.Link[1])
	}
	if recs.Explanation[0] != "because A" {
		t.Errorf("Expected explanation 'because A', got %s", recs.Explanation[0])
	}
}

func TestNewRecommendations_Empty(t *testing.T) {
	recs := NewRecommendations(nil)
	if recs.Title == nil || recs.Explanation == nil {
		t.Error("Expected empty, non-nil columns so JSON renders []")
	}
}

func TestKindOf(t *testing.T) {
	base := E(KindTimeout, "llm.Complete", errors.New("deadline exceeded"))
	wrapped := fmt.Errorf("get recommendations: %w", base)

	if KindOf(wrapped) != KindTimeout {
		t.Errorf("Expected timeout kind through wrapping, got %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Errorf("Expected unknown kind for plain errors")
	}
	if KindOf(nil) != "" {
		t.Errorf("Expected empty kind for nil error")
	}
	if !IsKind(wrapped, KindTimeout) {
		t.Error("Expected IsKind to match")
	}
}

func TestErrorMessage(t *testing.T) {
	err := E(KindStoreUnavailable, "articles.Upsert", errors.New("disk full"))
	want := "articles.Upsert: store_unavailable: disk full"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestWrap_PreservesExistingKind(t *testing.T) {
	inner := E(KindTimeout, "llm.Embed", errors.New("deadline"))
	if got := KindOf(Wrap(KindStoreUnavailable, "articles.Upsert", inner)); got != KindTimeout {
		t.Errorf("Expected existing timeout kind to survive, got %s", got)
	}
	if got := KindOf(Wrap(KindStoreUnavailable, "articles.Upsert", errors.New("io"))); got != KindStoreUnavailable {
		t.Errorf("Expected store_unavailable for plain error, got %s", got)
	}
	if Wrap(KindTimeout, "op", nil) != nil {
		t.Error("Expected nil for nil error")
	}
}

func TestWrap_ContextErrors(t *testing.T) {
	deadline := Wrap(KindUpstreamUnavailable, "articles.QueryByTopics", fmt.Errorf("embed: %w", context.DeadlineExceeded))
	if got := KindOf(deadline); got != KindTimeout {
		t.Errorf("Expected timeout for an expired deadline, got %s", got)
	}

	cancelled := Wrap(KindStoreUnavailable, "articles.Refresh", context.Canceled)
	if !errors.Is(cancelled, context.Canceled) {
		t.Errorf("Expected cancellation to stay visible, got %v", cancelled)
	}
	if IsKind(cancelled, KindStoreUnavailable) {
		t.Errorf("Expected cancellation not to be classified as a store outage")
	}
}
