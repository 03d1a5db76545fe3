package prompts

import (
	"strings"
	"testing"

	"newsrec/internal/core"
)

var clicks = []core.InteractionEvent{
	{Title: "Tour de France route announced"},
	{Title: "Fed holds rates \"steady\""},
}

func TestTopicExtraction(t *testing.T) {
	p := TopicExtraction(clicks, "likes cycling", 7)

	for _, want := range []string{
		"in the last 7 days:",
		`["Tour de France route announced","Fed holds rates \"steady\""]`,
		"User preferences: likes cycling",
		KeyTopics,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("Expected prompt to contain %q\n%s", want, p)
		}
	}
}

func TestTopicExtraction_EmptyState(t *testing.T) {
	p := TopicExtraction(nil, "", 7)
	if !strings.Contains(p, "in the last 7 days: []") {
		t.Errorf("Expected empty history list, got\n%s", p)
	}
	if !strings.Contains(p, "User preferences: None") {
		t.Errorf("Expected None for missing preferences, got\n%s", p)
	}
}

func TestRanking_PreservesCandidateOrder(t *testing.T) {
	titles := []string{"Zeta", "Alpha", "Mid"}
	p := Ranking(clicks, "None", 7, titles, 10)

	if !strings.Contains(p, `Candidate articles: ["Zeta","Alpha","Mid"]`) {
		t.Errorf("Expected candidate titles in input order, got\n%s", p)
	}
	if !strings.Contains(p, "up to 10 candidate articles") {
		t.Errorf("Expected pick limit in prompt, got\n%s", p)
	}
	for _, key := range []string{KeyCandidates, KeyExplanations} {
		if !strings.Contains(p, key) {
			t.Errorf("Expected key %q in prompt", key)
		}
	}
}

func TestAdjustment(t *testing.T) {
	p := Adjustment("", "show me more cycling")
	if !strings.Contains(p, "Current user preferences: None") {
		t.Errorf("Expected None for empty preferences, got\n%s", p)
	}
	if !strings.Contains(p, "User request: show me more cycling") {
		t.Errorf("Expected request in prompt, got\n%s", p)
	}
	if !strings.Contains(p, KeyPreferences) || !strings.Contains(p, KeyResponse) {
		t.Errorf("Expected both response keys in prompt")
	}
}

func TestBuildersAreDeterministic(t *testing.T) {
	titles := []string{"A", "B"}
	if Ranking(clicks, "x", 7, titles, 10) != Ranking(clicks, "x", 7, titles, 10) {
		t.Error("Ranking prompt is not deterministic")
	}
	if TopicExtraction(clicks, "x", 7) != TopicExtraction(clicks, "x", 7) {
		t.Error("Topic prompt is not deterministic")
	}
	if titles[0] != "A" || titles[1] != "B" {
		t.Error("Builder mutated its input")
	}
}
