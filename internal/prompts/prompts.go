// Package prompts renders the model prompts used by the recommender.
// Every builder is a pure function of its inputs.
package prompts

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"newsrec/internal/core"
)

const (
	// KeyTopics is the response key holding extracted topics
	KeyTopics = "topics_of_interest"
	// KeyCandidates and KeyExplanations hold the ranked titles and their reasons
	KeyCandidates   = "candidates"
	KeyExplanations = "explanations"
	// KeyPreferences and KeyResponse are returned by an adjustment
	KeyPreferences = "preferences"
	KeyResponse    = "response"

	// emptyPreferences is rendered when the user has not stated any preferences
	emptyPreferences = "None"

	separator = "---------------------"
)

// TopicExtraction asks for the topics a user is likely interested in.
func TopicExtraction(interactions []core.InteractionEvent, preferences string, windowDays int) string {
	var b strings.Builder
	writeContext(&b, interactions, preferences, windowDays)
	b.WriteString(separator + "\n")
	b.WriteString("Provide a list of topics that the user might be interested in based on their interaction history and preferences in form of a JSON.\n")
	fmt.Fprintf(&b, "Example: {%q: [\"US Presidential Elections\", \"Cake recipes\", \"Bitcoin\"]}\n", KeyTopics)
	b.WriteString("Return an empty list if there is nothing to go on.\n")
	return b.String()
}

// Ranking asks the model to pick at most maxPicks titles from candidateTitles
// and explain each pick. Titles are listed in the given order.
func Ranking(interactions []core.InteractionEvent, preferences string, windowDays int, candidateTitles []string, maxPicks int) string {
	var b strings.Builder
	writeContext(&b, interactions, preferences, windowDays)
	fmt.Fprintf(&b, "Candidate articles: %s\n", jsonList(candidateTitles))
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "Choose up to %d candidate articles the user is most likely to read, most relevant first.\n", maxPicks)
	b.WriteString("Copy each chosen title exactly as it appears in the candidate list and give a one-sentence explanation for each.\n")
	fmt.Fprintf(&b, "Respond in form of a JSON with two lists of equal length: %q (titles) and %q (explanations in the same order).\n",
		KeyCandidates, KeyExplanations)
	fmt.Fprintf(&b, "Example: {%q: [\"Title A\", \"Title B\"], %q: [\"Because ...\", \"Because ...\"]}\n",
		KeyCandidates, KeyExplanations)
	return b.String()
}

// Adjustment asks the model to fold a free-text request into the user's preferences.
func Adjustment(preferences, request string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current user preferences: %s\n", preferencesOrNone(preferences))
	fmt.Fprintf(&b, "User request: %s\n", request)
	b.WriteString(separator + "\n")
	b.WriteString("Decide whether the request changes what news the user wants to see.\n")
	fmt.Fprintf(&b, "If it does, set %q to the complete updated preference text, rewritten to include both the old preferences that still apply and the new request.\n", KeyPreferences)
	fmt.Fprintf(&b, "If it does not, set %q to null.\n", KeyPreferences)
	fmt.Fprintf(&b, "Always set %q to a short reply addressed to the user.\n", KeyResponse)
	fmt.Fprintf(&b, "Respond in form of a JSON. Example: {%q: \"Interested in cycling and European politics\", %q: \"Got it, more cycling news coming up.\"}\n",
		KeyPreferences, KeyResponse)
	return b.String()
}

func writeContext(b *strings.Builder, interactions []core.InteractionEvent, preferences string, windowDays int) {
	titles := make([]string, len(interactions))
	for i, e := range interactions {
		titles[i] = e.Title
	}
	fmt.Fprintf(b, "Articles that user interacted with in the last %d days: %s\n", windowDays, jsonList(titles))
	fmt.Fprintf(b, "User preferences: %s\n", preferencesOrNone(preferences))
}

func preferencesOrNone(preferences string) string {
	if strings.TrimSpace(preferences) == "" {
		return emptyPreferences
	}
	return preferences
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	out, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(out)
}
