package core

import "time"

// Article represents a news item ingested from an RSS feed.
// The ID is the source link and is unique across the article store.
type Article struct {
	ID          string    `json:"id"`           // Source link, unique
	Title       string    `json:"title"`        // Headline
	Summary     string    `json:"summary"`      // Plain-text summary from the feed
	Domain      string    `json:"domain"`       // Host of the source link (e.g. "www.nytimes.com")
	Published   string    `json:"published"`    // Publication date as it appeared in the feed
	PublishedAt time.Time `json:"published_at"` // Parsed publication date (zero if unparseable)
}

// EmbeddingText returns the text that is embedded for similarity search.
func (a Article) EmbeddingText() string {
	return a.Title + " " + a.Summary
}

// InteractionEvent is one click recorded in a user's history.
type InteractionEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`      // Date as submitted by the client
	Timestamp time.Time `json:"timestamp"` // Parsed date used for windowing
	Domain    string    `json:"domain"`
}

// Candidate is an article retrieved for a single recommendation request.
type Candidate struct {
	Article
	Distance    float64 `json:"distance"`    // Lower is more similar, 0 for random samples
	Explanation string  `json:"explanation"` // Attached during ranking
}

// Recommendations is the column-oriented response returned to clients.
// All slices have the same length and index i describes one article.
type Recommendations struct {
	Title       []string `json:"title"`
	Link        []string `json:"link"`
	Domain      []string `json:"domain"`
	Published   []string `json:"published"`
	Explanation []string `json:"explanation"`
}

// NewRecommendations builds the column-oriented response from ordered candidates.
func NewRecommendations(candidates []Candidate) Recommendations {
	recs := Recommendations{
		Title:       make([]string, 0, len(candidates)),
		Link:        make([]string, 0, len(candidates)),
		Domain:      make([]string, 0, len(candidates)),
		Published:   make([]string, 0, len(candidates)),
		Explanation: make([]string, 0, len(candidates)),
	}
	for _, c := range candidates {
		recs.Title = append(recs.Title, c.Title)
		recs.Link = append(recs.Link, c.ID)
		recs.Domain = append(recs.Domain, c.Domain)
		recs.Published = append(recs.Published, c.Published)
		recs.Explanation = append(recs.Explanation, c.Explanation)
	}
	return recs
}

// Len returns the number of articles in the response.
func (r Recommendations) Len() int {
	return len(r.Title)
}

// Titles returns the titles of the given candidates, preserving order.
func Titles(candidates []Candidate) []string {
	titles := make([]string, len(candidates))
	for i, c := range candidates {
		titles[i] = c.Title
	}
	return titles
}
