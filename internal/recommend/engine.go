// Package recommend orchestrates topic extraction, retrieval, ranking and
// diversification into a user's recommendation list.
package recommend

import (
	"context"
	"errors"
	"strings"
	"time"

	"newsrec/internal/core"
	"newsrec/internal/llm"
	"newsrec/internal/logger"
	"newsrec/internal/metrics"
	"newsrec/internal/prompts"
)

// ArticleStore is the article inventory used by the engine. *articles.Store implements it.
type ArticleStore interface {
	RefreshIfStale(ctx context.Context) (bool, error)
	QueryByTopics(ctx context.Context, topics []string, perTopicLimit, totalLimit int) ([]core.Candidate, error)
	SampleUpTo(ctx context.Context, limit int, exclude ...string) ([]core.Candidate, error)
}

// PreferenceRepository holds per-user state. *store.Store implements it.
type PreferenceRepository interface {
	EnsureUserInitialized(ctx context.Context, userID string) error
	GetRecentInteractions(ctx context.Context, userID string, windowDays int) ([]core.InteractionEvent, error)
	GetPreferenceText(ctx context.Context, userID string) (string, error)
	SetPreferenceText(ctx context.Context, userID, text string) error
}

// LanguageModel runs the three validated completions. *llm.Gateway implements it.
type LanguageModel interface {
	ExtractTopics(ctx context.Context, prompt string) ([]string, error)
	Rank(ctx context.Context, prompt string) (llm.Ranking, error)
	Adjust(ctx context.Context, prompt string) (llm.Adjustment, error)
}

// Options tunes the recommendation flow.
type Options struct {
	WindowDays           int
	PerTopicLimit        int
	CandidateLimit       int
	RankedLimit          int
	DiscoveryCount       int
	DiscoveryExplanation string
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		WindowDays:           7,
		PerTopicLimit:        5,
		CandidateLimit:       30,
		RankedLimit:          10,
		DiscoveryCount:       5,
		DiscoveryExplanation: "discovery",
	}
}

// Stage is a step of a recommendation request, used in logs and errors.
type Stage string

const (
	StageInit               Stage = "init"
	StageTopicsResolved     Stage = "topics_resolved"
	StageCandidatesResolved Stage = "candidates_resolved"
	StageRanked             Stage = "ranked"
	StageAssembled          Stage = "assembled"
)

// Engine produces recommendations and applies preference adjustments.
// It is safe for concurrent use; all state lives in its collaborators.
type Engine struct {
	articles ArticleStore
	prefs    PreferenceRepository
	model    LanguageModel
	opts     Options
}

// NewEngine creates an Engine. Zero fields in opts fall back to DefaultOptions.
func NewEngine(articles ArticleStore, prefs PreferenceRepository, model LanguageModel, opts Options) *Engine {
	d := DefaultOptions()
	if opts.WindowDays <= 0 {
		opts.WindowDays = d.WindowDays
	}
	if opts.PerTopicLimit <= 0 {
		opts.PerTopicLimit = d.PerTopicLimit
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = d.CandidateLimit
	}
	if opts.RankedLimit <= 0 {
		opts.RankedLimit = d.RankedLimit
	}
	if opts.DiscoveryCount < 0 {
		opts.DiscoveryCount = 0
	}
	if opts.DiscoveryExplanation == "" {
		opts.DiscoveryExplanation = d.DiscoveryExplanation
	}
	return &Engine{articles: articles, prefs: prefs, model: model, opts: opts}
}

// GetRecommendations runs the full flow for userID: refresh if stale,
// extract topics, retrieve candidates, rank them and append discovery picks.
func (e *Engine) GetRecommendations(ctx context.Context, userID string) (core.Recommendations, error) {
	start := time.Now()
	path := "topics"
	stage := StageInit

	recs, err := func() (core.Recommendations, error) {
		if strings.TrimSpace(userID) == "" {
			return core.Recommendations{}, core.E(core.KindInvalidRequest, "recommend.GetRecommendations", errors.New("user id is required"))
		}

		if err := e.prefs.EnsureUserInitialized(ctx, userID); err != nil {
			return core.Recommendations{}, err
		}
		if refreshed, err := e.articles.RefreshIfStale(ctx); err != nil {
			return core.Recommendations{}, err
		} else if refreshed {
			logger.Info("Refreshed stale article store before recommending", "user_id", userID)
		}

		interactions, err := e.prefs.GetRecentInteractions(ctx, userID, e.opts.WindowDays)
		if err != nil {
			return core.Recommendations{}, err
		}
		preferences, err := e.prefs.GetPreferenceText(ctx, userID)
		if err != nil {
			return core.Recommendations{}, err
		}

		topics, err := e.model.ExtractTopics(ctx, prompts.TopicExtraction(interactions, preferences, e.opts.WindowDays))
		if err != nil {
			return core.Recommendations{}, err
		}
		topics = cleanTopics(topics)
		stage = StageTopicsResolved

		var candidates []core.Candidate
		if len(topics) == 0 {
			path = "cold_start"
			candidates, err = e.articles.SampleUpTo(ctx, e.opts.CandidateLimit)
		} else {
			candidates, err = e.articles.QueryByTopics(ctx, topics, e.opts.PerTopicLimit, e.opts.CandidateLimit)
		}
		if err != nil {
			return core.Recommendations{}, err
		}
		stage = StageCandidatesResolved

		ranked, err := e.rank(ctx, interactions, preferences, candidates)
		if err != nil {
			return core.Recommendations{}, err
		}
		stage = StageRanked

		discovery, err := e.discover(ctx, ranked)
		if err != nil {
			return core.Recommendations{}, err
		}
		stage = StageAssembled

		logger.Info("Assembled recommendations",
			"user_id", userID,
			"path", path,
			"topics", topics,
			"candidates", len(candidates),
			"ranked", len(ranked),
			"discovery", len(discovery))

		return core.NewRecommendations(append(ranked, discovery...)), nil
	}()

	metrics.RecordRecommendation(path, time.Since(start), err)
	if err != nil {
		logger.Error("Recommendation failed", err, "user_id", userID, "stage", string(stage))
		return core.Recommendations{}, err
	}
	return recs, nil
}

// rank asks the model to choose from candidates and joins its picks back to
// the candidate rows by title. Picks keep the model's order; titles that are
// not among the candidates are dropped.
func (e *Engine) rank(ctx context.Context, interactions []core.InteractionEvent, preferences string, candidates []core.Candidate) ([]core.Candidate, error) {
	if len(candidates) == 0 {
		return []core.Candidate{}, nil
	}

	prompt := prompts.Ranking(interactions, preferences, e.opts.WindowDays, core.Titles(candidates), e.opts.RankedLimit)
	ranking, err := e.model.Rank(ctx, prompt)
	if err != nil {
		return nil, err
	}

	explanations := make(map[string]string, len(ranking.Candidates))
	for i, title := range ranking.Candidates {
		key := normalizeTitle(title)
		if _, ok := explanations[key]; !ok {
			explanations[key] = ranking.Explanations[i]
		}
	}

	byTitle := make(map[string]core.Candidate, len(candidates))
	for _, c := range candidates {
		key := normalizeTitle(c.Title)
		if _, ok := byTitle[key]; !ok {
			byTitle[key] = c
		}
	}

	ranked := make([]core.Candidate, 0, min(len(ranking.Candidates), e.opts.RankedLimit))
	used := make(map[string]bool, len(ranking.Candidates))
	for _, title := range ranking.Candidates {
		if len(ranked) == e.opts.RankedLimit {
			break
		}
		key := normalizeTitle(title)
		c, ok := byTitle[key]
		if !ok {
			logger.Warn("Dropping ranked title not among candidates", "title", title)
			continue
		}
		if used[c.ID] {
			continue
		}
		used[c.ID] = true
		c.Explanation = explanations[key]
		ranked = append(ranked, c)
	}
	return ranked, nil
}

// discover samples filler articles that are not already in ranked.
func (e *Engine) discover(ctx context.Context, ranked []core.Candidate) ([]core.Candidate, error) {
	if e.opts.DiscoveryCount == 0 {
		return []core.Candidate{}, nil
	}

	exclude := make([]string, len(ranked))
	for i, c := range ranked {
		exclude[i] = c.ID
	}
	discovery, err := e.articles.SampleUpTo(ctx, e.opts.DiscoveryCount, exclude...)
	if err != nil {
		return nil, err
	}
	for i := range discovery {
		discovery[i].Explanation = e.opts.DiscoveryExplanation
	}
	return discovery, nil
}

// AdjustRecommendations folds a free-text request into the user's preferences
// and returns the model's reply. Preferences are replaced only when the model
// returns new ones.
func (e *Engine) AdjustRecommendations(ctx context.Context, userID, request string) (string, error) {
	const op = "recommend.AdjustRecommendations"

	updated := false
	reply, err := func() (string, error) {
		if strings.TrimSpace(userID) == "" {
			return "", core.E(core.KindInvalidRequest, op, errors.New("user id is required"))
		}
		if strings.TrimSpace(request) == "" {
			return "", core.E(core.KindInvalidRequest, op, errors.New("request is required"))
		}

		if err := e.prefs.EnsureUserInitialized(ctx, userID); err != nil {
			return "", err
		}
		preferences, err := e.prefs.GetPreferenceText(ctx, userID)
		if err != nil {
			return "", err
		}

		adj, err := e.model.Adjust(ctx, prompts.Adjustment(preferences, request))
		if err != nil {
			return "", err
		}

		if adj.Preferences != nil {
			if err := e.prefs.SetPreferenceText(ctx, userID, *adj.Preferences); err != nil {
				return "", err
			}
			updated = true
		}
		return adj.Response, nil
	}()

	metrics.RecordAdjustment(updated, err)
	if err != nil {
		logger.Error("Adjustment failed", err, "user_id", userID)
		return "", err
	}
	logger.Info("Adjusted preferences", "user_id", userID, "updated", updated)
	return reply, nil
}

func cleanTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
