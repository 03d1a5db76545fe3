// Package articles owns the shared article inventory: ingestion, pruning,
// similarity retrieval by topic and random sampling.
package articles

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"newsrec/internal/core"
	"newsrec/internal/logger"
	"newsrec/internal/metrics"
	"newsrec/internal/vectorstore"
)

const (
	// metaLastRefresh holds the epoch seconds of the last successful ingestion cycle
	metaLastRefresh = "last_refresh"

	embedBatchSize = 100

	DefaultStalenessDays  = 3
	DefaultRefreshTTL     = 24 * time.Hour
	DefaultRefreshTimeout = 5 * time.Minute
	DefaultPerTopicLimit  = 5
	DefaultTotalLimit     = 30
)

// Embedder turns texts into embedding vectors, one per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Source collects the current articles from upstream feeds.
type Source interface {
	Collect(ctx context.Context) ([]core.Article, error)
}

// Options tunes the store. Zero values fall back to the defaults above.
type Options struct {
	StalenessDays  int
	RefreshTTL     time.Duration
	// RefreshTimeout bounds a whole ingestion cycle
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// RefreshResult summarizes one ingestion cycle.
type RefreshResult struct {
	Pruned    int
	Collected int
	Stored    int
	At        time.Time
}

// Store is the article inventory shared by all users.
type Store struct {
	collection    vectorstore.Collection
	embedder      Embedder
	source        Source
	stalenessDays  int
	ttl            time.Duration
	refreshTimeout time.Duration
	now            func() time.Time

	refreshGroup singleflight.Group
}

// New creates a Store. source may be nil when the store is only queried.
func New(collection vectorstore.Collection, embedder Embedder, source Source, opts Options) *Store {
	if opts.StalenessDays <= 0 {
		opts.StalenessDays = DefaultStalenessDays
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		collection:     collection,
		embedder:       embedder,
		source:         source,
		stalenessDays:  opts.StalenessDays,
		ttl:            opts.RefreshTTL,
		refreshTimeout: opts.RefreshTimeout,
		now:            opts.Now,
	}
}

// Upsert embeds and writes articles keyed by ID. Duplicate IDs within the
// batch collapse to the last occurrence.
func (s *Store) Upsert(ctx context.Context, batch []core.Article) (int, error) {
	const op = "articles.Upsert"

	unique := dedupe(batch)
	if len(unique) == 0 {
		return 0, nil
	}

	docs := make([]vectorstore.Document, 0, len(unique))
	for start := 0; start < len(unique); start += embedBatchSize {
		end := min(start+embedBatchSize, len(unique))
		chunk := unique[start:end]

		texts := make([]string, len(chunk))
		for i, a := range chunk {
			texts[i] = a.EmbeddingText()
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, core.Wrap(core.KindUpstreamUnavailable, op, fmt.Errorf("failed to embed articles: %w", err))
		}
		if len(vectors) != len(chunk) {
			return 0, core.E(core.KindUpstreamUnavailable, op,
				fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(chunk)))
		}

		for i, a := range chunk {
			docs = append(docs, toDocument(a, vectors[i]))
		}
	}

	if err := s.collection.Upsert(ctx, docs); err != nil {
		return 0, core.Wrap(core.KindStoreUnavailable, op, err)
	}
	return len(docs), nil
}

// PruneOlderThan deletes articles published more than days ago. Articles
// whose publication date cannot be parsed are kept.
func (s *Store) PruneOlderThan(ctx context.Context, days int) (int, error) {
	const op = "articles.PruneOlderThan"

	docs, err := s.collection.List(ctx)
	if err != nil {
		return 0, core.Wrap(core.KindStoreUnavailable, op, err)
	}

	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	var stale []string
	for _, doc := range docs {
		raw := doc.Metadata["published"]
		published, ok := core.ParseTimestamp(raw, core.PublishedLayouts)
		if !ok {
			logger.Warn("Keeping article with unparseable publication date", "id", doc.ID, "published", raw)
			continue
		}
		if published.Before(cutoff) {
			stale = append(stale, doc.ID)
		}
	}

	if err := s.collection.Delete(ctx, stale); err != nil {
		return 0, core.Wrap(core.KindStoreUnavailable, op, err)
	}
	if len(stale) > 0 {
		logger.Debug("Pruned stale articles", "count", len(stale), "cutoff", cutoff)
	}
	return len(stale), nil
}

// QueryByTopics retrieves up to perTopicLimit neighbors per topic, keeps the
// closest entry per article and returns at most totalLimit candidates in
// ascending distance order.
func (s *Store) QueryByTopics(ctx context.Context, topics []string, perTopicLimit, totalLimit int) ([]core.Candidate, error) {
	const op = "articles.QueryByTopics"

	if len(topics) == 0 || totalLimit <= 0 {
		return []core.Candidate{}, nil
	}
	if perTopicLimit <= 0 {
		perTopicLimit = DefaultPerTopicLimit
	}

	vectors, err := s.embedder.Embed(ctx, topics)
	if err != nil {
		return nil, core.Wrap(core.KindUpstreamUnavailable, op, fmt.Errorf("failed to embed topics: %w", err))
	}
	if len(vectors) != len(topics) {
		return nil, core.E(core.KindUpstreamUnavailable, op,
			fmt.Errorf("embedder returned %d vectors for %d topics", len(vectors), len(topics)))
	}

	best := make(map[string]core.Candidate)
	for i, vector := range vectors {
		matches, err := s.collection.Query(ctx, vector, perTopicLimit)
		if err != nil {
			return nil, core.Wrap(core.KindStoreUnavailable, op, fmt.Errorf("topic %q: %w", topics[i], err))
		}
		for _, m := range matches {
			if prev, ok := best[m.ID]; ok && prev.Distance <= m.Distance {
				continue
			}
			best[m.ID] = core.Candidate{Article: toArticle(m.Document), Distance: m.Distance}
		}
	}

	candidates := make([]core.Candidate, 0, len(best))
	for _, c := range best {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ID < candidates[j].ID
	})

	if len(candidates) > totalLimit {
		candidates = candidates[:totalLimit]
	}
	return candidates, nil
}

// QueryRandom samples limit distinct articles whose IDs are not in exclude.
// Each candidate has distance 0. When fewer articles are eligible it fails
// with an *core.InsufficientInventoryError reporting how many are available.
func (s *Store) QueryRandom(ctx context.Context, limit int, exclude ...string) ([]core.Candidate, error) {
	const op = "articles.QueryRandom"

	if limit <= 0 {
		return []core.Candidate{}, nil
	}

	docs, err := s.collection.Sample(ctx, limit, exclude)
	if err != nil {
		return nil, core.Wrap(core.KindStoreUnavailable, op, err)
	}
	if len(docs) < limit {
		return nil, core.E(core.KindInsufficientInventory, op,
			&core.InsufficientInventoryError{Requested: limit, Available: len(docs)})
	}

	candidates := make([]core.Candidate, len(docs))
	for i, doc := range docs {
		candidates[i] = core.Candidate{Article: toArticle(doc)}
	}
	return candidates, nil
}

// SampleUpTo is QueryRandom clamped to the available inventory.
func (s *Store) SampleUpTo(ctx context.Context, limit int, exclude ...string) ([]core.Candidate, error) {
	candidates, err := s.QueryRandom(ctx, limit, exclude...)

	var inv *core.InsufficientInventoryError
	if errors.As(err, &inv) {
		logger.Debug("Clamping random sample to inventory", "requested", inv.Requested, "available", inv.Available)
		return s.QueryRandom(ctx, inv.Available, exclude...)
	}
	return candidates, err
}

// Count returns the number of stored articles.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.collection.Count(ctx)
	if err != nil {
		return 0, core.Wrap(core.KindStoreUnavailable, "articles.Count", err)
	}
	return n, nil
}

// LastRefresh returns the time of the last successful ingestion cycle.
func (s *Store) LastRefresh(ctx context.Context) (time.Time, bool, error) {
	value, ok, err := s.collection.GetMeta(ctx, metaLastRefresh)
	if err != nil {
		return time.Time{}, false, core.Wrap(core.KindStoreUnavailable, "articles.LastRefresh", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logger.Warn("Ignoring malformed freshness marker", "value", value)
		return time.Time{}, false, nil
	}
	return time.Unix(secs, 0).UTC(), true, nil
}

// IsStale reports whether no ingestion cycle has completed within the refresh TTL.
func (s *Store) IsStale(ctx context.Context) (bool, error) {
	last, ok, err := s.LastRefresh(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return s.now().Sub(last) > s.ttl, nil
}

func (s *Store) markRefreshed(ctx context.Context, at time.Time) error {
	if err := s.collection.SetMeta(ctx, metaLastRefresh, strconv.FormatInt(at.Unix(), 10)); err != nil {
		return core.Wrap(core.KindStoreUnavailable, "articles.markRefreshed", err)
	}
	return nil
}

// Refresh runs a full ingestion cycle: prune, collect, upsert, mark fresh.
// Concurrent callers share a single in-flight cycle. The cycle is detached
// from the caller that started it and bounded by the refresh timeout; a
// caller whose ctx ends stops waiting without cancelling the cycle for the
// others. The freshness marker only advances when every step succeeds.
func (s *Store) Refresh(ctx context.Context) (RefreshResult, error) {
	ch := s.refreshGroup.DoChan("refresh", func() (any, error) {
		cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.refresh(cycleCtx)
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, core.Wrap(core.KindStoreUnavailable, "articles.Refresh", ctx.Err())
	case res := <-ch:
		if res.Shared {
			logger.Debug("Joined in-flight refresh")
		}
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}
		return res.Val.(RefreshResult), nil
	}
}

func (s *Store) refresh(ctx context.Context) (result RefreshResult, err error) {
	const op = "articles.Refresh"

	if s.source == nil {
		return result, core.E(core.KindStoreUnavailable, op, errors.New("no article source configured"))
	}

	start := time.Now()
	defer func() {
		metrics.RecordRefresh(time.Since(start), result.Stored, result.Pruned, err)
	}()

	logger.Info("Starting article refresh", "staleness_days", s.stalenessDays)

	result.Pruned, err = s.PruneOlderThan(ctx, s.stalenessDays)
	if err != nil {
		return result, err
	}

	collected, err := s.source.Collect(ctx)
	if err != nil {
		return result, core.Wrap(core.KindStoreUnavailable, op, err)
	}
	result.Collected = len(collected)

	result.Stored, err = s.Upsert(ctx, collected)
	if err != nil {
		return result, err
	}

	result.At = s.now()
	if err = s.markRefreshed(ctx, result.At); err != nil {
		return result, err
	}

	logger.Info("Article refresh complete",
		"pruned", result.Pruned,
		"collected", result.Collected,
		"stored", result.Stored,
		"duration", time.Since(start).String())
	return result, nil
}

// RefreshIfStale runs Refresh only when the store is stale.
func (s *Store) RefreshIfStale(ctx context.Context) (bool, error) {
	stale, err := s.IsStale(ctx)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}
	if _, err := s.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Ping checks the backing collection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.collection.Ping(ctx); err != nil {
		return core.Wrap(core.KindStoreUnavailable, "articles.Ping", err)
	}
	return nil
}

func dedupe(batch []core.Article) []core.Article {
	index := make(map[string]int, len(batch))
	unique := make([]core.Article, 0, len(batch))
	for _, a := range batch {
		if a.ID == "" {
			continue
		}
		if i, ok := index[a.ID]; ok {
			unique[i] = a
			continue
		}
		index[a.ID] = len(unique)
		unique = append(unique, a)
	}
	return unique
}

func toDocument(a core.Article, embedding []float64) vectorstore.Document {
	return vectorstore.Document{
		ID:   a.ID,
		Text: a.EmbeddingText(),
		Metadata: map[string]string{
			"link":      a.ID,
			"title":     a.Title,
			"summary":   a.Summary,
			"domain":    a.Domain,
			"published": a.Published,
		},
		Embedding: embedding,
	}
}

func toArticle(doc vectorstore.Document) core.Article {
	a := core.Article{
		ID:        doc.ID,
		Title:     doc.Metadata["title"],
		Summary:   doc.Metadata["summary"],
		Domain:    doc.Metadata["domain"],
		Published: doc.Metadata["published"],
	}
	if t, ok := core.ParseTimestamp(a.Published, core.PublishedLayouts); ok {
		a.PublishedAt = t
	}
	return a
}
