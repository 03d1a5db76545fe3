package articles

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"newsrec/internal/core"
	"newsrec/internal/vectorstore"
)

type fakeEmbedder struct {
	vectors map[string][]float64
	calls   atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls.Add(1)
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float64{0, 1}
		}
	}
	return out, nil
}

// hangingEmbedder blocks until its context ends.
type hangingEmbedder struct{}

func (hangingEmbedder) Embed(ctx context.Context, _ []string) ([][]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeSource struct {
	CollectFunc func(ctx context.Context) ([]core.Article, error)
	calls       atomic.Int32
}

func (f *fakeSource) Collect(ctx context.Context) ([]core.Article, error) {
	f.calls.Add(1)
	return f.CollectFunc(ctx)
}

var baseTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, embedder Embedder, source Source, now func() time.Time) *Store {
	t.Helper()
	collection, err := vectorstore.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open collection: %v", err)
	}
	t.Cleanup(func() { collection.Close() })
	if embedder == nil {
		embedder = &fakeEmbedder{}
	}
	return New(collection, embedder, source, Options{Now: now})
}

func article(id, title string, published time.Time) core.Article {
	return core.Article{
		ID:        id,
		Title:     title,
		Domain:    "www.nytimes.com",
		Published: published.Format(time.RFC1123Z),
	}
}

func TestQueryByTopics_OrdersByDistance(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"X":  {1, 0},
		"A ": {0.9, math.Sqrt(0.19)},
		"B ": {0.7, math.Sqrt(0.51)},
		"C ": {0.8, 0.6},
	}}
	s := newTestStore(t, embedder, nil, nil)
	ctx := context.Background()

	_, err := s.Upsert(ctx, []core.Article{
		article("a", "A", baseTime),
		article("b", "B", baseTime),
		article("c", "C", baseTime),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := s.QueryByTopics(ctx, []string{"X"}, 5, 2)
	if err != nil {
		t.Fatalf("QueryByTopics failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("Expected [a c], got %v", ids(got))
	}
	if math.Abs(got[0].Distance-0.1) > 1e-9 || math.Abs(got[1].Distance-0.2) > 1e-9 {
		t.Errorf("Unexpected distances %f, %f", got[0].Distance, got[1].Distance)
	}
	if got[0].Title != "A" || got[0].Domain != "www.nytimes.com" {
		t.Errorf("Expected article fields to round-trip, got %+v", got[0].Article)
	}
}

func TestQueryByTopics_UnionWithoutDuplicates(t *testing.T) {
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"economy": {1, 0},
		"markets": {0.6, 0.8},
		"Stocks ": {0.8, 0.6},
		"Rates ":  {1, 0.1},
		"Tennis ": {0, 1},
	}}
	s := newTestStore(t, embedder, nil, nil)
	ctx := context.Background()

	_, _ = s.Upsert(ctx, []core.Article{
		article("stocks", "Stocks", baseTime),
		article("rates", "Rates", baseTime),
		article("tennis", "Tennis", baseTime),
	})

	got, err := s.QueryByTopics(ctx, []string{"economy", "markets"}, 2, 30)
	if err != nil {
		t.Fatalf("QueryByTopics failed: %v", err)
	}

	seen := map[string]bool{}
	for i, c := range got {
		if seen[c.ID] {
			t.Errorf("Duplicate id %s in results", c.ID)
		}
		seen[c.ID] = true
		if i > 0 && got[i-1].Distance > c.Distance {
			t.Errorf("Results not sorted by distance: %v", got)
		}
	}
	if len(got) > 4 {
		t.Errorf("Expected at most perTopic*topics results, got %d", len(got))
	}
	// "Stocks" is [0.8,0.6]: distance 0.2 to economy but 0.04 to markets; the lower one wins.
	for _, c := range got {
		if c.ID == "stocks" && math.Abs(c.Distance-0.04) > 1e-9 {
			t.Errorf("Expected lowest distance 0.04 for stocks, got %f", c.Distance)
		}
	}

	capped, _ := s.QueryByTopics(ctx, []string{"economy", "markets"}, 5, 1)
	if len(capped) != 1 {
		t.Errorf("Expected truncation to 1, got %d", len(capped))
	}
}

func TestQueryByTopics_NoTopics(t *testing.T) {
	embedder := &fakeEmbedder{}
	s := newTestStore(t, embedder, nil, nil)

	got, err := s.QueryByTopics(context.Background(), nil, 5, 30)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected empty result, got %v (%v)", got, err)
	}
	if embedder.calls.Load() != 0 {
		t.Error("Expected no embedding call without topics")
	}
}

func TestUpsert_LastWriteWinsWithinBatch(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	ctx := context.Background()

	n, err := s.Upsert(ctx, []core.Article{
		article("dup", "First", baseTime),
		article("other", "Other", baseTime),
		article("dup", "Second", baseTime),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 stored articles, got %d", n)
	}

	got, _ := s.QueryRandom(ctx, 2)
	for _, c := range got {
		if c.ID == "dup" && c.Title != "Second" {
			t.Errorf("Expected last write to win, got %q", c.Title)
		}
	}

	// Re-ingesting replaces rather than appends
	_, _ = s.Upsert(ctx, []core.Article{article("dup", "Third", baseTime)})
	count, _ := s.Count(ctx)
	if count != 2 {
		t.Errorf("Expected 2 articles after re-ingest, got %d", count)
	}
}

func TestPruneOlderThan(t *testing.T) {
	s := newTestStore(t, nil, nil, func() time.Time { return baseTime })
	ctx := context.Background()

	unparseable := core.Article{ID: "weird", Title: "Weird", Published: "last tuesday"}
	_, _ = s.Upsert(ctx, []core.Article{
		article("old", "Old", baseTime.Add(-4*24*time.Hour)),
		article("edge-old", "Edge old", baseTime.Add(-3*24*time.Hour-time.Minute)),
		article("edge-new", "Edge new", baseTime.Add(-3*24*time.Hour+time.Minute)),
		article("fresh", "Fresh", baseTime.Add(-time.Hour)),
		unparseable,
	})

	pruned, err := s.PruneOlderThan(ctx, 3)
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if pruned != 2 {
		t.Errorf("Expected 2 pruned articles, got %d", pruned)
	}

	remaining, _ := s.QueryRandom(ctx, 3)
	got := map[string]bool{}
	for _, c := range remaining {
		got[c.ID] = true
	}
	for _, id := range []string{"edge-new", "fresh", "weird"} {
		if !got[id] {
			t.Errorf("Expected %s to be retained", id)
		}
	}
}

func TestQueryRandom(t *testing.T) {
	s := newTestStore(t, nil, nil, nil)
	ctx := context.Background()

	var batch []core.Article
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		batch = append(batch, article(id, "Title "+id, baseTime))
	}
	_, _ = s.Upsert(ctx, batch)

	got, err := s.QueryRandom(ctx, 3)
	if err != nil {
		t.Fatalf("QueryRandom failed: %v", err)
	}
	seen := map[string]bool{}
	for _, c := range got {
		if seen[c.ID] {
			t.Errorf("Duplicate id %s", c.ID)
		}
		seen[c.ID] = true
		if c.Distance != 0 {
			t.Errorf("Expected distance 0 for random sample, got %f", c.Distance)
		}
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 articles, got %d", len(got))
	}

	_, err = s.QueryRandom(ctx, 10)
	var inv *core.InsufficientInventoryError
	if !errors.As(err, &inv) {
		t.Fatalf("Expected InsufficientInventoryError, got %v", err)
	}
	if inv.Requested != 10 || inv.Available != 5 {
		t.Errorf("Unexpected inventory error: %+v", inv)
	}
	if !core.IsKind(err, core.KindInsufficientInventory) {
		t.Errorf("Expected insufficient_inventory kind, got %s", core.KindOf(err))
	}

	clamped, err := s.SampleUpTo(ctx, 10, "1", "2")
	if err != nil {
		t.Fatalf("SampleUpTo failed: %v", err)
	}
	if len(clamped) != 3 {
		t.Errorf("Expected 3 articles after exclusion, got %d", len(clamped))
	}
	for _, c := range clamped {
		if c.ID == "1" || c.ID == "2" {
			t.Errorf("Excluded id %s returned", c.ID)
		}
	}
}

func TestIsStale(t *testing.T) {
	now := baseTime
	source := &fakeSource{CollectFunc: func(context.Context) ([]core.Article, error) {
		return []core.Article{article("a", "A", baseTime)}, nil
	}}
	s := newTestStore(t, nil, source, func() time.Time { return now })
	ctx := context.Background()

	stale, err := s.IsStale(ctx)
	if err != nil || !stale {
		t.Fatalf("Expected stale without marker, got %v (%v)", stale, err)
	}

	if _, err := s.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if stale, _ := s.IsStale(ctx); stale {
		t.Error("Expected fresh right after refresh")
	}

	now = baseTime.Add(24 * time.Hour)
	if stale, _ := s.IsStale(ctx); stale {
		t.Error("Expected fresh at exactly the TTL")
	}

	now = baseTime.Add(24*time.Hour + time.Second)
	if stale, _ := s.IsStale(ctx); !stale {
		t.Error("Expected stale once the TTL has passed")
	}
}

func TestRefresh_FailureKeepsMarker(t *testing.T) {
	source := &fakeSource{CollectFunc: func(context.Context) ([]core.Article, error) {
		return nil, errors.New("all feeds failed")
	}}
	s := newTestStore(t, nil, source, func() time.Time { return baseTime })
	ctx := context.Background()

	_, err := s.Refresh(ctx)
	if !core.IsKind(err, core.KindStoreUnavailable) {
		t.Fatalf("Expected store_unavailable, got %v", err)
	}
	if _, ok, _ := s.LastRefresh(ctx); ok {
		t.Error("Expected marker to stay unset after a failed cycle")
	}
}

func TestRefresh_PrunesBeforeUpsert(t *testing.T) {
	source := &fakeSource{CollectFunc: func(context.Context) ([]core.Article, error) {
		return []core.Article{article("new", "New", baseTime)}, nil
	}}
	s := newTestStore(t, nil, source, func() time.Time { return baseTime })
	ctx := context.Background()

	_, _ = s.Upsert(ctx, []core.Article{article("old", "Old", baseTime.Add(-5*24*time.Hour))})

	result, err := s.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Pruned != 1 || result.Stored != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}
	count, _ := s.Count(ctx)
	if count != 1 {
		t.Errorf("Expected only the new article, got %d", count)
	}
}

func TestRefreshIfStale(t *testing.T) {
	source := &fakeSource{CollectFunc: func(context.Context) ([]core.Article, error) {
		return []core.Article{article("a", "A", baseTime)}, nil
	}}
	s := newTestStore(t, nil, source, func() time.Time { return baseTime })
	ctx := context.Background()

	refreshed, err := s.RefreshIfStale(ctx)
	if err != nil || !refreshed {
		t.Fatalf("Expected first call to refresh, got %v (%v)", refreshed, err)
	}
	refreshed, _ = s.RefreshIfStale(ctx)
	if refreshed {
		t.Error("Expected second call to skip refresh")
	}
	if source.calls.Load() != 1 {
		t.Errorf("Expected 1 collect call, got %d", source.calls.Load())
	}
}

func TestRefresh_ConcurrentCallersShareCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	source := &fakeSource{CollectFunc: func(context.Context) ([]core.Article, error) {
		once.Do(func() { close(started) })
		<-release
		return []core.Article{article("a", "A", baseTime)}, nil
	}}
	s := newTestStore(t, nil, source, func() time.Time { return baseTime })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Refresh(ctx)
			errs <- err
		}()
		if i == 0 {
			<-started
		}
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Refresh failed: %v", err)
		}
	}
	if got := source.calls.Load(); got != 1 {
		t.Errorf("Expected a single in-flight refresh, got %d collect calls", got)
	}
}

func TestRefresh_CallerCancelDoesNotAbortSharedCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	source := &fakeSource{CollectFunc: func(ctx context.Context) ([]core.Article, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []core.Article{article("a", "A", baseTime)}, nil
	}}
	s := newTestStore(t, nil, source, func() time.Time { return baseTime })

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctxA)
		errA <- err
	}()
	<-started

	errB := make(chan error, 1)
	go func() {
		_, err := s.Refresh(context.Background())
		errB <- err
	}()
	time.Sleep(100 * time.Millisecond)

	cancelA()
	err := <-errA
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the cancelled caller to see context.Canceled, got %v", err)
	}
	if core.IsKind(err, core.KindStoreUnavailable) {
		t.Errorf("Expected cancellation not to be reported as a store outage, got %v", err)
	}

	close(release)
	if err := <-errB; err != nil {
		t.Fatalf("Expected the other caller's refresh to succeed, got %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Errorf("Expected one shared cycle, got %d collect calls", got)
	}
	if stale, err := s.IsStale(context.Background()); err != nil || stale {
		t.Errorf("Expected store to be fresh after the shared cycle, got stale=%v err=%v", stale, err)
	}
}

func TestRefresh_CycleTimeout(t *testing.T) {
	source := &fakeSource{CollectFunc: func(ctx context.Context) ([]core.Article, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	collection, err := vectorstore.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open collection: %v", err)
	}
	t.Cleanup(func() { collection.Close() })
	s := New(collection, &fakeEmbedder{}, source, Options{RefreshTimeout: 50 * time.Millisecond})

	_, err = s.Refresh(context.Background())
	if !core.IsKind(err, core.KindTimeout) {
		t.Errorf("Expected timeout, got %v (kind %s)", err, core.KindOf(err))
	}
}

func TestQueryByTopics_EmbedderDeadline(t *testing.T) {
	s := newTestStore(t, hangingEmbedder{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.QueryByTopics(ctx, []string{"cycling"}, 5, 30)
	if !core.IsKind(err, core.KindTimeout) {
		t.Errorf("Expected timeout, got %v (kind %s)", err, core.KindOf(err))
	}
}

func ids(cs []core.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
