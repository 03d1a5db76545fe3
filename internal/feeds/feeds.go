// Package feeds collects articles from RSS and Atom feeds.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"newsrec/internal/core"
	"newsrec/internal/logger"
	"newsrec/internal/metrics"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "newsrec/1.0 (+https://github.com/newsrec)"
)

// ErrNoFeeds is returned when every configured feed failed.
var ErrNoFeeds = errors.New("no feed could be collected")

// Collector fetches a fixed list of feeds concurrently.
type Collector struct {
	urls    []string
	timeout time.Duration
	parser  *gofeed.Parser
}

// NewCollector creates a Collector for urls. A zero timeout uses DefaultTimeout.
func NewCollector(urls []string, userAgent string, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	return &Collector{urls: urls, timeout: timeout, parser: parser}
}

type feedResult struct {
	url      string
	articles []core.Article
	err      error
}

// Collect fetches every feed and returns the combined articles in feed order.
// Failing feeds are logged and skipped; an error is returned only when all fail.
func (c *Collector) Collect(ctx context.Context) ([]core.Article, error) {
	if len(c.urls) == 0 {
		return nil, core.E(core.KindInvalidRequest, "feeds.Collect", errors.New("no feed URLs configured"))
	}

	results := make([]feedResult, len(c.urls))
	var wg sync.WaitGroup
	for i, u := range c.urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			articles, err := c.fetch(ctx, u)
			results[i] = feedResult{url: u, articles: articles, err: err}
		}(i, u)
	}
	wg.Wait()

	var (
		articles []core.Article
		errs     []error
	)
	for _, r := range results {
		if r.err != nil {
			logger.Warn("Skipping feed", "feed", r.url, "error", r.err.Error())
			metrics.FeedErrors.WithLabelValues(r.url).Inc()
			errs = append(errs, r.err)
			continue
		}
		articles = append(articles, r.articles...)
	}

	if len(errs) == len(c.urls) {
		return nil, core.E(core.KindStoreUnavailable, "feeds.Collect",
			fmt.Errorf("%w: %w", ErrNoFeeds, errors.Join(errs...)))
	}

	logger.Info("Collected feeds", "feeds", len(c.urls), "failed", len(errs), "articles", len(articles))
	return articles, nil
}

func (c *Collector) fetch(ctx context.Context, feedURL string) ([]core.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	feed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", feedURL, err)
	}

	articles := make([]core.Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		if a, ok := toArticle(item); ok {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

func toArticle(item *gofeed.Item) (core.Article, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return core.Article{}, false
	}

	a := core.Article{
		ID:        link,
		Title:     strings.TrimSpace(item.Title),
		Summary:   StripHTML(item.Description),
		Domain:    domainOf(link),
		Published: strings.TrimSpace(item.Published),
	}

	parsed := item.PublishedParsed
	if parsed == nil {
		parsed = item.UpdatedParsed
	}
	if parsed != nil {
		a.PublishedAt = parsed.UTC()
		if a.Published == "" {
			a.Published = parsed.UTC().Format(time.RFC1123Z)
		}
	} else if t, ok := core.ParseTimestamp(a.Published, core.PublishedLayouts); ok {
		a.PublishedAt = t
	}
	return a, true
}

func domainOf(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// StripHTML returns the visible text of an HTML fragment with whitespace collapsed.
func StripHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
