package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/Dxboy266/The-Stoic-Leek/internal/infra"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
)

// NewsSource is one RSS feed.
type NewsSource struct {
	Name   string
	RSSURL string
}

// DefaultNewsSources lists the Chinese market feeds used when none are configured.
var DefaultNewsSources = []NewsSource{
	{Name: "财联社电报", RSSURL: "https://rsshub.app/cls/telegraph"},
	{Name: "华尔街见闻", RSSURL: "https://rsshub.app/wallstreetcn/news/global"},
}

// SourcesFromURLs names each feed after its host.
func SourcesFromURLs(urls []string) []NewsSource {
	out := make([]NewsSource, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		name := strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
		if i := strings.IndexByte(name, '/'); i > 0 {
			name = name[:i]
		}
		out = append(out, NewsSource{Name: name, RSSURL: u})
	}
	return out
}

// News implements market headline fetching from RSS feeds.
type News struct {
	sources []NewsSource
	cache   *infra.Cache[[]models.NewsArticle]
	limiter *infra.RateLimiter
	parser  *gofeed.Parser
	log     logrus.FieldLogger
}

// NewNews creates a news source. Empty sources uses DefaultNewsSources.
func NewNews(sources []NewsSource, ttl time.Duration, client *http.Client, log logrus.FieldLogger) *News {
	if len(sources) == 0 {
		sources = DefaultNewsSources
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	parser := gofeed.NewParser()
	parser.UserAgent = DefaultUserAgent
	if client != nil {
		parser.Client = client
	}
	return &News{
		sources: sources,
		cache:   infra.NewCache[[]models.NewsArticle](ttl),
		limiter: infra.NewRateLimiter(2, time.Second),
		parser:  parser,
		log:     log,
	}
}

// Latest returns the newest headlines across all feeds. Failed feeds are
// skipped; an error comes back only when every feed failed.
func (n *News) Latest(ctx context.Context, limit int) ([]models.NewsArticle, error) {
	all, err := n.cache.GetOrLoad(ctx, "news:latest", n.fetchAll)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return slices.Clone(all), nil
}

// Refresh fetches every feed and replaces the cached headlines.
func (n *News) Refresh(ctx context.Context) error {
	all, err := n.fetchAll(ctx)
	if err != nil {
		return err
	}
	n.cache.Set("news:latest", all)
	return nil
}

func (n *News) fetchAll(ctx context.Context) ([]models.NewsArticle, error) {
	var (
		all  []models.NewsArticle
		errs []error
	)
	for _, src := range n.sources {
		articles, err := n.fetchRSS(ctx, src)
		if err != nil {
			n.log.WithError(err).WithField("feed", src.Name).Debug("news feed skipped")
			errs = append(errs, err)
			continue
		}
		all = append(all, articles...)
	}
	if len(errs) == len(n.sources) {
		return nil, fmt.Errorf("all news feeds failed: %w", errors.Join(errs...))
	}
	sortArticlesByDate(all)
	return all, nil
}

// fetchRSS parses an RSS feed and returns articles.
func (n *News) fetchRSS(ctx context.Context, src NewsSource) ([]models.NewsArticle, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feed, err := n.parser.ParseURLWithContext(src.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", src.Name, err)
	}

	articles := make([]models.NewsArticle, 0, len(feed.Items))
	for _, item := range feed.Items {
		a := models.NewsArticle{
			Title:   strings.TrimSpace(item.Title),
			URL:     item.Link,
			Source:  src.Name,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			a.PublishedAt = *item.PublishedParsed
		}
		if a.Title == "" {
			a.Title = truncate(a.Summary, 60)
		}
		articles = append(articles, a)
	}
	return articles, nil
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// sortArticlesByDate sorts articles newest first.
func sortArticlesByDate(articles []models.NewsArticle) {
	slices.SortStableFunc(articles, func(a, b models.NewsArticle) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
}
