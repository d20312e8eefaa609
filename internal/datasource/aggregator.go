package datasource

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
)

// Aggregator bundles every market source behind one handle.
type Aggregator struct {
	funds   *Funds
	sectors *Sectors
	search  *FundSearch
	news    *News
}

// NewAggregator creates all sources from configuration with public endpoints.
func NewAggregator(fund config.FundConfig, market config.MarketConfig, log logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		funds:   NewFunds(fund, log),
		sectors: NewSectors(nil, market.TTL(), nil, log),
		search:  NewFundSearch("", nil),
		news:    NewNews(SourcesFromURLs(market.NewsFeeds), market.TTL(), nil, log),
	}
}

// NewAggregatorWith assembles an aggregator from prebuilt sources.
func NewAggregatorWith(funds *Funds, sectors *Sectors, search *FundSearch, news *News) *Aggregator {
	return &Aggregator{funds: funds, sectors: sectors, search: search, news: news}
}

// Funds returns the fund quote source.
func (a *Aggregator) Funds() *Funds { return a.funds }

// Sectors returns the sector ranking source.
func (a *Aggregator) Sectors() *Sectors { return a.sectors }

// Search returns the fund search source.
func (a *Aggregator) Search() *FundSearch { return a.search }

// News returns the headline source.
func (a *Aggregator) News() *News { return a.news }

// Snapshot is the market state fed into the daily summary.
type Snapshot struct {
	Sectors   []models.Sector
	Headlines []models.NewsArticle
}

// FetchSnapshot loads sectors and headlines concurrently. A failed half
// leaves its field empty; the call errors only if both halves fail.
func (a *Aggregator) FetchSnapshot(ctx context.Context, topSectors, headlines int) (*Snapshot, error) {
	snap := &Snapshot{}

	var (
		mu   sync.Mutex
		errs []error
	)
	addErr := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := a.sectors.Hot(gctx, topSectors)
		if err != nil {
			addErr(err)
			return nil
		}
		snap.Sectors = s
		return nil
	})
	g.Go(func() error {
		n, err := a.news.Latest(gctx, headlines)
		if err != nil {
			addErr(err)
			return nil
		}
		snap.Headlines = n
		return nil
	})
	_ = g.Wait()

	if len(errs) == 2 {
		return nil, errors.Join(errs...)
	}
	return snap, nil
}

// Warm refreshes the sector and news caches. One failing refresh does
// not cancel the other.
func (a *Aggregator) Warm(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.sectors.Refresh(ctx) })
	g.Go(func() error { return a.news.Refresh(ctx) })
	return g.Wait()
}
