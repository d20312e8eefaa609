package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dxboy266/The-Stoic-Leek/internal/infra"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
)

// DefaultSectorHosts are the Eastmoney push2 hosts, tried in order.
var DefaultSectorHosts = []string{
	"https://push2.eastmoney.com",
	"https://17.push2.eastmoney.com",
	"https://79.push2.eastmoney.com",
}

// sectorPageSize is how many boards are fetched and cached per refresh.
const sectorPageSize = 100

// Sectors ranks industry boards by daily change.
type Sectors struct {
	hosts   []string
	client  *http.Client
	cache   *infra.Cache[[]models.Sector]
	limiter *infra.RateLimiter
	log     logrus.FieldLogger
}

// NewSectors creates the sector ranking source. Empty hosts uses the
// public Eastmoney mirrors.
func NewSectors(hosts []string, ttl time.Duration, client *http.Client, log logrus.FieldLogger) *Sectors {
	if len(hosts) == 0 {
		hosts = DefaultSectorHosts
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Sectors{
		hosts:   hosts,
		client:  client,
		cache:   infra.NewCache[[]models.Sector](ttl),
		limiter: infra.NewRateLimiter(2, time.Second),
		log:     log,
	}
}

// Hot returns the top n boards by change percent, highest first.
// n <= 0 returns every board fetched.
func (s *Sectors) Hot(ctx context.Context, n int) ([]models.Sector, error) {
	all, err := s.cache.GetOrLoad(ctx, "sectors:hot", s.fetch)
	if err != nil {
		// Serve the last good ranking if the mirrors are all down.
		if stale, ok := s.cache.Stale("sectors:hot"); ok {
			s.log.WithError(err).Warn("sector refresh failed, serving stale ranking")
			all = stale
		} else {
			return nil, err
		}
	}
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return slices.Clone(all), nil
}

// Refresh drops the cached ranking and fetches it again.
func (s *Sectors) Refresh(ctx context.Context) error {
	sectors, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.cache.Set("sectors:hot", sectors)
	return nil
}

func (s *Sectors) fetch(ctx context.Context) ([]models.Sector, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var errs []error
	for _, host := range s.hosts {
		url := fmt.Sprintf("%s/api/qt/clist/get?pn=1&pz=%d&po=1&np=1&fltt=2&invt=2&fid=f3&fs=m:90+t:2&fields=f12,f14,f3,f128",
			strings.TrimRight(host, "/"), sectorPageSize)
		body, err := doGet(ctx, s.client, url, map[string]string{"Referer": "https://quote.eastmoney.com/"})
		if err == nil {
			var sectors []models.Sector
			sectors, err = parseSectors(body)
			if err == nil {
				return sectors, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.WithError(err).WithField("host", host).Debug("sector host failed")
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("all sector hosts failed: %w", errors.Join(errs...))
}

type clistResponse struct {
	Data *struct {
		Total int          `json:"total"`
		Diff  []clistBoard `json:"diff"`
	} `json:"data"`
}

type clistBoard struct {
	Code    string    `json:"f12"`
	Name    string    `json:"f14"`
	Change  flexFloat `json:"f3"`
	Leading string    `json:"f128"`
}

// flexFloat accepts numbers and the "-" placeholder Eastmoney sends
// before the open.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "-" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func parseSectors(body []byte) ([]models.Sector, error) {
	var resp clistResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sectors: %w", err)
	}
	if resp.Data == nil || len(resp.Data.Diff) == 0 {
		return nil, ErrNoData
	}

	sectors := make([]models.Sector, 0, len(resp.Data.Diff))
	for _, b := range resp.Data.Diff {
		sec := models.Sector{
			Code:          b.Code,
			Name:          b.Name,
			ChangePct:     float64(b.Change),
			LeadingStocks: []string{},
		}
		if b.Leading != "" && b.Leading != "-" {
			sec.LeadingStocks = append(sec.LeadingStocks, b.Leading)
		}
		sectors = append(sectors, sec)
	}
	slices.SortStableFunc(sectors, func(a, b models.Sector) int {
		switch {
		case a.ChangePct > b.ChangePct:
			return -1
		case a.ChangePct < b.ChangePct:
			return 1
		}
		return 0
	})
	return sectors, nil
}
