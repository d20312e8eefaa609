package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Dxboy266/The-Stoic-Leek/internal/infra"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
)

// DefaultSearchURL is the Eastmoney fund suggest endpoint.
const DefaultSearchURL = "https://fundsuggest.eastmoney.com/FundSearch/api/FundSearchAPI.ashx"

// maxSearchResults caps the number of suggestions returned.
const maxSearchResults = 10

var (
	bracketRe    = regexp.MustCompile(`[(（].*?[)）]`)
	shareClassRe = regexp.MustCompile(`[A-Ha-h]$`)
)

// CleanFundName trims a display name down to a search keyword: bracketed
// text and a trailing share class letter are dropped and the rest is cut
// to six characters.
func CleanFundName(name string) string {
	name = bracketRe.ReplaceAllString(name, "")
	name = shareClassRe.ReplaceAllString(strings.TrimSpace(name), "")
	if r := []rune(name); len(r) > 6 {
		name = string(r[:6])
	}
	return strings.TrimSpace(name)
}

// FundSearch looks funds up by name, pinyin or code.
type FundSearch struct {
	baseURL string
	client  *http.Client
	cache   *infra.Cache[[]models.FundSuggestion]
}

// NewFundSearch creates the search source. Empty baseURL uses the
// public endpoint.
func NewFundSearch(baseURL string, client *http.Client) *FundSearch {
	if baseURL == "" {
		baseURL = DefaultSearchURL
	}
	return &FundSearch{
		baseURL: baseURL,
		client:  client,
		cache:   infra.NewCache[[]models.FundSuggestion](time.Hour),
	}
}

type suggestResponse struct {
	Datas []struct {
		Code         string `json:"CODE"`
		Name         string `json:"NAME"`
		JP           string `json:"JP"`
		CategoryDesc string `json:"CATEGORYDESC"`
	} `json:"Datas"`
}

// Search returns up to ten funds matching keyword. Six-digit codes are
// passed through untouched; names are cleaned first.
func (s *FundSearch) Search(ctx context.Context, keyword string) ([]models.FundSuggestion, error) {
	keyword = strings.TrimSpace(keyword)
	if !ValidFundCode(keyword) {
		keyword = CleanFundName(keyword)
	}
	if keyword == "" {
		return nil, ErrEmptyQuery
	}

	return s.cache.GetOrLoad(ctx, "search:"+keyword, func(ctx context.Context) ([]models.FundSuggestion, error) {
		q := url.Values{"m": {"1"}, "key": {keyword}}
		body, err := doGet(ctx, s.client, s.baseURL+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		var resp suggestResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode fund search: %w", err)
		}
		out := make([]models.FundSuggestion, 0, len(resp.Datas))
		for _, d := range resp.Datas {
			if !ValidFundCode(d.Code) {
				continue
			}
			out = append(out, models.FundSuggestion{
				Code:     d.Code,
				Name:     d.Name,
				Category: d.CategoryDesc,
				Pinyin:   d.JP,
			})
			if len(out) == maxSearchResults {
				break
			}
		}
		return out, nil
	})
}
