package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/infra"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
)

// FundQuoter fetches the latest NAV or intraday estimate for one fund.
type FundQuoter interface {
	Name() string
	Quote(ctx context.Context, code string) (*models.FundQuote, error)
}

// batchConcurrency bounds the number of in-flight upstream requests per batch.
const batchConcurrency = 4

// --- Tencent ---

// DefaultTencentURL is the Tencent quote endpoint. It answers in GBK.
const DefaultTencentURL = "http://qt.gtimg.cn"

var tencentRe = regexp.MustCompile(`v_jj\d+="([^"]+)"`)

// Tencent reads fund NAVs from the Tencent quote service.
type Tencent struct {
	baseURL string
	client  *http.Client
}

// NewTencent creates a Tencent quoter. Empty baseURL uses the public host.
func NewTencent(baseURL string, client *http.Client) *Tencent {
	if baseURL == "" {
		baseURL = DefaultTencentURL
	}
	return &Tencent{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name returns the provider name.
func (t *Tencent) Name() string { return "tencent" }

// Quote fetches one fund.
func (t *Tencent) Quote(ctx context.Context, code string) (*models.FundQuote, error) {
	body, err := doGet(ctx, t.client, t.baseURL+"/q=jj"+code, nil)
	if err != nil {
		return nil, err
	}
	text, err := simplifiedchinese.GBK.NewDecoder().Bytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode GBK: %w", err)
	}
	return parseTencent(string(text))
}

// parseTencent reads the tilde-separated payload:
// code~name~~~~nav~previous nav~change%~date~
func parseTencent(text string) (*models.FundQuote, error) {
	m := tencentRe.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrNoData
	}
	parts := strings.Split(m[1], "~")
	if len(parts) < 8 || parts[1] == "" {
		return nil, ErrNoData
	}

	nav := parseFloat(parts[5])
	prev := nav
	if parts[6] != "" {
		prev = parseFloat(parts[6])
	}
	chg := parseFloat(parts[7])
	date := ""
	if len(parts) > 8 {
		date = parts[8]
	}

	// Some funds report the same value twice; back the previous NAV out of the change.
	if prev == nav && chg != 0 {
		prev = decimal.NewFromFloat(nav).
			Div(decimal.NewFromFloat(1 + chg/100)).
			Round(4).
			InexactFloat64()
	}

	return &models.FundQuote{
		Code:         parts[0],
		Name:         parts[1],
		EstimatedNAV: nav,
		ChangePct:    chg,
		PreviousNAV:  prev,
		EstimateTime: date,
		NAVDate:      date,
		Source:       "tencent",
	}, nil
}

// --- Tiantian fund estimate (JSONP) ---

// DefaultFundGZURL is the Tiantian intraday estimate endpoint.
const DefaultFundGZURL = "http://fundgz.1234567.com.cn"

var jsonpRe = regexp.MustCompile(`jsonpgz\((.+?)\);?\s*$`)

// FundGZ reads intraday estimates from the Tiantian JSONP service.
type FundGZ struct {
	baseURL string
	client  *http.Client
}

// NewFundGZ creates a Tiantian quoter. Empty baseURL uses the public host.
func NewFundGZ(baseURL string, client *http.Client) *FundGZ {
	if baseURL == "" {
		baseURL = DefaultFundGZURL
	}
	return &FundGZ{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Name returns the provider name.
func (f *FundGZ) Name() string { return "fundgz" }

// Quote fetches one fund.
func (f *FundGZ) Quote(ctx context.Context, code string) (*models.FundQuote, error) {
	body, err := doGet(ctx, f.client, f.baseURL+"/js/"+code+".js", nil)
	if err != nil {
		return nil, err
	}
	return parseFundGZ(string(body), code)
}

type fundGZPayload struct {
	FundCode string `json:"fundcode"`
	Name     string `json:"name"`
	JZRQ     string `json:"jzrq"`
	DWJZ     string `json:"dwjz"`
	GSZ      string `json:"gsz"`
	GSZZL    string `json:"gszzl"`
	GZTime   string `json:"gztime"`
}

func parseFundGZ(text, code string) (*models.FundQuote, error) {
	m := jsonpRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return nil, ErrNoData
	}
	var p fundGZPayload
	if err := json.Unmarshal([]byte(m[1]), &p); err != nil {
		return nil, fmt.Errorf("decode fundgz: %w", err)
	}
	if p.FundCode == "" {
		p.FundCode = code
	}
	if p.Name == "" {
		p.Name = "未知基金"
	}
	return &models.FundQuote{
		Code:         p.FundCode,
		Name:         p.Name,
		EstimatedNAV: parseFloat(p.GSZ),
		ChangePct:    parseFloat(p.GSZZL),
		PreviousNAV:  parseFloat(p.DWJZ),
		EstimateTime: p.GZTime,
		NAVDate:      p.JZRQ,
		Source:       "fundgz",
	}, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// --- Funds ---

// Funds tries each quoter in order and caches the first answer.
type Funds struct {
	providers  []FundQuoter
	cache      *infra.Cache[models.FundQuote]
	batchLimit int
	log        logrus.FieldLogger
}

// NewFunds creates the fund quote service. With no providers it uses
// Tencent first and Tiantian as the fallback.
func NewFunds(cfg config.FundConfig, log logrus.FieldLogger, providers ...FundQuoter) *Funds {
	if len(providers) == 0 {
		providers = []FundQuoter{NewTencent("", nil), NewFundGZ("", nil)}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Funds{
		providers:  providers,
		cache:      infra.NewCache[models.FundQuote](cfg.TTL()),
		batchLimit: cfg.BatchLimit,
		log:        log,
	}
}

// Quote returns the quote for one fund code.
func (f *Funds) Quote(ctx context.Context, code string) (*models.FundQuote, error) {
	code = strings.TrimSpace(code)
	if !ValidFundCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	q, err := f.cache.GetOrLoad(ctx, "fund:"+code, func(ctx context.Context) (models.FundQuote, error) {
		return f.fetch(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (f *Funds) fetch(ctx context.Context, code string) (models.FundQuote, error) {
	var errs []error
	for _, p := range f.providers {
		q, err := p.Quote(ctx, code)
		if err == nil {
			return *q, nil
		}
		if ctx.Err() != nil {
			return models.FundQuote{}, ctx.Err()
		}
		f.log.WithError(err).WithFields(logrus.Fields{
			"provider": p.Name(),
			"code":     code,
		}).Debug("fund provider failed, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return models.FundQuote{}, fmt.Errorf("%w: %s: %w", ErrFundNotFound, code, errors.Join(errs...))
}

// Batch quotes many funds concurrently. Codes that fail are skipped and
// the result keeps the order of the first occurrence of each code.
func (f *Funds) Batch(ctx context.Context, codes []string) ([]models.FundQuote, error) {
	codes = uniqueCodes(codes)
	if f.batchLimit > 0 && len(codes) > f.batchLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(codes), f.batchLimit)
	}

	results := make([]*models.FundQuote, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, code := range codes {
		g.Go(func() error {
			q, err := f.Quote(gctx, code)
			if err != nil {
				f.log.WithError(err).WithField("code", code).Warn("batch quote skipped")
				return nil
			}
			results[i] = q
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]models.FundQuote, 0, len(codes))
	for _, q := range results {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out, nil
}

func uniqueCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
