// Package market writes the daily market commentary and keeps the
// sector and news caches warm on a schedule.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dxboy266/The-Stoic-Leek/internal/datasource"
	"github.com/Dxboy266/The-Stoic-Leek/internal/llm"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/utils"
)

// SystemPrompt is the persona used for market commentary.
const SystemPrompt = "你是一位阅尽沧桑的韭菜哲学家，擅长用毒舌但不失幽默的方式点评市场。"

// Fallback texts used when the model is unavailable.
const (
	FallbackUpstream = "AI 抽风了，自己看数据吧。"
	fallbackPrefix   = "AI 罢工了: "
)

const (
	summaryTemperature = 0.7
	promptSectors      = 5
	promptHeadlines    = 5
)

// ErrNoCredential is returned when a summary is requested without an API key.
var ErrNoCredential = errors.New("api key required for market summary")

// Completer sends one chat completion.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// SnapshotSource supplies sectors and headlines.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, topSectors, headlines int) (*datasource.Snapshot, error)
}

// Summarizer produces the daily market commentary.
type Summarizer struct {
	gw      Completer
	src     SnapshotSource
	model   string
	topN    int
	timeout time.Duration
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewSummarizer creates a summarizer. topN is how many sectors are
// returned alongside the commentary.
func NewSummarizer(gw Completer, src SnapshotSource, model string, topN int, timeout time.Duration, log logrus.FieldLogger) *Summarizer {
	if topN <= 0 {
		topN = 10
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Summarizer{
		gw:      gw,
		src:     src,
		model:   model,
		topN:    topN,
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}
}

// Daily fetches the market snapshot and asks the model for commentary.
// Model failures never fail the call: the summary text degrades to a
// fixed sentence and Degraded is set.
func (s *Summarizer) Daily(ctx context.Context, credential, model string) (*models.DailySummary, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrNoCredential
	}
	if model == "" {
		model = s.model
	}

	now := s.now()
	out := &models.DailySummary{
		Date:        utils.FormatDateCST(now),
		HotSectors:  []models.Sector{},
		Model:       model,
		GeneratedAt: now,
	}

	snap, err := s.src.FetchSnapshot(ctx, s.topN, promptHeadlines)
	if err != nil {
		s.log.WithError(err).Warn("market snapshot unavailable, summarizing without data")
	} else {
		if snap.Sectors != nil {
			out.HotSectors = snap.Sectors
		}
		out.Headlines = snap.Headlines
	}

	text, err := s.gw.Complete(ctx, llm.CompletionRequest{
		Credential: credential,
		Model:      model,
		Messages: []llm.Message{
			llm.SystemMessage(SystemPrompt),
			llm.UserMessage(BuildPrompt(out.HotSectors, out.Headlines)),
		},
		Temperature: summaryTemperature,
		Timeout:     s.timeout,
	})
	if err != nil {
		s.log.WithError(err).WithField("model", model).Error("market summary generation failed")
		out.Summary = FallbackText(err)
		out.Degraded = true
		return out, nil
	}

	out.Summary = text
	return out, nil
}

// FallbackText picks the degraded summary for a failed model call.
// Upstream status errors get the fixed sentence; anything else names
// the first fifty characters of the failure.
func FallbackText(err error) string {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return FallbackUpstream
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return FallbackUpstream
	}
	msg := []rune(err.Error())
	if len(msg) > 50 {
		msg = msg[:50]
	}
	return fallbackPrefix + string(msg)
}

// BuildPrompt renders the market data block and the commentary task.
func BuildPrompt(sectors []models.Sector, headlines []models.NewsArticle) string {
	var b strings.Builder
	b.WriteString("# 今日 A 股市场数据\n\n")

	b.WriteString("## 热门板块 Top 5\n")
	if len(sectors) == 0 {
		b.WriteString("- 暂无数据\n")
	}
	for i, s := range sectors {
		if i == promptSectors {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, utils.FormatPct(s.ChangePct))
	}

	if len(headlines) > 0 {
		b.WriteString("\n## 今日要闻\n")
		for i, h := range headlines {
			if i == promptHeadlines {
				break
			}
			fmt.Fprintf(&b, "- %s\n", h.Title)
		}
	}

	b.WriteString(`
# 任务
请用毒舌韭菜哲学家的口吻，写一段 150 字以内的今日市场点评。要求：
1. 指出今日资金追捧的方向
2. 嘲讽散户可能犯的错误
3. 给出一个反讽式的"投资建议"（实际上是劝退）
`)
	return b.String()
}
