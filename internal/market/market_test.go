package market

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Dxboy266/The-Stoic-Leek/internal/datasource"
	"github.com/Dxboy266/The-Stoic-Leek/internal/llm"
	"github.com/Dxboy266/The-Stoic-Leek/internal/logging"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCompleter struct {
	text string
	err  error
	got  llm.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.got = req
	return f.text, f.err
}

type fakeSource struct {
	snap *datasource.Snapshot
	err  error
}

func (f fakeSource) FetchSnapshot(context.Context, int, int) (*datasource.Snapshot, error) {
	return f.snap, f.err
}

var sampleSnap = &datasource.Snapshot{
	Sectors: []models.Sector{
		{Name: "半导体", ChangePct: 3.81},
		{Name: "银行", ChangePct: 0.52},
		{Name: "煤炭行业", ChangePct: -1.2},
	},
	Headlines: []models.NewsArticle{{Title: "央行开展逆回购操作"}},
}

func newTestSummarizer(gw Completer, src SnapshotSource) *Summarizer {
	s := NewSummarizer(gw, src, "deepseek-ai/DeepSeek-V3", 10, 0, logging.Discard())
	s.now = func() time.Time { return time.Date(2026, 1, 26, 16, 0, 0, 0, time.UTC) }
	return s
}

// ════════════════════════════════════════════════════════════════════
// Summarizer
// ════════════════════════════════════════════════════════════════════

func TestDailySuccess(t *testing.T) {
	gw := &fakeCompleter{text: "今天半导体又把韭菜割了一遍。"}
	s := newTestSummarizer(gw, fakeSource{snap: sampleSnap})

	got, err := s.Daily(context.Background(), "sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != gw.text || got.Degraded {
		t.Errorf("summary = %q degraded=%v", got.Summary, got.Degraded)
	}
	if got.Date != "2026-01-27" {
		t.Errorf("Date = %q, want Shanghai calendar day", got.Date)
	}
	if len(got.HotSectors) != 3 || got.Model != "deepseek-ai/DeepSeek-V3" {
		t.Errorf("got %+v", got)
	}

	req := gw.got
	if req.Credential != "sk-test" || req.Temperature != 0.7 || req.MaxTokens != 0 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Content != SystemPrompt {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, "- 半导体: +3.81%") {
		t.Errorf("prompt missing sector line:\n%s", req.Messages[1].Content)
	}
}

func TestDailyModelOverride(t *testing.T) {
	gw := &fakeCompleter{text: "ok"}
	s := newTestSummarizer(gw, fakeSource{snap: sampleSnap})
	if _, err := s.Daily(context.Background(), "sk", "Qwen/Qwen2.5-7B-Instruct"); err != nil {
		t.Fatal(err)
	}
	if gw.got.Model != "Qwen/Qwen2.5-7B-Instruct" {
		t.Errorf("model = %q", gw.got.Model)
	}
}

func TestDailyNoCredential(t *testing.T) {
	gw := &fakeCompleter{}
	s := newTestSummarizer(gw, fakeSource{snap: sampleSnap})
	if _, err := s.Daily(context.Background(), "  ", ""); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("got %v", err)
	}
	if gw.got.Model != "" {
		t.Error("gateway must not be called without a credential")
	}
}

func TestDailyDegrades(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"upstream status", llm.ErrorForStatus(500, "boom"), FallbackUpstream},
		{"bad key", llm.ErrorForStatus(401, "invalid"), FallbackUpstream},
		{"empty", &llm.APIError{Kind: llm.ErrEmptyResponse}, FallbackUpstream},
		{"transport", &llm.APIError{Kind: llm.ErrTransport, Cause: errors.New("dial tcp: refused")},
			"AI 罢工了: llm: transport failure: dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSummarizer(&fakeCompleter{err: tt.err}, fakeSource{snap: sampleSnap})
			got, err := s.Daily(context.Background(), "sk", "")
			if err != nil {
				t.Fatalf("model failure must not fail the call: %v", err)
			}
			if !got.Degraded || got.Summary != tt.want {
				t.Errorf("summary = %q degraded=%v, want %q", got.Summary, got.Degraded, tt.want)
			}
		})
	}
}

func TestDailyWithoutSnapshot(t *testing.T) {
	gw := &fakeCompleter{text: "没数据也能骂。"}
	s := newTestSummarizer(gw, fakeSource{err: errors.New("all hosts down")})
	got, err := s.Daily(context.Background(), "sk", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.HotSectors == nil || len(got.HotSectors) != 0 {
		t.Errorf("HotSectors = %#v, want empty slice", got.HotSectors)
	}
	if !strings.Contains(gw.got.Messages[1].Content, "暂无数据") {
		t.Error("prompt should say data is missing")
	}
}

func TestFallbackTextTruncates(t *testing.T) {
	long := errors.New(strings.Repeat("错", 80))
	got := FallbackText(long)
	if n := len([]rune(strings.TrimPrefix(got, "AI 罢工了: "))); n != 50 {
		t.Errorf("kept %d runes, want 50", n)
	}
}

func TestBuildPromptLimits(t *testing.T) {
	var sectors []models.Sector
	var news []models.NewsArticle
	for i := 0; i < 8; i++ {
		sectors = append(sectors, models.Sector{Name: "S" + string(rune('A'+i)), ChangePct: float64(-i)})
		news = append(news, models.NewsArticle{Title: "N" + string(rune('A'+i))})
	}
	p := BuildPrompt(sectors, news)
	if !strings.Contains(p, "- SE: -4.00%") || strings.Contains(p, "- SF:") {
		t.Errorf("sector cap wrong:\n%s", p)
	}
	if !strings.Contains(p, "- NE\n") || strings.Contains(p, "- NF") {
		t.Errorf("headline cap wrong:\n%s", p)
	}
	if !strings.Contains(p, "- SA: +0.00%") {
		t.Errorf("zero change should be signed:\n%s", p)
	}
}

// ════════════════════════════════════════════════════════════════════
// Refresher
// ════════════════════════════════════════════════════════════════════

type countingWarmer struct {
	n   atomic.Int32
	err error
}

func (w *countingWarmer) Warm(ctx context.Context) error {
	w.n.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("refresh must carry a deadline")
	}
	return w.err
}

func TestRefresherRunNow(t *testing.T) {
	w := &countingWarmer{}
	r, err := NewRefresher("@every 1h", w, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	r.RunNow()
	if w.n.Load() != 1 {
		t.Errorf("warm calls = %d", w.n.Load())
	}

	w.err = errors.New("upstream down")
	r.RunNow() // failure is logged, not fatal
	r.Start()
	r.Stop()
}

func TestRefresherSchedules(t *testing.T) {
	w := &countingWarmer{}
	r, err := NewRefresher("@every 1s", w, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	r.Start()
	deadline := time.Now().Add(3 * time.Second)
	for w.n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	r.Stop()
	if w.n.Load() == 0 {
		t.Error("scheduled refresh never ran")
	}
}

func TestRefresherBadSpec(t *testing.T) {
	if _, err := NewRefresher("every tuesday", &countingWarmer{}, logging.Discard()); err == nil {
		t.Fatal("expected parse error")
	}
}
