package prescription

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/llm"
)

// fakeGateway records calls and replies with a canned answer.
type fakeGateway struct {
	mu    sync.Mutex
	calls []llm.CompletionRequest
	reply string
	err   error
}

func (f *fakeGateway) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func (f *fakeGateway) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var fixedNow = time.Date(2026, 1, 26, 15, 0, 0, 0, time.UTC)

func newTestService(gw Gateway, opts Options) *Service {
	opts.Now = func() time.Time { return fixedNow }
	if opts.Model == "" {
		opts.Model = "deepseek-ai/DeepSeek-V3"
	}
	return NewService(gw, opts)
}

func request(amount, principal string) Request {
	return Request{Amount: d(amount), Principal: d(principal), Credential: "sk-test"}
}

// ── Validation ──

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
		msg   string
	}{
		{"zero principal", request("50", "0"), "principal", "principal must be positive"},
		{"negative principal", request("50", "-100"), "principal", "principal must be positive"},
		{"missing credential", Request{Amount: d("50"), Principal: d("10000")}, "credential", "missing credential"},
		{"blank credential", Request{Amount: d("50"), Principal: d("10000"), Credential: "   "}, "credential", "missing credential"},
		{"principal checked first", Request{Amount: d("50"), Principal: d("0")}, "principal", "principal must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{reply: "【心情】平静"}
			_, err := newTestService(gw, Options{}).Generate(context.Background(), tc.req)

			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("got %v, want *ValidationError", err)
			}
			if ve.Field != tc.field || ve.Error() != tc.msg {
				t.Errorf("got %s/%q, want %s/%q", ve.Field, ve.Error(), tc.field, tc.msg)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("validation error should match ErrValidation")
			}
			if gw.count() != 0 {
				t.Errorf("gateway called %d times, want 0", gw.count())
			}
		})
	}
}

// ── End-to-end scenarios ──

func TestGenerateFlatTier(t *testing.T) {
	gw := &fakeGateway{reply: "【心情】麻木\n【运动】休息\n【建议】这点波动连心电图都算不上"}
	res, err := newTestService(gw, Options{}).Generate(context.Background(), request("50", "10000"))
	if err != nil {
		t.Fatal(err)
	}
	if !res.ROIPercent.Equal(d("0.50")) || res.ROIPercent.StringFixed(2) != "0.50" {
		t.Errorf("ROI: got %s, want 0.50", res.ROIPercent)
	}
	if res.Tier != Flat || res.TierLabel != "死水区" {
		t.Errorf("tier: got %v/%s, want Flat", res.Tier, res.TierLabel)
	}
	if !res.GeneratedAt.Equal(fixedNow) {
		t.Errorf("GeneratedAt: got %v", res.GeneratedAt)
	}
}

func TestGenerateLowerBoundInclusive(t *testing.T) {
	gw := &fakeGateway{reply: "【心情】恐惧\n【运动】波比跳×10，俯卧撑×20\n【建议】痛苦是最好的清醒剂"}
	res, err := newTestService(gw, Options{}).Generate(context.Background(), request("-300", "10000"))
	if err != nil {
		t.Fatal(err)
	}
	if res.ROIPercent.StringFixed(2) != "-3.00" {
		t.Errorf("ROI: got %s, want -3.00", res.ROIPercent.StringFixed(2))
	}
	if res.Tier != Wave {
		t.Errorf("tier: got %v, want Wave", res.Tier)
	}
}

func TestGenerateParsesTaggedReply(t *testing.T) {
	raw := "【心情】膨胀\n【运动】深蹲×20，波比跳×10\n【建议】别得意"
	gw := &fakeGateway{reply: raw}
	res, err := newTestService(gw, Options{}).Generate(context.Background(), request("500", "10000"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Mood != "膨胀" || res.ExerciseText != "深蹲×20，波比跳×10" || res.Advice != "别得意" {
		t.Errorf("got {%s, %s, %s}", res.Mood, res.ExerciseText, res.Advice)
	}
	if res.RawModelText != raw {
		t.Errorf("RawModelText: got %q", res.RawModelText)
	}
}

func TestGenerateProseReply(t *testing.T) {
	prose := strings.Repeat("今天的市场就像一锅温水，而你就是那只青蛙。", 8)
	gw := &fakeGateway{reply: prose}
	res, err := newTestService(gw, Options{}).Generate(context.Background(), request("120", "10000"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Mood != DefaultMood || res.ExerciseText != RestExercise {
		t.Errorf("defaults: got mood=%q exercise=%q", res.Mood, res.ExerciseText)
	}
	if res.Advice != string([]rune(prose)[:100]) {
		t.Errorf("advice should be the first 100 runes, got %q", res.Advice)
	}
}

func TestGenerateInvalidCredential(t *testing.T) {
	gw := &fakeGateway{err: llm.ErrorForStatus(401, "Invalid token")}
	_, err := newTestService(gw, Options{}).Generate(context.Background(), request("500", "10000"))
	if !errors.Is(err, llm.ErrInvalidCredential) {
		t.Fatalf("got %v, want ErrInvalidCredential", err)
	}
	if errors.Is(err, llm.ErrRateLimited) || errors.Is(err, llm.ErrTimeout) {
		t.Fatal("invalid credential must be distinguishable from rate limit and timeout")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("gateway failure must not look like a validation error")
	}
	if gw.count() != 1 {
		t.Errorf("gateway calls: got %d, want 1", gw.count())
	}
}

func TestGeneratePropagatesEveryKind(t *testing.T) {
	kinds := []error{llm.ErrRateLimited, llm.ErrTimeout, llm.ErrTransport, llm.ErrUpstream, llm.ErrEmptyResponse}
	for _, kind := range kinds {
		gw := &fakeGateway{err: &llm.APIError{Kind: kind}}
		_, err := newTestService(gw, Options{}).Generate(context.Background(), request("1", "100"))
		if !errors.Is(err, kind) {
			t.Errorf("got %v, want kind %v", err, kind)
		}
		if gw.count() != 1 {
			t.Errorf("%v: gateway calls %d, want 1 (no retry)", kind, gw.count())
		}
	}
}

// ── Request shaping ──

func TestGenerateSendsPromptAndSettings(t *testing.T) {
	gw := &fakeGateway{reply: "【心情】平静"}
	svc := newTestService(gw, Options{Temperature: 0.6, MaxTokens: 500, Timeout: 30 * time.Second})
	req := request("500", "10000")
	req.Exercises = []string{" 深蹲 ", "深蹲", "", "跳绳"}
	req.Credential = "sk-user"
	if _, err := svc.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	call := gw.calls[0]
	if call.Credential != "sk-user" || call.Model != "deepseek-ai/DeepSeek-V3" {
		t.Errorf("credential/model not passed: %+v", call)
	}
	if call.Temperature != 0.6 || call.MaxTokens != 500 || call.Timeout != 30*time.Second {
		t.Errorf("settings not passed: %+v", call)
	}
	if len(call.Messages) != 2 || call.Messages[0].Role != llm.RoleSystem || call.Messages[1].Role != llm.RoleUser {
		t.Fatalf("unexpected messages: %+v", call.Messages)
	}
	if !strings.Contains(call.Messages[1].Content, "当前可选动作池：深蹲、跳绳") {
		t.Errorf("pool not normalized:\n%s", call.Messages[1].Content)
	}
}

func TestGenerateUsesDefaultPoolAndRequestModel(t *testing.T) {
	gw := &fakeGateway{reply: "【心情】平静"}
	svc := newTestService(gw, Options{DefaultPool: []string{"拉伸", "原地跑"}})
	req := request("10", "10000")
	req.Model = "Qwen/Qwen2.5-7B-Instruct"
	res, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if gw.calls[0].Model != "Qwen/Qwen2.5-7B-Instruct" || res.Model != "Qwen/Qwen2.5-7B-Instruct" {
		t.Errorf("request model ignored: %q", gw.calls[0].Model)
	}
	if !strings.Contains(gw.calls[0].Messages[1].Content, "当前可选动作池：拉伸、原地跑") {
		t.Errorf("default pool not used:\n%s", gw.calls[0].Messages[1].Content)
	}
}

func TestGenerateFormulaStrategy(t *testing.T) {
	gw := &fakeGateway{reply: "【心情】贪婪\n【运动】随便动动\n【建议】收手吧"}
	p, _ := NewPolicy([]float64{1, 3, 7}, FormulaStrategy{BaseReps: 10})
	svc := newTestService(gw, Options{Policy: p})
	req := request("800", "10000") // 8% -> Tsunami
	req.Exercises = []string{"波比跳", "深蹲", "平板支撑", "跳绳"}
	res, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExerciseText != "波比跳×30，深蹲×30，平板支撑×30" {
		t.Errorf("formula exercise: got %q", res.ExerciseText)
	}
	if res.Mood != "贪婪" || res.Advice != "收手吧" {
		t.Errorf("other fields still come from the model: %+v", res)
	}
}

func TestGenerateCustomTierGuidance(t *testing.T) {
	gw := &fakeGateway{reply: "【心情】贪婪\n【运动】随便动动\n【建议】收手吧"}
	p, _ := NewPolicy([]float64{1, 3, 7}, FormulaStrategy{BaseReps: 10})
	p.Tiers[Wave] = TierSpec{Label: "风暴区", Diagnosis: "开始上头。", Intensity: "1组", Tone: "冷静。", Sets: 1}
	svc := newTestService(gw, Options{Policy: p})

	req := request("500", "10000") // 5% -> Wave
	req.Exercises = []string{"深蹲", "俯卧撑"}
	res, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.TierLabel != "风暴区" {
		t.Errorf("TierLabel: got %q, want 风暴区", res.TierLabel)
	}
	if res.ExerciseText != "深蹲×10" {
		t.Errorf("formula should use the policy's sets: got %q", res.ExerciseText)
	}
	sent := gw.calls[0].Messages
	if !strings.Contains(sent[0].Content, "【风暴区】(3% ≤ |ROI| < 7%)") {
		t.Errorf("instructions missing custom tier:\n%s", sent[0].Content)
	}
	if !strings.Contains(sent[0].Content, "【海啸区】") {
		t.Error("unset tiers should keep the default guidance")
	}
	if !strings.Contains(sent[1].Content, "波动等级：风暴区") {
		t.Errorf("context missing custom label:\n%s", sent[1].Content)
	}
}

// ── Rounding ──

func TestRoundROIHalfAwayFromZero(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0.125", "0.13"},
		{"-0.125", "-0.13"},
		{"2.675", "2.68"},
		{"0.124999", "0.12"},
		{"3", "3.00"},
	}
	for _, tc := range tests {
		if got := RoundROI(d(tc.in)).StringFixed(2); got != tc.want {
			t.Errorf("RoundROI(%s): got %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestTierUsesUnroundedROI(t *testing.T) {
	// 0.9999% rounds to 1.00 for display but stays Flat.
	gw := &fakeGateway{reply: "【心情】平静"}
	res, err := newTestService(gw, Options{}).Generate(context.Background(), request("9.999", "1000"))
	if err != nil {
		t.Fatal(err)
	}
	if res.ROIPercent.StringFixed(2) != "1.00" || res.Tier != Flat {
		t.Errorf("got roi=%s tier=%v, want 1.00/Flat", res.ROIPercent.StringFixed(2), res.Tier)
	}
}

// ── Observer ──

func TestGenerateEmitsEvents(t *testing.T) {
	var mu sync.Mutex
	var states []State
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		states = append(states, e.State)
		mu.Unlock()
	})

	ok := newTestService(&fakeGateway{reply: "【心情】平静"}, Options{Observer: obs})
	ok.Generate(context.Background(), request("1", "100"))

	failing := newTestService(&fakeGateway{err: &llm.APIError{Kind: llm.ErrRateLimited}}, Options{Observer: obs})
	failing.Generate(context.Background(), request("1", "100"))

	// Validation failures never leave idle.
	failing.Generate(context.Background(), request("1", "0"))

	want := []State{StateGenerating, StateDone, StateGenerating, StateFailed}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != len(want) {
		t.Fatalf("states: got %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states: got %v, want %v", states, want)
		}
	}
}

func TestGenerateEventsCarryUser(t *testing.T) {
	var events []Event
	obs := ObserverFunc(func(e Event) { events = append(events, e) })
	svc := newTestService(&fakeGateway{reply: "【心情】平静"}, Options{Observer: obs})

	req := request("1", "100")
	req.ID = "req-1"
	req.UserID = "alice"
	if _, err := svc.Generate(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}
	for _, e := range events {
		if e.UserID != "alice" || e.RequestID != "req-1" {
			t.Errorf("event not tagged: %+v", e)
		}
	}
}

func TestGenerateConcurrent(t *testing.T) {
	gw := &fakeGateway{reply: "【心情】平静\n【运动】拉伸\n【建议】慢慢来"}
	svc := newTestService(gw, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Generate(context.Background(), request("100", "10000")); err != nil {
				t.Errorf("goroutine %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if gw.count() != 20 {
		t.Errorf("calls: got %d, want 20", gw.count())
	}
}

// ── Config wiring ──

func TestNewServiceFromConfig(t *testing.T) {
	promptPath := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(promptPath, []byte("  自定义指令  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Prescription.Strategy = "formula"
	cfg.Prescription.PromptFile = promptPath

	gw := &fakeGateway{reply: "【心情】平静"}
	svc, err := NewServiceFromConfig(gw, cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.Policy().Strategy.(FormulaStrategy); !ok {
		t.Errorf("strategy: got %T", svc.Policy().Strategy)
	}
	if len(svc.DefaultPool()) != 12 {
		t.Errorf("default pool: got %d entries", len(svc.DefaultPool()))
	}
	if _, err := svc.Generate(context.Background(), request("1", "100")); err != nil {
		t.Fatal(err)
	}
	if gw.calls[0].Messages[0].Content != "自定义指令" {
		t.Errorf("prompt file not used: %q", gw.calls[0].Messages[0].Content)
	}
	if gw.calls[0].MaxTokens != 500 || gw.calls[0].Temperature != 0.6 {
		t.Errorf("llm settings not wired: %+v", gw.calls[0])
	}

	cfg.Prescription.PromptFile = filepath.Join(t.TempDir(), "missing.txt")
	if _, err := NewServiceFromConfig(gw, cfg, nil, nil); err == nil {
		t.Error("missing prompt file should fail")
	}
}

func TestNormalizePool(t *testing.T) {
	got := NormalizePool([]string{"深蹲", " 深蹲", "", "  ", "跳绳", "深蹲"})
	if strings.Join(got, ",") != "深蹲,跳绳" {
		t.Errorf("got %v", got)
	}
	if NormalizePool(nil) != nil {
		t.Error("nil pool should stay nil")
	}
}
