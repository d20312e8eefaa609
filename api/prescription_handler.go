package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Dxboy266/The-Stoic-Leek/internal/llm"
	"github.com/Dxboy266/The-Stoic-Leek/internal/prescription"
	"github.com/Dxboy266/The-Stoic-Leek/internal/store"
)

// GenerateRequest is the body of POST /prescription/generate. Amount and
// TotalAssets accept JSON numbers or numeric strings.
type GenerateRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	TotalAssets decimal.Decimal `json:"total_assets"`
	APIKey      string          `json:"api_key,omitempty"`
	Model       string          `json:"model,omitempty"`
	Exercises   []string        `json:"exercises,omitempty"`
}

// PrescriptionResponse is a prescription flattened for JSON clients.
type PrescriptionResponse struct {
	ID          string    `json:"id"`
	Amount      float64   `json:"amount"`
	TotalAssets float64   `json:"total_assets"`
	ROI         float64   `json:"roi"`
	Tier        string    `json:"tier"`
	TierLabel   string    `json:"tier_label"`
	Mood        string    `json:"mood"`
	Exercise    string    `json:"exercise"`
	Advice      string    `json:"advice"`
	Full        string    `json:"full"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

func toPrescriptionResponse(res *prescription.Result) PrescriptionResponse {
	return PrescriptionResponse{
		ID:          res.ID,
		Amount:      res.Amount.InexactFloat64(),
		TotalAssets: res.Principal.InexactFloat64(),
		ROI:         res.ROIPercent.InexactFloat64(),
		Tier:        res.Tier.String(),
		TierLabel:   res.TierLabel,
		Mood:        res.Mood,
		Exercise:    res.ExerciseText,
		Advice:      res.Advice,
		Full:        res.RawModelText,
		Model:       res.Model,
		GeneratedAt: res.GeneratedAt,
	}
}

// HistoryEntry is one row of GET /prescription/history.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Amount    float64   `json:"amount"`
	Principal float64   `json:"total_assets"`
	ROI       float64   `json:"roi"`
	Tier      string    `json:"tier"`
	TierLabel string    `json:"tier_label"`
	Mood      string    `json:"mood"`
	Exercise  string    `json:"exercise"`
	Advice    string    `json:"advice"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// handleGenerate fills gaps in the request from the caller's saved
// settings, generates a prescription and records it in their history.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGenerate(w, r)
	if !ok {
		return
	}
	user := userID(r)

	settings, err := store.LoadSettings(r.Context(), s.store, user)
	if err != nil {
		s.log.WithError(err).WithField("user_id", user).Warn("load settings failed; using request only")
	}
	if req.APIKey == "" {
		req.APIKey = settings.APIKey
	}
	if req.Model == "" {
		req.Model = settings.Model
	}
	if len(req.Exercises) == 0 {
		req.Exercises = settings.Exercises
	}
	if req.TotalAssets.IsZero() && settings.TotalAssets > 0 {
		req.TotalAssets = decimal.NewFromFloat(settings.TotalAssets)
	}

	res, err := s.generate(r.Context(), userID(r), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	if err := s.store.RecordPrescription(r.Context(), store.RecordFromResult(user, res)); err != nil {
		s.log.WithError(err).WithField("user_id", user).Warn("record prescription failed")
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: toPrescriptionResponse(res)})
}

// handleGenerateAnonymous uses only the request body and the server's
// configured key. Nothing is read from or written to the store.
func (s *Server) handleGenerateAnonymous(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeGenerate(w, r)
	if !ok {
		return
	}
	res, err := s.generate(r.Context(), userID(r), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: toPrescriptionResponse(res)})
}

func decodeGenerate(w http.ResponseWriter, r *http.Request) (GenerateRequest, bool) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "invalid_request",
		})
		return req, false
	}
	return req, true
}

func (s *Server) generate(ctx context.Context, user string, req GenerateRequest) (*prescription.Result, error) {
	cfg := s.config()
	credential := strings.TrimSpace(req.APIKey)
	if credential == "" {
		credential = cfg.LLM.APIKey
	}
	return s.svc.Generate(ctx, prescription.Request{
		ID:         uuid.NewString(),
		UserID:     user,
		Amount:     req.Amount,
		Principal:  req.TotalAssets,
		Exercises:  req.Exercises,
		Model:      cfg.LLM.ResolveModel(req.Model),
		Credential: credential,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 100)
	}

	recs, err := s.store.ListPrescriptions(r.Context(), userID(r), limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, HistoryEntry{
			ID:        rec.ID,
			Amount:    rec.Amount.InexactFloat64(),
			Principal: rec.Principal.InexactFloat64(),
			ROI:       rec.ROIPercent.InexactFloat64(),
			Tier:      rec.Tier,
			TierLabel: rec.TierLabel,
			Mood:      rec.Mood,
			Exercise:  rec.Exercise,
			Advice:    rec.Advice,
			Model:     rec.Model,
			CreatedAt: rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: out})
}

// ============================================================
// Connection test
// ============================================================

// AITestRequest is the body of POST /ai/test.
type AITestRequest struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

// AITestResult reports the outcome of a connection test.
type AITestResult struct {
	Message string `json:"message"`
}

// handleAITest sends a tiny completion to the given provider. Outcomes are
// reported with 200 and success=false; only missing fields get a 400.
func (s *Server) handleAITest(w http.ResponseWriter, r *http.Request) {
	var req AITestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch {
	case strings.TrimSpace(req.APIKey) == "":
		writeError(w, http.StatusBadRequest, "请提供 API Key")
		return
	case strings.TrimSpace(req.BaseURL) == "":
		writeError(w, http.StatusBadRequest, "请提供 API Base URL")
		return
	case strings.TrimSpace(req.Model) == "":
		writeError(w, http.StatusBadRequest, "请提供模型名称")
		return
	}

	client := llm.NewClient(
		llm.WithBaseURL(strings.TrimSpace(req.BaseURL)),
		llm.WithTimeout(s.aiTestTimeout),
		llm.WithLogger(s.log),
	)
	err := client.Ping(r.Context(), strings.TrimSpace(req.APIKey), req.Model)
	if err == nil {
		writeJSON(w, http.StatusOK, APIResponse{
			Success: true,
			Data:    AITestResult{Message: "连接成功！AI 响应正常。"},
		})
		return
	}

	msg := pingFailureMessage(err, req.Model)
	writeJSON(w, http.StatusOK, APIResponse{
		Success: false,
		Data:    AITestResult{Message: msg},
		Error:   msg,
		Code:    llm.Code(err),
	})
}

// pingFailureMessage turns a gateway error into a user-facing hint.
func pingFailureMessage(err error, model string) string {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		return "AI 返回了空响应"
	case errors.Is(err, llm.ErrInvalidCredential):
		return "API Key 无效或已过期"
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return fmt.Sprintf("模型 '%s' 不存在或不可用", model)
	case errors.Is(err, llm.ErrTimeout):
		return "连接超时，请检查网络"
	case errors.Is(err, llm.ErrTransport):
		return "无法连接到 API 服务器，请检查 URL"
	}
	msg := err.Error()
	if r := []rune(msg); len(r) > 100 {
		msg = string(r[:100])
	}
	return "连接失败: " + msg
}
