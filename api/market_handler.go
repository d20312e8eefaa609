package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Dxboy266/The-Stoic-Leek/internal/store"
	"github.com/Dxboy266/The-Stoic-Leek/pkg/models"
)

// FundBatchResponse lists quotes in request order. Codes that could not be
// quoted are reported in Missing.
type FundBatchResponse struct {
	Quotes  []models.FundQuote `json:"quotes"`
	Missing []string           `json:"missing,omitempty"`
}

func (s *Server) handleFundQuote(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	quote, err := s.market.Funds().Quote(ctx, code)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: quote})
}

func (s *Server) handleFundBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("codes")
	var codes []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 {
		writeError(w, http.StatusBadRequest, "codes is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	quotes, err := s.market.Funds().Batch(ctx, codes)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	got := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		got[q.Code] = true
	}
	resp := FundBatchResponse{Quotes: quotes}
	if resp.Quotes == nil {
		resp.Quotes = []models.FundQuote{}
	}
	for _, c := range codes {
		if !got[c] {
			resp.Missing = append(resp.Missing, c)
			got[c] = true
		}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleFundSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	hits, err := s.market.Search().Search(ctx, r.URL.Query().Get("q"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if hits == nil {
		hits = []models.FundSuggestion{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: hits})
}

func (s *Server) handleHotSectors(w http.ResponseWriter, r *http.Request) {
	top, ok := intParam(w, r, "top", s.config().Market.SectorTopN)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	sectors, err := s.market.Sectors().Hot(ctx, top)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: sectors})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", 20)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	news, err := s.market.News().Latest(ctx, limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: news})
}

// handleDailySummary builds the roast with the caller's key, falling back
// to their saved key and then the configured one. A model failure still
// returns 200 with a degraded summary.
func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	credential := r.URL.Query().Get("api_key")
	model := r.URL.Query().Get("model")

	if credential == "" || model == "" {
		settings, err := store.LoadSettings(r.Context(), s.store, userID(r))
		if err != nil {
			s.log.WithError(err).Warn("load settings failed")
		}
		if credential == "" {
			credential = settings.APIKey
		}
		if model == "" {
			model = settings.Model
		}
	}
	if credential == "" {
		credential = cfg.LLM.APIKey
	}

	summary, err := s.summary.Daily(r.Context(), credential, cfg.LLM.ResolveModel(model))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: summary})
}

// intParam reads an optional positive integer query parameter.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return n, true
}
