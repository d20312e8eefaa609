// Configuration management endpoints.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
)

// ConfigResponse is the JSON envelope returned by GET /api/v1/config.
type ConfigResponse struct {
	Config     *config.Config `json:"config"`
	ConfigFile string         `json:"config_file"`
}

// handleGetConfig returns the running configuration. The LLM key is
// excluded by its json:"-" tag.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:     s.config(),
			ConfigFile: s.cfgPath,
		},
	})
}

// handleUpdateConfig merges a partial configuration into a copy of the
// running one, validates it, persists it and swaps it in. Fields that are
// wired into already-built components (thresholds, store, feeds) take
// effect on the next start.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	next := *s.cfg
	mergeConfig(&next, &incoming)
	if err := next.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := config.SaveToFile(&next, s.cfgPath); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save config: "+err.Error())
		return
	}
	s.cfg = &next
	s.log.WithField("path", s.cfgPath).Info("config updated")

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: ConfigResponse{
			Config:     s.cfg,
			ConfigFile: s.cfgPath,
		},
	})
}

// handleGetConfigKeys returns the status of the configured credentials.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckAPIKeys(s.config()),
	})
}

// mergeConfig copies non-zero/non-empty values from src into dst.
// Slices are replaced wholesale, never appended.
func mergeConfig(dst, src *config.Config) {
	// LLM
	if src.LLM.BaseURL != "" {
		dst.LLM.BaseURL = src.LLM.BaseURL
	}
	if src.LLM.Model != "" {
		dst.LLM.Model = src.LLM.Model
	}
	if len(src.LLM.Models) > 0 {
		dst.LLM.Models = src.LLM.Models
	}
	if src.LLM.Temperature != 0 {
		dst.LLM.Temperature = src.LLM.Temperature
	}
	if src.LLM.MaxTokens != 0 {
		dst.LLM.MaxTokens = src.LLM.MaxTokens
	}
	if src.LLM.TimeoutSec != 0 {
		dst.LLM.TimeoutSec = src.LLM.TimeoutSec
	}

	// Prescription
	if len(src.Prescription.Exercises) > 0 {
		dst.Prescription.Exercises = src.Prescription.Exercises
	}
	if len(src.Prescription.MoodKeywords) > 0 {
		dst.Prescription.MoodKeywords = src.Prescription.MoodKeywords
	}
	if len(src.Prescription.Thresholds) > 0 {
		dst.Prescription.Thresholds = src.Prescription.Thresholds
	}
	if src.Prescription.Strategy != "" {
		dst.Prescription.Strategy = src.Prescription.Strategy
	}
	if src.Prescription.BaseReps != 0 {
		dst.Prescription.BaseReps = src.Prescription.BaseReps
	}
	if src.Prescription.PromptFile != "" {
		dst.Prescription.PromptFile = src.Prescription.PromptFile
	}

	// Fund
	if src.Fund.CacheTTL != 0 {
		dst.Fund.CacheTTL = src.Fund.CacheTTL
	}
	if src.Fund.BatchLimit != 0 {
		dst.Fund.BatchLimit = src.Fund.BatchLimit
	}

	// Market
	if src.Market.CacheTTL != 0 {
		dst.Market.CacheTTL = src.Market.CacheTTL
	}
	if src.Market.RefreshCron != "" {
		dst.Market.RefreshCron = src.Market.RefreshCron
	}
	if src.Market.SectorTopN != 0 {
		dst.Market.SectorTopN = src.Market.SectorTopN
	}
	if len(src.Market.NewsFeeds) > 0 {
		dst.Market.NewsFeeds = src.Market.NewsFeeds
	}

	// Store
	if src.Store.Driver != "" {
		dst.Store.Driver = src.Store.Driver
	}
	if src.Store.SQLitePath != "" {
		dst.Store.SQLitePath = src.Store.SQLitePath
	}

	// API
	if src.API.Host != "" {
		dst.API.Host = src.API.Host
	}
	if src.API.Port != 0 {
		dst.API.Port = src.API.Port
	}
	if len(src.API.CORSOrigins) > 0 {
		dst.API.CORSOrigins = src.API.CORSOrigins
	}

	// Logging
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
}
