package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/store"
)

// maxSnapshotBytes bounds POST /persistence/save bodies.
const maxSnapshotBytes = 1 << 20

// SettingsResponse is the GET /settings view. The stored key is never
// echoed back in full.
type SettingsResponse struct {
	HasAPIKey    bool     `json:"has_api_key"`
	APIKeyMasked string   `json:"api_key_masked,omitempty"`
	Exercises    []string `json:"exercises"`
	Model        string   `json:"model"`
	ModelName    string   `json:"model_name"`
	TotalAssets  float64  `json:"total_assets"`
}

// SettingsUpdate is the PUT /settings body. Nil fields are left unchanged.
type SettingsUpdate struct {
	APIKey      *string   `json:"api_key"`
	Exercises   *[]string `json:"exercises"`
	Model       *string   `json:"model"`
	ModelName   *string   `json:"model_name"`
	TotalAssets *float64  `json:"total_assets"`
}

func (s *Server) settingsView(st store.Settings) SettingsResponse {
	cfg := s.config()
	resp := SettingsResponse{
		HasAPIKey:   st.APIKey != "",
		Exercises:   st.Exercises,
		Model:       st.Model,
		ModelName:   st.ModelName,
		TotalAssets: st.TotalAssets,
	}
	if resp.HasAPIKey {
		resp.APIKeyMasked = config.MaskKey(st.APIKey)
	}
	if resp.Exercises == nil {
		resp.Exercises = s.svc.DefaultPool()
	}
	if resp.Model == "" {
		resp.Model = cfg.LLM.Model
	}
	if resp.ModelName == "" {
		for _, m := range cfg.LLM.Models {
			if m.ID == resp.Model {
				resp.ModelName = m.Name
				break
			}
		}
	}
	return resp
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := store.LoadSettings(r.Context(), s.store, userID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.settingsView(st)})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var upd SettingsUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if upd.TotalAssets != nil && *upd.TotalAssets < 0 {
		writeError(w, http.StatusBadRequest, "total_assets must not be negative")
		return
	}

	user := userID(r)
	st, err := store.LoadSettings(r.Context(), s.store, user)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if upd.APIKey != nil {
		st.APIKey = *upd.APIKey
	}
	if upd.Exercises != nil {
		st.Exercises = *upd.Exercises
	}
	if upd.Model != nil {
		st.Model = *upd.Model
	}
	if upd.ModelName != nil {
		st.ModelName = *upd.ModelName
	}
	if upd.TotalAssets != nil {
		st.TotalAssets = *upd.TotalAssets
	}

	if err := store.SaveSettings(r.Context(), s.store, user, st); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.settingsView(st)})
}

// handleLoadSnapshot returns the client's save blob. Data is omitted when
// nothing was saved.
func (s *Server) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	blob, err := store.LoadSnapshot(r.Context(), s.store, userID(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	var data interface{}
	if blob != nil {
		data = blob
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxSnapshotBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "save data too large")
		return
	}
	if err := store.SaveSnapshot(r.Context(), s.store, userID(r), json.RawMessage(body)); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true})
}
