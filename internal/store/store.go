// Package store persists per-user settings, the client save blob and
// prescription history. SQLite is the default backend; Memory backs tests
// and the "memory" driver.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/prescription"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidSnapshot is returned when a save blob is not valid JSON.
var ErrInvalidSnapshot = errors.New("store: snapshot is not valid JSON")

// DefaultHistoryLimit is used when ListPrescriptions gets limit <= 0.
const DefaultHistoryLimit = 20

// Settings keys.
const (
	KeyAPIKey      = "api_key"
	KeyExercises   = "exercises"
	KeyModel       = "model"
	KeyModelName   = "model_name"
	KeyTotalAssets = "total_assets"
	KeySnapshot    = "snapshot"
)

// Store is a per-user key/value store plus an append-only history.
type Store interface {
	Get(ctx context.Context, userID, key string) (string, error)
	Set(ctx context.Context, userID, key, value string) error
	RecordPrescription(ctx context.Context, rec Record) error
	ListPrescriptions(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}

// Record is one generated prescription in a user's history.
type Record struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Amount     decimal.Decimal `json:"amount"`
	Principal  decimal.Decimal `json:"principal"`
	ROIPercent decimal.Decimal `json:"roi"`
	Tier       string          `json:"tier"`
	TierLabel  string          `json:"tier_label"`
	Mood       string          `json:"mood"`
	Exercise   string          `json:"exercise"`
	Advice     string          `json:"advice"`
	Model      string          `json:"model"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RecordFromResult converts a prescription into a history row.
func RecordFromResult(userID string, r *prescription.Result) Record {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Record{
		ID:         id,
		UserID:     userID,
		Amount:     r.Amount,
		Principal:  r.Principal,
		ROIPercent: r.ROIPercent,
		Tier:       r.Tier.String(),
		TierLabel:  r.TierLabel,
		Mood:       r.Mood,
		Exercise:   r.ExerciseText,
		Advice:     r.Advice,
		Model:      r.Model,
		CreatedAt:  r.GeneratedAt,
	}
}

// Open builds the backend named by cfg.Driver.
func Open(cfg config.StoreConfig, log logrus.FieldLogger) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		return NewSQLite(cfg.SQLitePath, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// --- Typed settings view ---

// Settings is the user-level configuration kept between sessions.
type Settings struct {
	APIKey      string   `json:"api_key"`
	Exercises   []string `json:"exercises"`
	Model       string   `json:"model"`
	ModelName   string   `json:"model_name"`
	TotalAssets float64  `json:"total_assets"`
}

// LoadSettings reads every settings key. Missing keys stay zero.
func LoadSettings(ctx context.Context, s Store, userID string) (Settings, error) {
	var out Settings
	get := func(key string) (string, bool, error) {
		v, err := s.Get(ctx, userID, key)
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("load %s: %w", key, err)
		}
		return v, true, nil
	}

	var err error
	if out.APIKey, _, err = get(KeyAPIKey); err != nil {
		return out, err
	}
	if out.Model, _, err = get(KeyModel); err != nil {
		return out, err
	}
	if out.ModelName, _, err = get(KeyModelName); err != nil {
		return out, err
	}
	raw, ok, err := get(KeyExercises)
	if err != nil {
		return out, err
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &out.Exercises); err != nil {
			return out, fmt.Errorf("decode exercises: %w", err)
		}
	}
	raw, ok, err = get(KeyTotalAssets)
	if err != nil {
		return out, err
	}
	if ok {
		if out.TotalAssets, err = strconv.ParseFloat(raw, 64); err != nil {
			return out, fmt.Errorf("decode total_assets: %w", err)
		}
	}
	return out, nil
}

// SaveSettings writes every settings key.
func SaveSettings(ctx context.Context, s Store, userID string, st Settings) error {
	exercises := st.Exercises
	if exercises == nil {
		exercises = []string{}
	}
	ex, err := json.Marshal(exercises)
	if err != nil {
		return fmt.Errorf("encode exercises: %w", err)
	}
	kv := []struct{ k, v string }{
		{KeyAPIKey, st.APIKey},
		{KeyExercises, string(ex)},
		{KeyModel, st.Model},
		{KeyModelName, st.ModelName},
		{KeyTotalAssets, strconv.FormatFloat(st.TotalAssets, 'f', -1, 64)},
	}
	for _, e := range kv {
		if err := s.Set(ctx, userID, e.k, e.v); err != nil {
			return fmt.Errorf("save %s: %w", e.k, err)
		}
	}
	return nil
}

// --- Client save blob ---

// LoadSnapshot returns the stored blob, or nil when none was saved.
func LoadSnapshot(ctx context.Context, s Store, userID string) (json.RawMessage, error) {
	v, err := s.Get(ctx, userID, KeySnapshot)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(v), nil
}

// SaveSnapshot stores an opaque JSON blob.
func SaveSnapshot(ctx context.Context, s Store, userID string, data json.RawMessage) error {
	if !json.Valid(data) {
		return ErrInvalidSnapshot
	}
	return s.Set(ctx, userID, KeySnapshot, string(data))
}
