package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Dxboy266/The-Stoic-Leek/internal/config"
	"github.com/Dxboy266/The-Stoic-Leek/internal/prescription"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"-3500", "-3500", false},
		{"1,234.56", "1234.56", false},
		{"¥100000", "100000", false},
		{" 0.01 ", "0.01", false},
		{"abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseMoney("amount", tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMoney(%q) err = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("parseMoney(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRenderPrescription(t *testing.T) {
	var buf bytes.Buffer
	renderPrescription(&buf, &prescription.Result{
		Amount:       decimal.NewFromInt(-3500),
		Principal:    decimal.NewFromInt(100000),
		ROIPercent:   decimal.RequireFromString("-3.5"),
		Tier:         prescription.Wave,
		TierLabel:    prescription.Wave.Label(),
		Mood:         "麻木",
		ExerciseText: "深蹲×20",
		Advice:       "关掉软件",
		GeneratedAt:  time.Now(),
	})
	out := buf.String()
	for _, want := range []string{"【心情】麻木", "【运动】深蹲×20", "【建议】关掉软件", "-3.50%", prescription.Wave.Label()} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")

	rootCmd.SetArgs([]string{"config", "init", "--path", path})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	loaded, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.LLM.Model != "deepseek-ai/DeepSeek-V3" {
		t.Errorf("model = %q", loaded.LLM.Model)
	}

	rootCmd.SetArgs([]string{"config", "init", "--path", path})
	if err := rootCmd.Execute(); err == nil {
		t.Error("existing file should not be overwritten without --force")
	}
}
