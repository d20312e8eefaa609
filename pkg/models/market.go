// Package models holds the shared data shapes for fund quotes, sector
// rankings, news and the daily market summary.
package models

import "time"

// FundQuote is an intraday estimate or latest NAV for an open-end fund.
type FundQuote struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	EstimatedNAV float64 `json:"gsz"`   // latest or estimated NAV
	ChangePct    float64 `json:"gszzl"` // percent vs previous NAV
	PreviousNAV  float64 `json:"dwjz"`
	EstimateTime string  `json:"gztime"`
	NAVDate      string  `json:"jzrq"`
	Source       string  `json:"source"`
}

// DailyPnL estimates today's profit or loss for a holding worth
// holdingValue at the previous NAV.
func (q FundQuote) DailyPnL(holdingValue float64) float64 {
	return holdingValue * q.ChangePct / 100
}

// FundSuggestion is one hit from the fund search endpoint.
type FundSuggestion struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Pinyin   string `json:"pinyin,omitempty"`
}

// Sector is one industry board in the daily ranking.
type Sector struct {
	Code          string   `json:"code"`
	Name          string   `json:"name"`
	ChangePct     float64  `json:"change_pct"`
	LeadingStocks []string `json:"leading_stocks"`
}

// NewsArticle represents a news headline with a plain-text summary.
type NewsArticle struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Summary     string    `json:"summary,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// DailySummary is the model-written market commentary with its inputs.
type DailySummary struct {
	Date        string        `json:"date"`
	HotSectors  []Sector      `json:"hot_sectors"`
	Headlines   []NewsArticle `json:"headlines,omitempty"`
	Summary     string        `json:"ai_summary"`
	Degraded    bool          `json:"degraded"`
	Model       string        `json:"model,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}
