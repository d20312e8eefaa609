package utils

import (
	"time"
)

// CST is China Standard Time (UTC+8), the zone of the Shanghai and
// Shenzhen exchanges.
var CST *time.Location

func init() {
	var err error
	CST, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// Fallback: create fixed zone if tz database is not available
		CST = time.FixedZone("CST", 8*60*60)
	}
}

// NowCST returns the current time in CST.
func NowCST() time.Time {
	return time.Now().In(CST)
}

// ToCST converts a time.Time to CST.
func ToCST(t time.Time) time.Time {
	return t.In(CST)
}

func at(date time.Time, hour, min int) time.Time {
	d := date.In(CST)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, CST)
}

// MarketOpenTime returns the A-share continuous auction open (9:30 CST).
func MarketOpenTime(date time.Time) time.Time { return at(date, 9, 30) }

// MorningCloseTime returns the start of the lunch break (11:30 CST).
func MorningCloseTime(date time.Time) time.Time { return at(date, 11, 30) }

// AfternoonOpenTime returns the end of the lunch break (13:00 CST).
func AfternoonOpenTime(date time.Time) time.Time { return at(date, 13, 0) }

// MarketCloseTime returns the A-share close (15:00 CST).
func MarketCloseTime(date time.Time) time.Time { return at(date, 15, 0) }

// CallAuctionStart returns the opening call auction start (9:15 CST).
func CallAuctionStart(date time.Time) time.Time { return at(date, 9, 15) }

// IsMarketOpen checks if the A-share market is currently trading.
func IsMarketOpen() bool {
	return IsMarketOpenAt(NowCST())
}

// IsMarketOpenAt reports whether t falls inside either trading session.
// Both session bounds are inclusive.
func IsMarketOpenAt(t time.Time) bool {
	t = t.In(CST)
	if !IsTradingDay(t) {
		return false
	}
	inMorning := !t.Before(MarketOpenTime(t)) && !t.After(MorningCloseTime(t))
	inAfternoon := !t.Before(AfternoonOpenTime(t)) && !t.After(MarketCloseTime(t))
	return inMorning || inAfternoon
}

// NextTradingDay returns the next trading day after from.
func NextTradingDay(from time.Time) time.Time {
	next := from.In(CST).AddDate(0, 0, 1)
	for !IsTradingDay(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// PrevTradingDay returns the previous trading day before from.
func PrevTradingDay(from time.Time) time.Time {
	prev := from.In(CST).AddDate(0, 0, -1)
	for !IsTradingDay(prev) {
		prev = prev.AddDate(0, 0, -1)
	}
	return prev
}

// IsTradingDay checks if the given date is a trading day (not weekend, not holiday).
func IsTradingDay(t time.Time) bool {
	t = t.In(CST)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	return !IsTradingHoliday(t)
}

// IsTradingHoliday checks if the given date is an exchange holiday.
// This list should be updated annually.
func IsTradingHoliday(t time.Time) bool {
	_, ok := sseHolidays2026[t.In(CST).Format("2006-01-02")]
	return ok
}

// Weekday closures of the Shanghai Stock Exchange for 2026.
var sseHolidays2026 = map[string]string{
	"2026-01-01": "元旦",
	"2026-01-02": "元旦",
	"2026-02-16": "春节",
	"2026-02-17": "春节",
	"2026-02-18": "春节",
	"2026-02-19": "春节",
	"2026-02-20": "春节",
	"2026-02-23": "春节",
	"2026-04-06": "清明节",
	"2026-05-01": "劳动节",
	"2026-05-04": "劳动节",
	"2026-05-05": "劳动节",
	"2026-06-19": "端午节",
	"2026-09-25": "中秋节",
	"2026-10-01": "国庆节",
	"2026-10-02": "国庆节",
	"2026-10-05": "国庆节",
	"2026-10-06": "国庆节",
	"2026-10-07": "国庆节",
}

// GetTradingHolidays returns all trading holidays for the current year.
func GetTradingHolidays() map[string]string {
	return sseHolidays2026
}

// ParseDateCST parses a date string in "2006-01-02" format in CST.
func ParseDateCST(dateStr string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", dateStr, CST)
}

// FormatDateCST formats a time.Time to "2006-01-02" in CST.
func FormatDateCST(t time.Time) string {
	return t.In(CST).Format("2006-01-02")
}

// FormatDateTimeCST formats a time.Time to "2006-01-02 15:04:05 CST".
func FormatDateTimeCST(t time.Time) string {
	return t.In(CST).Format("2006-01-02 15:04:05 CST")
}

// MarketStatus returns the current market status string.
func MarketStatus() string {
	return MarketStatusAt(NowCST())
}

// MarketStatusAt returns the market status at t.
func MarketStatusAt(t time.Time) string {
	now := t.In(CST)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return "CLOSED (Weekend)"
	}
	if name, ok := sseHolidays2026[now.Format("2006-01-02")]; ok {
		return "CLOSED (" + name + ")"
	}

	switch {
	case now.Before(CallAuctionStart(now)):
		return "PRE-MARKET"
	case now.Before(MarketOpenTime(now)):
		return "CALL AUCTION"
	case !now.After(MorningCloseTime(now)):
		return "OPEN"
	case now.Before(AfternoonOpenTime(now)):
		return "LUNCH BREAK"
	case !now.After(MarketCloseTime(now)):
		return "OPEN"
	default:
		return "CLOSED"
	}
}
