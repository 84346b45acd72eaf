// Package market_hours provides the trading calendar consumed by the
// execution resolver and the valuation loop.
package market_hours

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/domain"
)

// TradingWindow represents the trading period within a day
type TradingWindow struct {
	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int
}

// ExchangeCalendar defines trading hours and holidays for an exchange
type ExchangeCalendar struct {
	Code        string
	Name        string
	TimezoneStr string
	Timezone    *time.Location
	Window      TradingWindow
	Holidays    map[string]bool // "2006-01-02" keys in exchange-local dates
}

// Service answers trading-calendar queries against a single exchange calendar.
// It implements domain.Calendar.
type Service struct {
	cal *ExchangeCalendar
	log zerolog.Logger
}

// New creates a calendar service for the default US equity calendar
func New(log zerolog.Logger) *Service {
	return NewWithCalendar(USEquityCalendar(), log)
}

// NewWithCalendar creates a calendar service for a specific exchange calendar
func NewWithCalendar(cal *ExchangeCalendar, log zerolog.Logger) *Service {
	return &Service{
		cal: cal,
		log: log.With().Str("component", "market_hours").Logger(),
	}
}

// USEquityCalendar returns the NYSE/NASDAQ calendar: 09:30-16:00 ET,
// weekends and exchange holidays closed.
func USEquityCalendar() *ExchangeCalendar {
	nyLoc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// America/New_York is present in every tzdata bundle; a failure
		// here means the environment is unusable for calendar math.
		panic(fmt.Sprintf("failed to load America/New_York: %v", err))
	}

	holidays := map[string]bool{}
	for _, d := range usHolidayDates {
		holidays[d] = true
	}

	return &ExchangeCalendar{
		Code:        "XNYS",
		Name:        "NYSE",
		TimezoneStr: "America/New_York",
		Timezone:    nyLoc,
		Window:      TradingWindow{OpenHour: 9, OpenMinute: 30, CloseHour: 16, CloseMinute: 0},
		Holidays:    holidays,
	}
}

// usHolidayDates lists full-day US market holidays for the years the Covey
// ledger spans. Early closes are treated as regular sessions.
var usHolidayDates = []string{
	// 2021
	"2021-01-01", "2021-01-18", "2021-02-15", "2021-04-02", "2021-05-31",
	"2021-07-05", "2021-09-06", "2021-11-25", "2021-12-24",
	// 2022
	"2022-01-17", "2022-02-21", "2022-04-15", "2022-05-30", "2022-06-20",
	"2022-07-04", "2022-09-05", "2022-11-24", "2022-12-26",
	// 2023
	"2023-01-02", "2023-01-16", "2023-02-20", "2023-04-07", "2023-05-29",
	"2023-06-19", "2023-07-04", "2023-09-04", "2023-11-23", "2023-12-25",
	// 2024
	"2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27",
	"2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25",
	// 2025
	"2025-01-01", "2025-01-20", "2025-02-17", "2025-04-18", "2025-05-26",
	"2025-06-19", "2025-07-04", "2025-09-01", "2025-11-27", "2025-12-25",
	// 2026
	"2026-01-01", "2026-01-19", "2026-02-16", "2026-04-03", "2026-05-25",
	"2026-06-19", "2026-07-03", "2026-09-07", "2026-11-26", "2026-12-25",
}

// isTradingDate reports whether a local midnight date trades
func (s *Service) isTradingDate(localDate time.Time) bool {
	switch localDate.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !s.cal.Holidays[localDate.Format("2006-01-02")]
}

// localMidnight truncates ts to midnight in the exchange timezone
func (s *Service) localMidnight(ts time.Time) time.Time {
	local := ts.In(s.cal.Timezone)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cal.Timezone)
}

func (s *Service) openOn(localDate time.Time) time.Time {
	w := s.cal.Window
	return time.Date(localDate.Year(), localDate.Month(), localDate.Day(),
		w.OpenHour, w.OpenMinute, 0, 0, s.cal.Timezone)
}

func (s *Service) closeOn(localDate time.Time) time.Time {
	w := s.cal.Window
	return time.Date(localDate.Year(), localDate.Month(), localDate.Day(),
		w.CloseHour, w.CloseMinute, 0, 0, s.cal.Timezone)
}

// nextTradingDate returns the first trading date at or after localDate.
// The scan is bounded so a misconfigured calendar fails instead of looping forever.
func (s *Service) nextTradingDate(localDate time.Time) (time.Time, error) {
	d := localDate
	for i := 0; i < 366; i++ {
		if s.isTradingDate(d) {
			return d, nil
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Time{}, fmt.Errorf("no trading day within a year of %s", localDate.Format("2006-01-02"))
}

// BusinessDay returns the calendar view for the date ts falls on:
// the next market open and close at or after that date, the date that open
// belongs to, and the open of the business day after it.
func (s *Service) BusinessDay(ts time.Time) (domain.BusinessDay, error) {
	date := s.localMidnight(ts)

	openDate, err := s.nextTradingDate(date)
	if err != nil {
		return domain.BusinessDay{}, fmt.Errorf("failed to resolve business day: %w", err)
	}

	nextDate, err := s.nextTradingDate(openDate.AddDate(0, 0, 1))
	if err != nil {
		return domain.BusinessDay{}, fmt.Errorf("failed to resolve following business day: %w", err)
	}

	return domain.BusinessDay{
		Date:                date,
		MarketOpen:          s.openOn(openDate),
		MarketClose:         s.closeOn(openDate),
		OpenDate:            openDate,
		NextBusinessDayOpen: s.openOn(nextDate),
	}, nil
}

// MarketCloses returns every market close in (from, to], ascending.
func (s *Service) MarketCloses(from, to time.Time) []time.Time {
	var closes []time.Time

	d := s.localMidnight(from)
	end := s.localMidnight(to)
	for !d.After(end) {
		if s.isTradingDate(d) {
			c := s.closeOn(d)
			if c.After(from) && !c.After(to) {
				closes = append(closes, c)
			}
		}
		d = d.AddDate(0, 0, 1)
	}

	return closes
}

// IsBusinessDay reports whether the date of ts trades
func (s *Service) IsBusinessDay(ts time.Time) bool {
	return s.isTradingDate(s.localMidnight(ts))
}
