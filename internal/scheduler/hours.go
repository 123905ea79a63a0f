package scheduler

import "time"

// MarketHours торговое окно. Для крипто-площадок используется AlwaysOpen.
type MarketHours struct {
	AlwaysOpen bool
	Weekdays   map[time.Weekday]bool
	Open       string // "09:30"
	Close      string // "16:00"
	Location   *time.Location
}

// USEquityHours окно обычной сессии американских акций
func USEquityHours() MarketHours {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return MarketHours{
		Weekdays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
		Open:     "09:30",
		Close:    "16:00",
		Location: loc,
	}
}

// IsOpen проверяет, попадает ли момент в торговое окно
func (h MarketHours) IsOpen(now time.Time) bool {
	if h.AlwaysOpen {
		return true
	}
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	if len(h.Weekdays) > 0 && !h.Weekdays[local.Weekday()] {
		return false
	}

	open, err1 := time.Parse("15:04", h.Open)
	close, err2 := time.Parse("15:04", h.Close)
	if err1 != nil || err2 != nil {
		return true
	}
	minutes := local.Hour()*60 + local.Minute()
	openMin := open.Hour()*60 + open.Minute()
	closeMin := close.Hour()*60 + close.Minute()
	return minutes >= openMin && minutes < closeMin
}
