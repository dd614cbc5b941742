package calendar

import (
	"sync"
	"time"
)

// KRX regular session: 09:00–15:30 KST, weekdays minus holidays.
// 모든 비교는 KST 벽시계 기준 (DST 없음)
const (
	sessionOpenMinute  = 9 * 60
	sessionCloseMinute = 15*60 + 30
)

// Calendar answers whether the KRX is open at an instant and when it next
// opens or closes. The holiday table is data; additional closures (선거일,
// 연말 휴장) can be registered at runtime without recompilation.
type Calendar struct {
	loc *time.Location

	mu       sync.RWMutex
	closures map[string]string // "2006-01-02" (KST) → 사유
}

// New builds a calendar with the built-in KRX holiday table.
// Substitute rule: 일요일과 겹치는 공휴일은 다음 월요일 휴장.
func New() *Calendar {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		// Asia/Seoul은 UTC+9 고정
		loc = time.FixedZone("KST", 9*60*60)
	}

	c := &Calendar{
		loc:      loc,
		closures: make(map[string]string),
	}

	for date, name := range krxHolidays {
		c.closures[date] = name
	}
	c.applySubstituteRule()

	return c
}

// Location returns the calendar's timezone (Asia/Seoul)
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// applySubstituteRule adds the following Monday for every listed holiday
// falling on a Sunday. 이미 휴일인 월요일이면 다음 영업일로 밀림.
func (c *Calendar) applySubstituteRule() {
	substitutes := make(map[string]string)

	for date, name := range c.closures {
		d, err := time.ParseInLocation("2006-01-02", date, c.loc)
		if err != nil {
			continue
		}
		if d.Weekday() != time.Sunday {
			continue
		}

		next := d.AddDate(0, 0, 1)
		for {
			key := next.Format("2006-01-02")
			_, taken := c.closures[key]
			_, pending := substitutes[key]
			if !taken && !pending && next.Weekday() != time.Saturday && next.Weekday() != time.Sunday {
				substitutes[key] = name + " (대체휴일)"
				break
			}
			next = next.AddDate(0, 0, 1)
		}
	}

	for date, name := range substitutes {
		c.closures[date] = name
	}
}

// RegisterClosure adds an ad-hoc market closure (election day, year-end)
func (c *Calendar) RegisterClosure(date time.Time, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closures[date.In(c.loc).Format("2006-01-02")] = reason
}

// IsTradingDay reports whether the KST date of t is a regular trading day
func (c *Calendar) IsTradingDay(t time.Time) bool {
	kst := t.In(c.loc)

	switch kst.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, closed := c.closures[kst.Format("2006-01-02")]
	return !closed
}

// IsOpen reports whether the KRX is in its regular session at instant t
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}

	kst := t.In(c.loc)
	minute := kst.Hour()*60 + kst.Minute()
	return minute >= sessionOpenMinute && minute < sessionCloseMinute
}

// NextOpen returns the next session open at or after t
func (c *Calendar) NextOpen(t time.Time) time.Time {
	kst := t.In(c.loc)

	for i := 0; i < 370; i++ {
		day := kst.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, c.loc)
		if !c.IsTradingDay(open) {
			continue
		}
		if i == 0 && !kst.Before(open) {
			continue
		}
		return open
	}
	return time.Time{}
}

// NextClose returns the next session close strictly after t.
// 장중이면 당일 15:30, 아니면 다음 영업일 15:30.
func (c *Calendar) NextClose(t time.Time) time.Time {
	kst := t.In(c.loc)

	for i := 0; i < 370; i++ {
		day := kst.AddDate(0, 0, i)
		close := time.Date(day.Year(), day.Month(), day.Day(), 15, 30, 0, 0, c.loc)
		if !c.IsTradingDay(close) {
			continue
		}
		if !kst.Before(close) {
			continue
		}
		return close
	}
	return time.Time{}
}

// TradingAge returns the wall-clock duration between from and to, excluding
// time falling on weekends and holidays. 데이터 신선도(48시간) 판정에 사용.
func (c *Calendar) TradingAge(from, to time.Time) time.Duration {
	if !from.Before(to) {
		return 0
	}

	var age time.Duration
	cursor := from.In(c.loc)
	end := to.In(c.loc)

	for cursor.Before(end) {
		dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, c.loc).AddDate(0, 0, 1)
		if dayEnd.After(end) {
			dayEnd = end
		}
		if c.IsTradingDay(cursor) {
			age += dayEnd.Sub(cursor)
		}
		cursor = dayEnd
	}
	return age
}
