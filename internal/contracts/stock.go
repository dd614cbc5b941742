package contracts

import (
	"fmt"
	"regexp"
	"time"
)

// Market represents the Korean equity board a stock trades on
type Market string

const (
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
	MarketKONEX  Market = "KONEX"
)

// Stock is the immutable master record for a listed security
// ⭐ SSOT: 종목 마스터는 주간 갱신 외에는 불변
type Stock struct {
	Ticker       string    `json:"ticker"` // 6자리 zero-padded 문자열
	Name         string    `json:"name"`
	NameEn       string    `json:"name_en"`
	Market       Market    `json:"market"`
	Sector       string    `json:"sector"`
	Industry     string    `json:"industry"`
	ListedShares int64     `json:"listed_shares"`
	IsActive     bool      `json:"is_active"`
	UpdatedAt    time.Time `json:"updated_at"`
}

var tickerPattern = regexp.MustCompile(`^\d{6}$`)

// ValidTicker reports whether s is a 6-digit zero-padded ticker.
// 티커는 절대 정수로 다루지 않음 (leading zero 보존)
func ValidTicker(s string) bool {
	return tickerPattern.MatchString(s)
}

// ValidateTicker returns an error describing why s is not a valid ticker
func ValidateTicker(s string) error {
	if !ValidTicker(s) {
		return fmt.Errorf("invalid ticker %q: must be a 6-digit zero-padded string", s)
	}
	return nil
}
