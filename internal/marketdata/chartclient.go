package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/httputil"
	"github.com/wonny/kquant/pkg/logger"
)

const defaultChartBaseURL = "https://fchart.stock.naver.com"

// ChartClient fetches daily OHLCV rows from the Naver Finance chart API.
// ⭐ SSOT: 일봉 수집 호출은 이 클라이언트에서만
type ChartClient struct {
	http    *httputil.Client
	baseURL string
	log     *logger.Logger
}

// NewChartClient creates a chart API client
func NewChartClient(http *httputil.Client, log *logger.Logger) *ChartClient {
	return &ChartClient{
		http:    http,
		baseURL: defaultChartBaseURL,
		log:     log,
	}
}

// WithBaseURL overrides the API endpoint (tests)
func (c *ChartClient) WithBaseURL(url string) *ChartClient {
	c.baseURL = url
	return c
}

// DailyBars fetches daily price bars for a ticker over [from, to]
func (c *ChartClient) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]contracts.PriceBar, error) {
	if err := contracts.ValidateTicker(ticker); err != nil {
		return nil, err
	}

	fullURL := fmt.Sprintf(
		"%s/siseJson.naver?symbol=%s&requestType=1&startTime=%s&endTime=%s&timeframe=day",
		c.baseURL, ticker, from.Format("20060102"), to.Format("20060102"),
	)

	resp, err := c.http.Get(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("chart request for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart request for %s: unexpected status %d", ticker, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chart response: %w", err)
	}

	bars, err := parseChartResponse(ticker, string(body))
	if err != nil {
		return nil, fmt.Errorf("parse chart response for %s: %w", ticker, err)
	}

	c.log.WithFields(map[string]interface{}{
		"ticker": ticker,
		"bars":   len(bars),
	}).Debug("daily bars fetched")
	return bars, nil
}

// parseChartResponse decodes the quasi-JSON chart payload.
// 응답이 작은따옴표를 쓰는 경우가 있어 정규화 후 파싱, 실패 시 정규식 폴백.
func parseChartResponse(ticker, body string) ([]contracts.PriceBar, error) {
	body = strings.TrimSpace(body)
	body = strings.ReplaceAll(body, "'", `"`)

	var raw [][]interface{}
	if err := json.Unmarshal([]byte(body), &raw); err == nil {
		return barsFromRows(ticker, raw), nil
	}
	return barsFromRegex(ticker, body), nil
}

func barsFromRows(ticker string, raw [][]interface{}) []contracts.PriceBar {
	var bars []contracts.PriceBar
	for i, row := range raw {
		if i == 0 || len(row) < 6 {
			continue // 헤더 행
		}
		dateStr, ok := row[0].(string)
		if !ok {
			continue
		}
		day, err := time.Parse("20060102", strings.Trim(dateStr, `"`))
		if err != nil {
			continue
		}
		bars = append(bars, newBar(ticker, day,
			cellInt64(row[1]), cellInt64(row[2]), cellInt64(row[3]), cellInt64(row[4]), cellInt64(row[5])))
	}
	return bars
}

var chartRowPattern = regexp.MustCompile(`\["(\d{8})",\s*(\d+),\s*(\d+),\s*(\d+),\s*(\d+),\s*(\d+)\]`)

func barsFromRegex(ticker, body string) []contracts.PriceBar {
	var bars []contracts.PriceBar
	for _, m := range chartRowPattern.FindAllStringSubmatch(body, -1) {
		day, err := time.Parse("20060102", m[1])
		if err != nil {
			continue
		}
		open, _ := strconv.ParseInt(m[2], 10, 64)
		high, _ := strconv.ParseInt(m[3], 10, 64)
		low, _ := strconv.ParseInt(m[4], 10, 64)
		cls, _ := strconv.ParseInt(m[5], 10, 64)
		vol, _ := strconv.ParseInt(m[6], 10, 64)
		bars = append(bars, newBar(ticker, day, open, high, low, cls, vol))
	}
	return bars
}

func newBar(ticker string, day time.Time, open, high, low, cls, volume int64) contracts.PriceBar {
	closeDec := decimal.NewFromInt(cls)
	return contracts.PriceBar{
		Ticker:       ticker,
		TradeDate:    day,
		Open:         decimal.NewFromInt(open),
		High:         decimal.NewFromInt(high),
		Low:          decimal.NewFromInt(low),
		Close:        closeDec,
		Volume:       volume,
		TradingValue: closeDec.Mul(decimal.NewFromInt(volume)),
		AdjClose:     closeDec,
	}
}

func cellInt64(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	default:
		return 0
	}
}
