package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Pub/sub channels for price events
// Redis는 알림 버스일 뿐, 어떤 비즈니스 로직도 채널 순서에 의존하면 안 됨
const (
	ChannelPriceUpdate       = "stock:price:update"
	ChannelSignificantChange = "stock:price:significant_change"
	ChannelPriceAlert        = "stock:price:alert"
)

// PriceEvent is the payload published on the price channels
type PriceEvent struct {
	EventType string                 `json:"event_type"`
	Ticker    string                 `json:"ticker"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Publisher publishes price events to Redis channels
// ⭐ SSOT: 이벤트 발행은 여기서만
type Publisher struct {
	client *Client
}

// NewPublisher creates a new event publisher
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends an event to the given channel. No-op when Redis is disabled.
func (p *Publisher) Publish(ctx context.Context, channel string, event PriceEvent) error {
	if !p.client.Enabled() {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event marshal failed: %w", err)
	}

	return p.client.Redis().Publish(ctx, channel, payload).Err()
}

// PublishPriceUpdate publishes a routine price tick
func (p *Publisher) PublishPriceUpdate(ctx context.Context, ticker string, price, changePct float64) error {
	return p.Publish(ctx, ChannelPriceUpdate, PriceEvent{
		EventType: "price_update",
		Ticker:    ticker,
		Data: map[string]interface{}{
			"price":      price,
			"change_pct": changePct,
		},
	})
}

// PublishSignificantChange publishes a move beyond the configured threshold
func (p *Publisher) PublishSignificantChange(ctx context.Context, ticker string, price, changePct float64) error {
	return p.Publish(ctx, ChannelSignificantChange, PriceEvent{
		EventType: "significant_change",
		Ticker:    ticker,
		Data: map[string]interface{}{
			"price":      price,
			"change_pct": changePct,
		},
	})
}

// PublishAlert publishes a risk or trigger alert for a ticker
func (p *Publisher) PublishAlert(ctx context.Context, ticker, alertType, message string) error {
	return p.Publish(ctx, ChannelPriceAlert, PriceEvent{
		EventType: "alert",
		Ticker:    ticker,
		Data: map[string]interface{}{
			"alert_type": alertType,
			"message":    message,
		},
	})
}
