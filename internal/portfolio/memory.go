package portfolio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
)

// MemoryStore is an in-process portfolio store. Paper 모드와 테스트에서 사용;
// 시맨틱스(멱등 체결, 트레일링 래칫, 아카이브)는 PgStore와 동일.
type MemoryStore struct {
	mu       sync.Mutex
	open     map[string]*contracts.Position // user|ticker → live position
	archived []*contracts.Position
	metrics  map[string]*contracts.RiskMetrics
	applied  map[string]bool // order-id → 적용 완료
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		open:    make(map[string]*contracts.Position),
		metrics: make(map[string]*contracts.RiskMetrics),
		applied: make(map[string]bool),
	}
}

var _ Store = (*MemoryStore)(nil)

// Seed initialises a user with starting cash
func (s *MemoryStore) Seed(userID string, initialCapital decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[userID] = &contracts.RiskMetrics{
		UserID:         userID,
		InitialCapital: initialCapital,
		CashBalance:    initialCapital,
		TotalValue:     initialCapital,
		PeakValue:      initialCapital,
		UpdatedAt:      time.Now().UTC(),
	}
}

func key(userID, ticker string) string { return userID + "|" + ticker }

func clonePosition(p *contracts.Position) *contracts.Position {
	cp := *p
	if p.ArchivedAt != nil {
		at := *p.ArchivedAt
		cp.ArchivedAt = &at
	}
	return &cp
}

// GetPosition returns the open position for (user, ticker)
func (s *MemoryStore) GetPosition(_ context.Context, userID, ticker string) (*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.open[key(userID, ticker)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, userID, ticker)
	}
	return clonePosition(p), nil
}

// ListPositions returns all open positions for a user, ordered by ticker
func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*contracts.Position
	for _, p := range s.open {
		if p.UserID == userID && p.Quantity > 0 {
			out = append(out, clonePosition(p))
		}
	}
	// ticker 순 정렬 (순회 순서는 계약의 일부)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Ticker < out[j-1].Ticker; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// ClosedPositions returns fully exited positions, most recent first
func (s *MemoryStore) ClosedPositions(_ context.Context, userID string, limit int) ([]*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*contracts.Position
	for i := len(s.archived) - 1; i >= 0; i-- {
		if s.archived[i].UserID != userID {
			continue
		}
		out = append(out, clonePosition(s.archived[i]))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ApplyFill updates position and cash, idempotent on order-id
func (s *MemoryStore) ApplyFill(_ context.Context, userID string, fill *contracts.Fill) (*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied[fill.OrderID] {
		if p, ok := s.open[key(userID, fill.Ticker)]; ok {
			return clonePosition(p), nil
		}
		return nil, nil
	}

	m, ok := s.metrics[userID]
	if !ok {
		return nil, fmt.Errorf("no portfolio for user %s", userID)
	}

	k := key(userID, fill.Ticker)
	pos := s.open[k]

	switch fill.Side {
	case contracts.OrderSideBuy:
		pos = applyBuy(pos, userID, fill)
		s.open[k] = pos
		m.CashBalance = m.CashBalance.Sub(fill.NetAmount())
	case contracts.OrderSideSell:
		var before decimal.Decimal
		if pos != nil {
			before = pos.RealizedPnL
		}
		if err := applySell(pos, fill); err != nil {
			return nil, err
		}
		m.CashBalance = m.CashBalance.Add(fill.NetAmount())
		m.RealizedPnL = m.RealizedPnL.Add(pos.RealizedPnL.Sub(before))
		if pos.ArchivedAt != nil {
			s.archived = append(s.archived, pos)
			delete(s.open, k)
		}
	default:
		return nil, fmt.Errorf("unknown fill side %q", fill.Side)
	}

	s.applied[fill.OrderID] = true
	return clonePosition(pos), nil
}

// InitializeLimits sets stop/take/trailing prices relative to avg price
func (s *MemoryStore) InitializeLimits(_ context.Context, userID, ticker string, p LimitParams) (*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.open[key(userID, ticker)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, userID, ticker)
	}
	applyLimits(pos, p)
	return clonePosition(pos), nil
}

// UpdateTrailing ratchets the trailing stop; never lowers it
func (s *MemoryStore) UpdateTrailing(_ context.Context, userID, ticker string, lastPrice decimal.Decimal) (*contracts.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.open[key(userID, ticker)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, userID, ticker)
	}
	applyTrailing(pos, lastPrice)
	return clonePosition(pos), nil
}

// SetHalt sets the trading-halt flag
func (s *MemoryStore) SetHalt(_ context.Context, userID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metrics[userID]
	if !ok {
		return fmt.Errorf("no portfolio for user %s", userID)
	}
	now := time.Now().UTC()
	m.TradingHalted = true
	m.HaltReason = reason
	m.HaltStartedAt = &now
	return nil
}

// ClearHalt clears the trading-halt flag
func (s *MemoryStore) ClearHalt(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metrics[userID]
	if !ok {
		return fmt.Errorf("no portfolio for user %s", userID)
	}
	m.TradingHalted = false
	m.HaltReason = ""
	m.HaltStartedAt = nil
	return nil
}

// GetRiskMetrics returns the per-user portfolio rollup
func (s *MemoryStore) GetRiskMetrics(_ context.Context, userID string) (*contracts.RiskMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metrics[userID]
	if !ok {
		return nil, fmt.Errorf("risk metrics not found for user %s", userID)
	}
	cp := *m
	if m.HaltStartedAt != nil {
		at := *m.HaltStartedAt
		cp.HaltStartedAt = &at
	}
	return &cp, nil
}

// SaveRiskMetrics stores the rollup, preserving peak monotonicity and the
// halt columns (단일 작성자: SetHalt/ClearHalt만 변경)
func (s *MemoryStore) SaveRiskMetrics(_ context.Context, m *contracts.RiskMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.metrics[m.UserID]
	cp := *m
	if ok {
		if prev.PeakValue.GreaterThan(cp.PeakValue) {
			cp.PeakValue = prev.PeakValue
		}
		if prev.MaxDrawdownPct.GreaterThan(cp.MaxDrawdownPct) {
			cp.MaxDrawdownPct = prev.MaxDrawdownPct
		}
		cp.TradingHalted = prev.TradingHalted
		cp.HaltReason = prev.HaltReason
		cp.HaltStartedAt = prev.HaltStartedAt
	}
	cp.UpdatedAt = time.Now().UTC()
	s.metrics[m.UserID] = &cp
	return nil
}

// Archived returns fully exited positions (실현손익 보존 확인용)
func (s *MemoryStore) Archived(userID string) []*contracts.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*contracts.Position
	for _, p := range s.archived {
		if p.UserID == userID {
			out = append(out, clonePosition(p))
		}
	}
	return out
}
