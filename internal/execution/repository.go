package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/database"
)

// ErrTradeNotFound means no trade exists for the order id
var ErrTradeNotFound = errors.New("trade not found")

// TradeRepository persists the trade lifecycle.
// OrderID가 기본 키이자 멱등성 키.
type TradeRepository interface {
	Create(ctx context.Context, t *contracts.Trade) error
	Get(ctx context.Context, orderID string) (*contracts.Trade, error)
	Update(ctx context.Context, t *contracts.Trade) error
	ListByStatus(ctx context.Context, status contracts.TradeStatus) ([]*contracts.Trade, error)
}

// PgTradeRepository is the PostgreSQL trade store
type PgTradeRepository struct {
	db *database.DB
}

// NewPgTradeRepository creates a PostgreSQL trade repository
func NewPgTradeRepository(db *database.DB) *PgTradeRepository {
	return &PgTradeRepository{db: db}
}

var _ TradeRepository = (*PgTradeRepository)(nil)

const tradeColumns = `
	order_id, ticker, side, order_type, requested_qty, requested_price,
	executed_qty, executed_price, total_amount, commission, tax,
	status, reason, strategy, created_at, executed_at, cancelled_at`

func scanTrade(row pgx.Row) (*contracts.Trade, error) {
	var t contracts.Trade
	err := row.Scan(
		&t.OrderID, &t.Ticker, &t.Side, &t.OrderType, &t.RequestedQty, &t.RequestedPrice,
		&t.ExecutedQty, &t.ExecutedPrice, &t.TotalAmount, &t.Commission, &t.Tax,
		&t.Status, &t.Reason, &t.Strategy, &t.CreatedAt, &t.ExecutedAt, &t.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new trade row
func (r *PgTradeRepository) Create(ctx context.Context, t *contracts.Trade) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		t.OrderID, t.Ticker, t.Side, t.OrderType, t.RequestedQty, t.RequestedPrice,
		t.ExecutedQty, t.ExecutedPrice, t.TotalAmount, t.Commission, t.Tax,
		t.Status, t.Reason, t.Strategy, t.CreatedAt, t.ExecutedAt, t.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.OrderID, err)
	}
	return nil
}

// Get returns the trade for an order id
func (r *PgTradeRepository) Get(ctx context.Context, orderID string) (*contracts.Trade, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+tradeColumns+` FROM trades WHERE order_id = $1
	`, orderID)

	t, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

// Update rewrites the mutable trade columns
func (r *PgTradeRepository) Update(ctx context.Context, t *contracts.Trade) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trades SET
			executed_qty = $2, executed_price = $3, total_amount = $4,
			commission = $5, tax = $6, status = $7, reason = $8,
			executed_at = $9, cancelled_at = $10
		WHERE order_id = $1
	`,
		t.OrderID, t.ExecutedQty, t.ExecutedPrice, t.TotalAmount,
		t.Commission, t.Tax, t.Status, t.Reason,
		t.ExecutedAt, t.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", t.OrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, t.OrderID)
	}
	return nil
}

// ListByStatus returns trades in the given status, oldest first
func (r *PgTradeRepository) ListByStatus(ctx context.Context, status contracts.TradeStatus) ([]*contracts.Trade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades WHERE status = $1 ORDER BY created_at
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MemoryTradeRepository is the in-process trade store (paper 모드/테스트)
type MemoryTradeRepository struct {
	mu     sync.Mutex
	trades map[string]*contracts.Trade
	order  []string // 삽입 순서
}

// NewMemoryTradeRepository creates an empty in-memory trade repository
func NewMemoryTradeRepository() *MemoryTradeRepository {
	return &MemoryTradeRepository{trades: make(map[string]*contracts.Trade)}
}

var _ TradeRepository = (*MemoryTradeRepository)(nil)

func cloneTrade(t *contracts.Trade) *contracts.Trade {
	cp := *t
	if t.ExecutedAt != nil {
		at := *t.ExecutedAt
		cp.ExecutedAt = &at
	}
	if t.CancelledAt != nil {
		at := *t.CancelledAt
		cp.CancelledAt = &at
	}
	return &cp
}

// Create inserts a new trade, rejecting duplicates
func (r *MemoryTradeRepository) Create(_ context.Context, t *contracts.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trades[t.OrderID]; ok {
		return fmt.Errorf("trade %s already exists", t.OrderID)
	}
	r.trades[t.OrderID] = cloneTrade(t)
	r.order = append(r.order, t.OrderID)
	return nil
}

// Get returns the trade for an order id
func (r *MemoryTradeRepository) Get(_ context.Context, orderID string) (*contracts.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trades[orderID]; ok {
		return cloneTrade(t), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, orderID)
}

// Update rewrites a stored trade
func (r *MemoryTradeRepository) Update(_ context.Context, t *contracts.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.trades[t.OrderID]; !ok {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, t.OrderID)
	}
	r.trades[t.OrderID] = cloneTrade(t)
	return nil
}

// ListByStatus returns trades in the given status, insertion order
func (r *MemoryTradeRepository) ListByStatus(_ context.Context, status contracts.TradeStatus) ([]*contracts.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*contracts.Trade
	for _, id := range r.order {
		if t := r.trades[id]; t.Status == status {
			out = append(out, cloneTrade(t))
		}
	}
	return out, nil
}
