package portfolio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
	"github.com/wonny/kquant/pkg/database"
	"github.com/wonny/kquant/pkg/logger"
)

// PgStore is the PostgreSQL-backed portfolio store
type PgStore struct {
	db  *database.DB
	log *logger.Logger
}

// NewPgStore creates a PostgreSQL portfolio store
func NewPgStore(db *database.DB, log *logger.Logger) *PgStore {
	return &PgStore{db: db, log: log}
}

var _ Store = (*PgStore)(nil)

const positionColumns = `
	user_id, ticker, quantity, avg_price, current_price, invested_amount,
	realized_pnl, stop_loss_price, stop_loss_pct, take_profit_price,
	take_profit_pct, trailing_stop_enabled, trailing_stop_distance_pct,
	trailing_stop_price, highest_price_since_purchase,
	composite_score_at_entry, first_purchase_at, last_transaction_at, archived_at`

func scanPosition(row pgx.Row) (*contracts.Position, error) {
	var p contracts.Position
	err := row.Scan(
		&p.UserID, &p.Ticker, &p.Quantity, &p.AvgPrice, &p.CurrentPrice, &p.InvestedAmount,
		&p.RealizedPnL, &p.StopLossPrice, &p.StopLossPct, &p.TakeProfitPrice,
		&p.TakeProfitPct, &p.TrailingStopEnabled, &p.TrailingStopDistancePct,
		&p.TrailingStopPrice, &p.HighestPriceSincePurchase,
		&p.CompositeScoreAtEntry, &p.FirstPurchaseAt, &p.LastTransactionAt, &p.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPosition returns the open position for (user, ticker)
func (s *PgStore) GetPosition(ctx context.Context, userID, ticker string) (*contracts.Position, error) {
	row := s.db.Pool.QueryRow(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE user_id = $1 AND ticker = $2 AND archived_at IS NULL
	`, userID, ticker)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, userID, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// ListPositions returns all open positions for a user, ordered by ticker.
// 모니터/리스크 엔진이 순회 순서에 의존하므로 정렬은 계약의 일부.
func (s *PgStore) ListPositions(ctx context.Context, userID string) ([]*contracts.Position, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE user_id = $1 AND archived_at IS NULL AND quantity > 0
		ORDER BY ticker
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClosedPositions returns fully exited positions, most recent first
func (s *PgStore) ClosedPositions(ctx context.Context, userID string, limit int) ([]*contracts.Position, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE user_id = $1 AND archived_at IS NOT NULL
		ORDER BY archived_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("closed positions: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ApplyFill updates position and cash atomically, idempotent on order-id
func (s *PgStore) ApplyFill(ctx context.Context, userID string, fill *contracts.Fill) (*contracts.Position, error) {
	var result *contracts.Position

	err := s.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		// 멱등성 가드: 같은 order-id는 한 번만 적용
		tag, err := tx.Exec(ctx, `
			INSERT INTO applied_fills (order_id, user_id, applied_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (order_id) DO NOTHING
		`, fill.OrderID, userID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("record fill: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// 이미 적용된 체결: 현재 상태만 반환
			result, err = s.positionInTx(ctx, tx, userID, fill.Ticker)
			if errors.Is(err, ErrPositionNotFound) {
				result = nil
				return nil
			}
			return err
		}

		pos, err := s.positionInTx(ctx, tx, userID, fill.Ticker)
		if err != nil && !errors.Is(err, ErrPositionNotFound) {
			return err
		}

		isNew := pos == nil
		switch fill.Side {
		case contracts.OrderSideBuy:
			pos = applyBuy(pos, userID, fill)
		case contracts.OrderSideSell:
			if err := applySell(pos, fill); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown fill side %q", fill.Side)
		}

		if isNew {
			if err := s.insertPosition(ctx, tx, pos); err != nil {
				return err
			}
		} else if err := s.updatePosition(ctx, tx, pos); err != nil {
			return err
		}

		if err := s.adjustCash(ctx, tx, userID, fill); err != nil {
			return err
		}

		result = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// InitializeLimits sets stop/take/trailing prices relative to avg price
func (s *PgStore) InitializeLimits(ctx context.Context, userID, ticker string, p LimitParams) (*contracts.Position, error) {
	var result *contracts.Position

	err := s.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		pos, err := s.positionInTx(ctx, tx, userID, ticker)
		if err != nil {
			return err
		}
		applyLimits(pos, p)
		if err := s.updatePosition(ctx, tx, pos); err != nil {
			return err
		}
		result = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateTrailing ratchets the high-water mark and trailing stop
func (s *PgStore) UpdateTrailing(ctx context.Context, userID, ticker string, lastPrice decimal.Decimal) (*contracts.Position, error) {
	var result *contracts.Position

	err := s.db.WithSerializableTx(ctx, func(tx pgx.Tx) error {
		pos, err := s.positionInTx(ctx, tx, userID, ticker)
		if err != nil {
			return err
		}
		applyTrailing(pos, lastPrice)
		if err := s.updatePosition(ctx, tx, pos); err != nil {
			return err
		}
		result = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetHalt sets the trading-halt flag. 호출자는 리스크 엔진뿐이어야 함.
func (s *PgStore) SetHalt(ctx context.Context, userID, reason string) error {
	tag, err := s.db.Pool.Exec(ctx, `
		UPDATE portfolio_risk_metrics
		SET is_trading_halted = TRUE, halt_reason = $2, halt_started_at = $3, updated_at = $3
		WHERE user_id = $1
	`, userID, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set halt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set halt: no risk metrics row for user %s", userID)
	}
	return nil
}

// ClearHalt clears the trading-halt flag (explicit operator action only)
func (s *PgStore) ClearHalt(ctx context.Context, userID string) error {
	_, err := s.db.Pool.Exec(ctx, `
		UPDATE portfolio_risk_metrics
		SET is_trading_halted = FALSE, halt_reason = '', halt_started_at = NULL, updated_at = $2
		WHERE user_id = $1
	`, userID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear halt: %w", err)
	}
	return nil
}

// GetRiskMetrics returns the per-user portfolio rollup
func (s *PgStore) GetRiskMetrics(ctx context.Context, userID string) (*contracts.RiskMetrics, error) {
	var m contracts.RiskMetrics
	err := s.db.Pool.QueryRow(ctx, `
		SELECT user_id, total_value, cash_balance, invested_amount, peak_value,
		       initial_capital, realized_pnl, unrealized_pnl, daily_pnl,
		       current_drawdown_pct, max_drawdown_pct, drawdown_duration_days,
		       position_count, largest_position_pct, total_loss_from_initial_pct,
		       is_trading_halted, halt_reason, halt_started_at, updated_at
		FROM portfolio_risk_metrics
		WHERE user_id = $1
	`, userID).Scan(
		&m.UserID, &m.TotalValue, &m.CashBalance, &m.InvestedAmount, &m.PeakValue,
		&m.InitialCapital, &m.RealizedPnL, &m.UnrealizedPnL, &m.DailyPnL,
		&m.CurrentDrawdownPct, &m.MaxDrawdownPct, &m.DrawdownDurationDays,
		&m.PositionCount, &m.LargestPositionPct, &m.TotalLossFromInitialPct,
		&m.TradingHalted, &m.HaltReason, &m.HaltStartedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("risk metrics not found for user %s", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get risk metrics: %w", err)
	}
	return &m, nil
}

// SaveRiskMetrics upserts the per-user portfolio rollup.
// halt 관련 컬럼은 SetHalt/ClearHalt만 변경함 (단일 작성자 보존).
func (s *PgStore) SaveRiskMetrics(ctx context.Context, m *contracts.RiskMetrics) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO portfolio_risk_metrics (
			user_id, total_value, cash_balance, invested_amount, peak_value,
			initial_capital, realized_pnl, unrealized_pnl, daily_pnl,
			current_drawdown_pct, max_drawdown_pct, drawdown_duration_days,
			position_count, largest_position_pct, total_loss_from_initial_pct,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (user_id) DO UPDATE SET
			total_value = EXCLUDED.total_value,
			cash_balance = EXCLUDED.cash_balance,
			invested_amount = EXCLUDED.invested_amount,
			peak_value = GREATEST(portfolio_risk_metrics.peak_value, EXCLUDED.peak_value),
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			daily_pnl = EXCLUDED.daily_pnl,
			current_drawdown_pct = EXCLUDED.current_drawdown_pct,
			max_drawdown_pct = GREATEST(portfolio_risk_metrics.max_drawdown_pct, EXCLUDED.max_drawdown_pct),
			drawdown_duration_days = EXCLUDED.drawdown_duration_days,
			position_count = EXCLUDED.position_count,
			largest_position_pct = EXCLUDED.largest_position_pct,
			total_loss_from_initial_pct = EXCLUDED.total_loss_from_initial_pct,
			updated_at = EXCLUDED.updated_at
	`,
		m.UserID, m.TotalValue, m.CashBalance, m.InvestedAmount, m.PeakValue,
		m.InitialCapital, m.RealizedPnL, m.UnrealizedPnL, m.DailyPnL,
		m.CurrentDrawdownPct, m.MaxDrawdownPct, m.DrawdownDurationDays,
		m.PositionCount, m.LargestPositionPct, m.TotalLossFromInitialPct,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save risk metrics: %w", err)
	}
	return nil
}

// --- internal helpers ---

func (s *PgStore) positionInTx(ctx context.Context, tx pgx.Tx, userID, ticker string) (*contracts.Position, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE user_id = $1 AND ticker = $2 AND archived_at IS NULL
		FOR UPDATE
	`, userID, ticker)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrPositionNotFound, userID, ticker)
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

func (s *PgStore) insertPosition(ctx context.Context, tx pgx.Tx, p *contracts.Position) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`,
		p.UserID, p.Ticker, p.Quantity, p.AvgPrice, p.CurrentPrice, p.InvestedAmount,
		p.RealizedPnL, p.StopLossPrice, p.StopLossPct, p.TakeProfitPrice,
		p.TakeProfitPct, p.TrailingStopEnabled, p.TrailingStopDistancePct,
		p.TrailingStopPrice, p.HighestPriceSincePurchase,
		p.CompositeScoreAtEntry, p.FirstPurchaseAt, p.LastTransactionAt, p.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (s *PgStore) updatePosition(ctx context.Context, tx pgx.Tx, p *contracts.Position) error {
	_, err := tx.Exec(ctx, `
		UPDATE positions SET
			quantity = $3, avg_price = $4, current_price = $5, invested_amount = $6,
			realized_pnl = $7, stop_loss_price = $8, stop_loss_pct = $9,
			take_profit_price = $10, take_profit_pct = $11,
			trailing_stop_enabled = $12, trailing_stop_distance_pct = $13,
			trailing_stop_price = $14, highest_price_since_purchase = $15,
			composite_score_at_entry = $16, last_transaction_at = $17, archived_at = $18
		WHERE user_id = $1 AND ticker = $2 AND archived_at IS NULL
	`,
		p.UserID, p.Ticker, p.Quantity, p.AvgPrice, p.CurrentPrice, p.InvestedAmount,
		p.RealizedPnL, p.StopLossPrice, p.StopLossPct,
		p.TakeProfitPrice, p.TakeProfitPct,
		p.TrailingStopEnabled, p.TrailingStopDistancePct,
		p.TrailingStopPrice, p.HighestPriceSincePurchase,
		p.CompositeScoreAtEntry, p.LastTransactionAt, p.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return nil
}

// adjustCash applies the fill's net cash impact to the user's balance
func (s *PgStore) adjustCash(ctx context.Context, tx pgx.Tx, userID string, fill *contracts.Fill) error {
	delta := fill.NetAmount()
	if fill.Side == contracts.OrderSideBuy {
		delta = delta.Neg()
	}

	tag, err := tx.Exec(ctx, `
		UPDATE portfolio_risk_metrics
		SET cash_balance = cash_balance + $2, updated_at = $3
		WHERE user_id = $1
	`, userID, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adjust cash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjust cash: no risk metrics row for user %s", userID)
	}
	return nil
}
