package portfolio

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/wonny/kquant/internal/contracts"
)

// Store is the durable record of positions, cash, and the trading-halt flag.
// ⭐ SSOT: (user, ticker)별 모든 상태 변경은 이 인터페이스를 통해 직렬화됨
//
// 모든 쓰기는 직렬화 가능한 트랜잭션 안에서 실행되고, 재시도에 대해
// order-id 기준으로 멱등해야 한다.
type Store interface {
	GetPosition(ctx context.Context, userID, ticker string) (*contracts.Position, error)
	ListPositions(ctx context.Context, userID string) ([]*contracts.Position, error)

	// ClosedPositions returns fully exited positions, most recent first.
	// Kelly 사이징의 실현 손익 프로파일 계산용.
	ClosedPositions(ctx context.Context, userID string, limit int) ([]*contracts.Position, error)

	// ApplyFill transactionally updates the position and cash for one fill.
	// 같은 order-id의 재적용은 no-op이며 현재 포지션을 반환.
	ApplyFill(ctx context.Context, userID string, fill *contracts.Fill) (*contracts.Position, error)

	// InitializeLimits sets stop/take/trailing prices relative to avg price.
	// 추가 매수 후 재호출돼도 highest/trailing은 내려가지 않음.
	InitializeLimits(ctx context.Context, userID, ticker string, p LimitParams) (*contracts.Position, error)

	// UpdateTrailing ratchets the trailing stop; never lowers it
	UpdateTrailing(ctx context.Context, userID, ticker string, lastPrice decimal.Decimal) (*contracts.Position, error)

	// Halt flag. 쓰기는 리스크 엔진(단일 작성자)만, 읽기는 모두.
	SetHalt(ctx context.Context, userID, reason string) error
	ClearHalt(ctx context.Context, userID string) error

	GetRiskMetrics(ctx context.Context, userID string) (*contracts.RiskMetrics, error)
	SaveRiskMetrics(ctx context.Context, m *contracts.RiskMetrics) error
}
