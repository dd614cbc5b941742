package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// 단일 운용 계정. 멀티 계정은 API 경로의 {user}로 구분됨.
	DefaultUserID string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Trading pipeline
	Signals    SignalConfig
	Validation ValidationConfig
	Execution  ExecutionConfig

	// Risk manager
	Risk RiskConfig

	// Orchestrator
	Scheduler SchedulerConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// SignalConfig holds signal generation / conviction / sizing parameters
// 환경변수 prefix: TRADING_ENGINE_SIGNAL_GENERATOR_*
type SignalConfig struct {
	RiskTolerance         float64 // fixed_risk 방식: 포트폴리오 대비 허용 손실 %
	MaxPositionSizePct    float64 // 종목당 최대 비중 %
	MinCompositeScore     float64
	MinMomentumScore      float64
	MinConvictionScore    float64
	StopLossPct           float64
	TakeProfitPct         float64
	LimitOrderDiscountPct float64
	UseMarketOrders       bool
	SizingMethod          string // fixed_percent, fixed_risk, volatility_adjusted, kelly_full, kelly_half, kelly_quarter

	// Conviction 가중치 (합 = 1.0 ± 1e-6)
	WeightValue    float64
	WeightMomentum float64
	WeightVolume   float64
	WeightQuality  float64

	ScoreDeteriorationThreshold float64
	TakeProfitUseTechnical      bool

	WatchlistSize int // 진입 후보 유니버스 크기
}

// ValidationConfig holds signal validator gates
// 환경변수 prefix: TRADING_ENGINE_SIGNAL_VALIDATOR_*
type ValidationConfig struct {
	RequireRecentDataHours    int
	MinDataQualityScore       float64
	MaxPositions              int
	MaxConcentrationPct       float64
	MaxSectorConcentrationPct float64
}

// ExecutionConfig holds order execution / paper broker parameters
// 환경변수 prefix: TRADING_ENGINE_EXECUTION_*
type ExecutionConfig struct {
	Mode string // paper, live

	// Paper-mode slippage model
	SlippageBaseBps          float64
	SlippageVolumeFactor     float64
	SlippageVolatilityFactor float64
	SlippageSeed             int64 // 0이면 비결정적

	CommissionRatePct float64 // 매수/매도 공통
}

// RiskConfig holds circuit-breaker parameters
// 환경변수 prefix: RISK_MANAGER_RISK_PARAMETERS_*
type RiskConfig struct {
	InitialCapital       float64
	MaxTotalLossPct      float64 // 청산 트리거 (기본 28%)
	MaxDrawdownPct       float64 // 경고용 한도
	TrailingDistancePct  float64
	RiskCheckInterval    time.Duration
	MonitorInterval      time.Duration
	HaltStalenessBound   time.Duration
	MonitorParallelism   int
	SignificantChangePct float64 // 가격 이벤트 발행 임계값
}

// SchedulerConfig holds orchestrator parameters
// 환경변수 prefix: ORCHESTRATOR_SCHEDULER_*
type SchedulerConfig struct {
	GracePeriod      time.Duration
	ShutdownDeadline time.Duration
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		DefaultUserID: getEnv("TRADING_ENGINE_DEFAULT_USER_ID", "default"),

		// Database
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "kquant"),
			User:            getEnv("DB_USER", "kquant"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		Signals: SignalConfig{
			RiskTolerance:         getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_RISK_TOLERANCE", 2.0),
			MaxPositionSizePct:    getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_MAX_POSITION_SIZE_PCT", 10.0),
			MinCompositeScore:     getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_MIN_COMPOSITE_SCORE", 60.0),
			MinMomentumScore:      getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_MIN_MOMENTUM_SCORE", 50.0),
			MinConvictionScore:    getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_MIN_CONVICTION_SCORE", 60.0),
			StopLossPct:           getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_STOP_LOSS_PCT", 10.0),
			TakeProfitPct:         getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_TAKE_PROFIT_PCT", 20.0),
			LimitOrderDiscountPct: getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_LIMIT_ORDER_DISCOUNT_PCT", 1.0),
			UseMarketOrders:       getEnvAsBool("TRADING_ENGINE_SIGNAL_GENERATOR_USE_MARKET_ORDERS", false),
			SizingMethod:          getEnv("TRADING_ENGINE_SIGNAL_GENERATOR_SIZING_METHOD", "kelly_half"),

			WeightValue:    getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_WEIGHT_VALUE", 0.30),
			WeightMomentum: getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_WEIGHT_MOMENTUM", 0.30),
			WeightVolume:   getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_WEIGHT_VOLUME", 0.20),
			WeightQuality:  getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_WEIGHT_QUALITY", 0.20),

			ScoreDeteriorationThreshold: getEnvAsFloat("TRADING_ENGINE_SIGNAL_GENERATOR_SCORE_DETERIORATION_THRESHOLD", 20.0),
			TakeProfitUseTechnical:      getEnvAsBool("TRADING_ENGINE_SIGNAL_GENERATOR_TAKE_PROFIT_USE_TECHNICAL", true),

			WatchlistSize: getEnvAsInt("TRADING_ENGINE_SIGNAL_GENERATOR_WATCHLIST_SIZE", 50),
		},

		Validation: ValidationConfig{
			RequireRecentDataHours:    getEnvAsInt("TRADING_ENGINE_SIGNAL_VALIDATOR_REQUIRE_RECENT_DATA_HOURS", 48),
			MinDataQualityScore:       getEnvAsFloat("TRADING_ENGINE_SIGNAL_VALIDATOR_MIN_DATA_QUALITY_SCORE", 75.0),
			MaxPositions:              getEnvAsInt("TRADING_ENGINE_SIGNAL_VALIDATOR_MAX_POSITIONS", 20),
			MaxConcentrationPct:       getEnvAsFloat("TRADING_ENGINE_SIGNAL_VALIDATOR_MAX_CONCENTRATION_PCT", 30.0),
			MaxSectorConcentrationPct: getEnvAsFloat("TRADING_ENGINE_SIGNAL_VALIDATOR_MAX_SECTOR_CONCENTRATION_PCT", 40.0),
		},

		Execution: ExecutionConfig{
			Mode:                     getEnv("TRADING_ENGINE_EXECUTION_MODE", "paper"),
			SlippageBaseBps:          getEnvAsFloat("TRADING_ENGINE_EXECUTION_SLIPPAGE_BASE_BPS", 2.0),
			SlippageVolumeFactor:     getEnvAsFloat("TRADING_ENGINE_EXECUTION_SLIPPAGE_VOLUME_FACTOR", 10.0),
			SlippageVolatilityFactor: getEnvAsFloat("TRADING_ENGINE_EXECUTION_SLIPPAGE_VOLATILITY_FACTOR", 5.0),
			SlippageSeed:             int64(getEnvAsInt("TRADING_ENGINE_EXECUTION_SLIPPAGE_SEED", 0)),
			CommissionRatePct:        getEnvAsFloat("TRADING_ENGINE_EXECUTION_COMMISSION_RATE_PCT", 0.015),
		},

		Risk: RiskConfig{
			InitialCapital:       getEnvAsFloat("RISK_MANAGER_RISK_PARAMETERS_INITIAL_CAPITAL", 10_000_000),
			MaxTotalLossPct:      getEnvAsFloat("RISK_MANAGER_RISK_PARAMETERS_MAX_TOTAL_LOSS", 28.0),
			MaxDrawdownPct:       getEnvAsFloat("RISK_MANAGER_RISK_PARAMETERS_MAX_DRAWDOWN_PCT", 20.0),
			TrailingDistancePct:  getEnvAsFloat("RISK_MANAGER_RISK_PARAMETERS_TRAILING_DISTANCE_PCT", 10.0),
			RiskCheckInterval:    getEnvAsDuration("RISK_MANAGER_MONITORING_RISK_CHECK_INTERVAL", "30m"),
			MonitorInterval:      getEnvAsDuration("RISK_MANAGER_MONITORING_POSITION_MONITOR_INTERVAL", "15m"),
			HaltStalenessBound:   getEnvAsDuration("RISK_MANAGER_MONITORING_HALT_STALENESS_BOUND", "5s"),
			MonitorParallelism:   getEnvAsInt("RISK_MANAGER_MONITORING_PARALLELISM", 10),
			SignificantChangePct: getEnvAsFloat("RISK_MANAGER_MONITORING_SIGNIFICANT_CHANGE_PCT", 5.0),
		},

		Scheduler: SchedulerConfig{
			GracePeriod:      getEnvAsDuration("ORCHESTRATOR_SCHEDULER_GRACE_PERIOD", "5m"),
			ShutdownDeadline: getEnvAsDuration("ORCHESTRATOR_SCHEDULER_SHUTDOWN_DEADLINE", "60s"),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
// 설정 오류는 치명적: 서비스가 기동을 거부한다 (exit code 1).
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	// Conviction 가중치 합 검증 (1.0 ± 1e-6)
	sum := c.Signals.WeightValue + c.Signals.WeightMomentum + c.Signals.WeightVolume + c.Signals.WeightQuality
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("conviction weights must sum to 1.0, got %.6f", sum)
	}

	switch c.Signals.SizingMethod {
	case "fixed_percent", "fixed_risk", "volatility_adjusted", "kelly_full", "kelly_half", "kelly_quarter":
	default:
		return fmt.Errorf("unknown sizing method %q", c.Signals.SizingMethod)
	}

	if c.Signals.StopLossPct <= 0 || c.Signals.StopLossPct >= 100 {
		return fmt.Errorf("stop loss pct must be in (0, 100), got %.2f", c.Signals.StopLossPct)
	}
	if c.Signals.TakeProfitPct <= 0 {
		return fmt.Errorf("take profit pct must be positive, got %.2f", c.Signals.TakeProfitPct)
	}
	if c.Signals.MaxPositionSizePct <= 0 || c.Signals.MaxPositionSizePct > 100 {
		return fmt.Errorf("max position size pct must be in (0, 100], got %.2f", c.Signals.MaxPositionSizePct)
	}

	if c.Risk.MaxTotalLossPct <= 0 || c.Risk.MaxTotalLossPct >= 100 {
		return fmt.Errorf("max total loss pct must be in (0, 100), got %.2f", c.Risk.MaxTotalLossPct)
	}
	if c.Risk.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}

	if c.Validation.MaxPositions <= 0 {
		return fmt.Errorf("max positions must be positive")
	}
	if c.Validation.MaxConcentrationPct > c.Validation.MaxSectorConcentrationPct {
		return fmt.Errorf("per-position concentration (%.1f%%) cannot exceed sector concentration (%.1f%%)",
			c.Validation.MaxConcentrationPct, c.Validation.MaxSectorConcentrationPct)
	}

	if c.Execution.Mode != "paper" && c.Execution.Mode != "live" {
		return fmt.Errorf("execution mode must be paper or live, got %q", c.Execution.Mode)
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
