package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/kquant/internal/api"
	"github.com/wonny/kquant/internal/api/handlers"
	"github.com/wonny/kquant/internal/scheduler"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

Endpoints:
  GET  /health                                        - Health check (db/redis)
  GET  /metrics                                       - Prometheus 메트릭
  POST /api/portfolio/{user}/monitor                  - 포지션 감시 + 청산 실행
  PUT  /api/portfolio/{user}/positions/{ticker}/limits - 손절/익절/트레일링 설정
  GET  /api/portfolio/{user}/is-trading-allowed       - 서킷 브레이커 상태
  POST /api/portfolio/{user}/resume-trading           - 거래 재개 (운영자)
  POST /api/position-size/calculate                   - 포지션 사이징 계산
  POST /api/trading/{user}/signals                    - 신호 생성 (dry-run)
  POST /api/trading/{user}/cycle                      - 트레이딩 사이클 실행
  GET  /api/scheduler/jobs                            - 작업 실행 통계

Example:
  go run ./cmd/kquant api
  go run ./cmd/kquant api --port 8090 --with-scheduler`,
	RunE: runAPIServer,
}

var (
	apiPort          string
	apiWithScheduler bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT 환경변수)")
	apiCmd.Flags().BoolVar(&apiWithScheduler, "with-scheduler", false, "스케줄러를 같은 프로세스에서 실행")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	if apiPort != "" {
		app.cfg.Port = apiPort
	}

	var sched *scheduler.Scheduler
	if apiWithScheduler {
		sched, err = app.buildScheduler()
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	h := api.Handlers{
		Health:    handlers.NewHealthHandler(api.Version, app.db, app.redis, app.log),
		Portfolio: handlers.NewPortfolioHandler(app.engine, app.riskEngine, app.store, app.log),
		Trading:   handlers.NewTradingHandler(app.engine, app.log),
		Sizing:    handlers.NewSizingHandler(app.sizer, app.log),
		Scheduler: handlers.NewSchedulerHandler(sched, app.log),
	}
	server := api.New(app.cfg, app.log, api.NewRouter(h, app.metrics, app.log))

	go func() {
		if err := server.Start(); err != nil {
			app.log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("✅ Server running on http://localhost:%s\n", app.cfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return runtimeError(fmt.Errorf("server shutdown failed: %w", err))
	}
	return nil
}
