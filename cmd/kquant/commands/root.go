package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/kquant/internal/marketdata"
)

// Exit codes
// 0 성공, 1 설정 오류, 2 런타임 오류, 3 데이터 없음/신선도 위반
const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
	exitNoData  = 3
)

var (
	// Global flags
	userFlag    string
	verboseFlag bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kquant",
	Short: "kquant - KRX 알고리즘 트레이딩 플랫폼",
	Long: `kquant Unified CLI

한국 주식(KOSPI/KOSDAQ/KONEX) 알고리즘 트레이딩 플랫폼.
점수 기반 신호 생성 → 검증 → 주문 실행 → 포지션 감시 → 서킷 브레이커.

Usage:
  go run ./cmd/kquant [command]

Examples:
  go run ./cmd/kquant api
  go run ./cmd/kquant scheduler start
  go run ./cmd/kquant signals
  go run ./cmd/kquant cycle`,
	SilenceUsage: true,
}

// exitError carries an explicit process exit code up to Execute
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error  { return &exitError{code: exitConfig, err: err} }
func runtimeError(err error) error { return &exitError{code: exitRuntime, err: err} }

// Execute runs the CLI and maps the error to a process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		if errors.Is(err, marketdata.ErrNotFound) || errors.Is(err, marketdata.ErrStaleData) {
			return exitNoData
		}
		return exitRuntime
	}
	return exitOK
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "운용 계정 ID (기본: 설정의 default user)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
}
