package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "포지션 감시 1회 실행",
	Long: `보유 포지션을 현재가로 평가하고 청산 조건(손절/트레일링/익절/점수 악화)에
걸린 포지션을 청산합니다. 스케줄러의 position_monitor 작업과 동일한 동작입니다.

Example:
  go run ./cmd/kquant monitor
  go run ./cmd/kquant monitor --user wonny`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()
	userID := app.userID()

	batch, err := app.engine.RunExits(ctx, userID)
	if err != nil {
		return fmt.Errorf("run exits: %w", err)
	}

	if batch.Total == 0 {
		fmt.Println("No exit conditions triggered")
		return nil
	}
	printBatch("Exits", batch)
	return nil
}
