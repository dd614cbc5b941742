package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// schedulerCmd represents the scheduler command
var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "스케줄러 관리",
	Long: `스케줄러를 시작하거나 작업을 관리합니다.

등록되는 작업 (KST 기준):
- data_collection:  평일 16:00 (일봉 수집)
- watchlist_update: 평일 18:00 (후보 유니버스 갱신)
- trading_cycle:    평일 08:45 (청산 → 리스크 점검 → 진입)
- position_monitor: 평일 09-15시 15분 간격 (장중에만, 캘린더 게이트)
- risk_check:       30분 간격 (상시)

Example:
  go run ./cmd/kquant scheduler start
  go run ./cmd/kquant scheduler list
  go run ./cmd/kquant scheduler run risk_check
  go run ./cmd/kquant scheduler status`,
}

var (
	schedulerStartCmd = &cobra.Command{
		Use:   "start",
		Short: "스케줄러 시작",
		RunE:  runScheduler,
	}

	schedulerListCmd = &cobra.Command{
		Use:   "list",
		Short: "등록된 작업 목록",
		RunE:  listJobs,
	}

	schedulerRunCmd = &cobra.Command{
		Use:   "run [job_name]",
		Short: "특정 작업 즉시 실행",
		Args:  cobra.ExactArgs(1),
		RunE:  runJob,
	}

	schedulerStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "작업 실행 상태 조회",
		RunE:  showStatus,
	}
)

func init() {
	rootCmd.AddCommand(schedulerCmd)
	schedulerCmd.AddCommand(schedulerStartCmd)
	schedulerCmd.AddCommand(schedulerListCmd)
	schedulerCmd.AddCommand(schedulerRunCmd)
	schedulerCmd.AddCommand(schedulerStatusCmd)
}

func runScheduler(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	sched, err := app.buildScheduler()
	if err != nil {
		return err
	}
	sched.Start()

	fmt.Println("✅ Scheduler started")
	fmt.Println("\nRegistered jobs:")
	for _, jobName := range sched.GetAllJobs() {
		fmt.Printf("  - %s\n", jobName)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down scheduler...")
	sched.Stop()
	fmt.Println("Scheduler stopped")
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	sched, err := app.buildScheduler()
	if err != nil {
		return err
	}

	fmt.Println("Registered jobs:")
	for jobName, stat := range sched.GetJobStats() {
		fmt.Printf("  - %-18s %s\n", jobName, stat.Schedule)
	}
	return nil
}

func runJob(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	sched, err := app.buildScheduler()
	if err != nil {
		return err
	}

	jobName := args[0]
	fmt.Printf("Running job: %s\n", jobName)
	if err := sched.RunJob(jobName); err != nil {
		return runtimeError(fmt.Errorf("run job: %w", err))
	}

	history, err := sched.GetJobHistory(jobName)
	if err != nil {
		return runtimeError(err)
	}
	if results := history.GetLatestResults(1); len(results) > 0 {
		r := results[0]
		if !r.Success {
			return runtimeError(fmt.Errorf("job %s failed: %s", jobName, r.Error))
		}
		fmt.Printf("Job completed in %s\n", r.Duration)
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	app, err := buildApp()
	if err != nil {
		return err
	}
	defer app.close()

	sched, err := app.buildScheduler()
	if err != nil {
		return err
	}

	fmt.Println("Job Statistics:")
	fmt.Println()
	for jobName, stat := range sched.GetJobStats() {
		fmt.Printf("📊 %s\n", jobName)
		fmt.Printf("   Schedule: %s\n", stat.Schedule)
		fmt.Printf("   Total Runs: %d\n", stat.TotalRuns)
		fmt.Printf("   Success: %d (%.1f%%)\n", stat.SuccessCount, stat.SuccessRate*100)
		fmt.Printf("   Failures: %d\n", stat.FailureCount)
		if stat.NextRun != nil {
			fmt.Printf("   Next Run: %s\n", stat.NextRun.Format("2006-01-02 15:04:05 MST"))
		}
		if stat.LastRun != nil {
			fmt.Printf("   Last Run: %s\n", stat.LastRun.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}
