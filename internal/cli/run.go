package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/n0roo/session-etl/internal/dags"
	"github.com/n0roo/session-etl/internal/lock"
	"github.com/n0roo/session-etl/internal/pipeline"
	"github.com/n0roo/session-etl/internal/tui"
)

var (
	runSlot     string
	runDryRun   bool
	runTUI      bool
	runParallel bool
)

var runCmd = &cobra.Command{
	Use:   "run <dag>",
	Short: "DAG 실행",
	Long: `DAG을 한 번 실행합니다. 외부 스케줄러(cron, systemd timer 등)에서 호출합니다.

--slot을 주지 않으면 스케줄 기준으로 실행할 슬롯을 계산합니다.
  - catchup: false → 가장 최근 슬롯 (이미 완료된 경우 건너뜀)
  - catchup: true  → 마지막 완료 슬롯 이후의 모든 슬롯

같은 DAG의 같은 슬롯은 동시에 실행되지 않습니다 (슬롯 Lock).
실패 시 0이 아닌 코드로 종료합니다.

이미 적재한 스테이지 파일은 다시 적재하지 않습니다. 파일 내용을 제자리에서
바꾸면 새 파일로 보고 전체를 다시 적재하므로 기존 행과 기본 키가 충돌해
load_data가 실패합니다. 새 데이터는 새 파일 이름으로 올리세요.`,
	Example: `  setl run ingest
  setl run summarize --slot 2024-10-03T00:00:00Z
  setl run ingest --dry-run -v`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runSlot, "slot", "", "실행 슬롯 (RFC3339)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "태스크를 실행하지 않고 이력만 기록")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "실시간 진행 화면")
	runCmd.Flags().BoolVar(&runParallel, "parallel", false, "같은 레벨의 태스크 병렬 실행")
}

// taskView is the printable shape of a task result
type taskView struct {
	TaskID   string  `json:"task_id"`
	Status   string  `json:"status"`
	Output   string  `json:"output,omitempty"`
	Rows     int64   `json:"rows"`
	Attempts int     `json:"attempts"`
	Seconds  float64 `json:"seconds"`
	Error    string  `json:"error,omitempty"`
}

// runView is the printable shape of one slot execution
type runView struct {
	RunID  string     `json:"run_id,omitempty"`
	DAG    string     `json:"dag"`
	Slot   time.Time  `json:"slot"`
	Status string     `json:"status"`
	DryRun bool       `json:"dry_run"`
	Error  string     `json:"error,omitempty"`
	Tasks  []taskView `json:"tasks,omitempty"`
}

func newRunView(d *dags.DAG, slot time.Time, run *pipeline.Run, res *pipeline.RunResult, err error) runView {
	v := runView{DAG: d.ID, Slot: slot.UTC(), DryRun: runDryRun, Status: pipeline.StatusFailed}
	if run != nil {
		v.RunID = run.ID
		v.Status = run.Status
	}
	if err != nil {
		v.Error = err.Error()
	}
	if res == nil {
		return v
	}
	for _, t := range res.Tasks {
		tv := taskView{
			TaskID:   t.TaskID,
			Status:   t.Status,
			Output:   t.Output,
			Rows:     t.Rows,
			Attempts: t.Attempts,
			Seconds:  t.Duration.Seconds(),
		}
		if t.Error != nil {
			tv.Error = t.Error.Error()
		}
		v.Tasks = append(v.Tasks, tv)
	}
	return v
}

// resolveSlots returns the slots to run, either --slot or the due slots
func resolveSlots(d *dags.DAG, history *pipeline.Service, now time.Time) ([]time.Time, error) {
	if runSlot != "" {
		slot, err := time.Parse(time.RFC3339, runSlot)
		if err != nil {
			return nil, fmt.Errorf("--slot 형식 오류 (RFC3339 필요): %w", err)
		}
		return []time.Time{slot.UTC()}, nil
	}

	last, hasLast, err := history.LastCompleteSlot(d.ID)
	if err != nil {
		return nil, err
	}
	return d.DueSlots(now, last, hasLast), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	env, err := loadDAGs()
	if err != nil {
		return err
	}
	defer env.close()

	d, err := env.find(args[0])
	if err != nil {
		return err
	}

	database, err := env.openHistory()
	if err != nil {
		return err
	}
	defer database.Close()

	history := pipeline.NewService(database)
	locks := lock.NewService(database)

	slots, err := resolveSlots(d, history, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		if jsonOut {
			json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
				"dag":  d.ID,
				"runs": []runView{},
			})
		} else {
			fmt.Printf("⏭️  %s: 실행할 슬롯이 없습니다\n", d.ID)
		}
		return nil
	}

	// SIGINT/SIGTERM 시 실행 중인 태스크 취소
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var views []runView
	var runErr error
	for _, slot := range slots {
		runner := pipeline.NewRunner(history, locks, env.log).
			SetDryRun(runDryRun).
			SetVerbose(verbose && !runTUI && !jsonOut).
			SetParallel(runParallel)

		var (
			run *pipeline.Run
			res *pipeline.RunResult
		)
		if runTUI && !jsonOut {
			run, res, runErr = runWithProgress(ctx, runner, d, slot)
		} else {
			run, res, runErr = runner.Run(ctx, d.RunSpec(slot))
		}

		v := newRunView(d, slot, run, res, runErr)
		views = append(views, v)
		if !jsonOut {
			printRunView(v)
		}

		// 실패한 슬롯 이후는 실행하지 않음
		if runErr != nil || ctx.Err() != nil {
			break
		}
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"dag":  d.ID,
			"runs": views,
		})
	}
	return runErr
}

// runWithProgress runs one slot behind the live progress view
func runWithProgress(ctx context.Context, runner *pipeline.Runner, d *dags.DAG, slot time.Time) (*pipeline.Run, *pipeline.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		run    *pipeline.Run
		res    *pipeline.RunResult
		runErr error
	)
	m := tui.NewRunModel(d.ID, slot, d.Graph.Order(), cancel)
	err := tui.RunProgress(m, func(p *tui.Progress) {
		runner.SetStartCallback(p.Started).SetCallback(p.Finished)
		run, res, runErr = runner.Run(ctx, d.RunSpec(slot))
		p.Done(runErr)
	})
	if runErr != nil {
		return run, res, runErr
	}
	return run, res, err
}

func printRunView(v runView) {
	statusEmoji := map[string]string{
		pipeline.StatusComplete:  "✅",
		pipeline.StatusFailed:    "❌",
		pipeline.StatusCancelled: "🛑",
		pipeline.StatusSkipped:   "⏭️",
		pipeline.StatusRunning:   "🔄",
		pipeline.StatusPending:   "⏳",
	}

	dry := ""
	if v.DryRun {
		dry = " [dry-run]"
	}
	fmt.Printf("%s %s @ %s: %s%s\n", statusEmoji[v.Status], v.DAG, v.Slot.Format(time.RFC3339), v.Status, dry)
	if v.RunID != "" {
		fmt.Printf("   run: %s\n", v.RunID)
	}
	for _, t := range v.Tasks {
		fmt.Printf("   %s %-32s %.2fs", statusEmoji[t.Status], t.TaskID, t.Seconds)
		if t.Attempts > 1 {
			fmt.Printf(" (%d attempts)", t.Attempts)
		}
		fmt.Println()
		if t.Output != "" {
			fmt.Printf("      %s\n", t.Output)
		}
		if t.Error != "" {
			fmt.Printf("      ✗ %s\n", t.Error)
		}
	}
	if len(v.Tasks) == 0 && v.Error != "" {
		fmt.Printf("   ✗ %s\n", v.Error)
	}
}
