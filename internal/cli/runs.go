package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/n0roo/session-etl/internal/pipeline"
	"github.com/n0roo/session-etl/internal/tui"
)

var (
	runsDAG    string
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"history"},
	Short:   "실행 이력",
	Args:    cobra.NoArgs,
	RunE:    runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "실행 상세 (태스크 인스턴스)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "실행 이력 삭제",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	runsCmd.Flags().StringVar(&runsDAG, "dag", "", "DAG 필터")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "상태 필터 (running, complete, failed, cancelled)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "최대 개수")
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func styleStatus(status string) string {
	switch status {
	case pipeline.StatusComplete:
		return okStyle.Render(status)
	case pipeline.StatusFailed, pipeline.StatusCancelled:
		return failStyle.Render(status)
	default:
		return dimStyle.Render(status)
	}
}

func formatNullTime(t sql.NullTime) string {
	if !t.Valid {
		return "-"
	}
	return t.Time.UTC().Format(time.RFC3339)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := getHistoryService()
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := svc.ListRuns(runsDAG, runsStatus, runsLimit)
	if err != nil {
		return err
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"runs": runs,
		})
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("실행 이력이 없습니다.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Run", "DAG", "Slot", "Status", "Started", "Duration"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	for _, r := range runs {
		status := r.Status
		if r.DryRun {
			status += " (dry-run)"
		}
		duration := "-"
		if r.StartedAt.Valid && r.CompletedAt.Valid {
			duration = tui.FormatDuration(r.CompletedAt.Time.Sub(r.StartedAt.Time))
		}
		table.Append([]string{
			r.ID,
			r.DAGID,
			r.Slot.UTC().Format(time.RFC3339),
			status,
			formatNullTime(r.StartedAt),
			duration,
		})
	}
	table.Render()
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := getHistoryService()
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := svc.GetRun(args[0])
	if err != nil {
		return err
	}
	tasks, err := svc.GetTasks(run.ID)
	if err != nil {
		return err
	}
	completed, total, err := svc.GetProgress(run.ID)
	if err != nil {
		return err
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"run":       run,
			"tasks":     tasks,
			"completed": completed,
			"total":     total,
		})
		return nil
	}

	fmt.Printf("📦 Run: %s\n", run.ID)
	fmt.Printf("├─ DAG:      %s\n", run.DAGID)
	fmt.Printf("├─ Slot:     %s\n", run.Slot.UTC().Format(time.RFC3339))
	fmt.Printf("├─ Status:   %s\n", styleStatus(run.Status))
	if run.DryRun {
		fmt.Printf("├─ Dry run:  yes\n")
	}
	fmt.Printf("├─ Progress: %s %d/%d\n", tui.RenderProgressBar(float64(completed)/float64(max(total, 1)), 20), completed, total)
	if run.Error.Valid {
		fmt.Printf("├─ Error:    %s\n", failStyle.Render(run.Error.String))
	}
	fmt.Printf("└─ Created:  %s\n", run.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Println()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Task", "Status", "Attempts", "Rows", "Started", "Completed", "Output"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	for _, t := range tasks {
		out := t.Output.String
		if t.Error.Valid {
			out = t.Error.String
		}
		table.Append([]string{
			t.TaskID,
			t.Status,
			fmt.Sprintf("%d", t.Attempts),
			fmt.Sprintf("%d", t.Rows),
			formatNullTime(t.StartedAt),
			formatNullTime(t.CompletedAt),
			out,
		})
	}
	table.Render()
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := getHistoryService()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := svc.DeleteRun(args[0]); err != nil {
		return err
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"status": "deleted",
			"run":    args[0],
		})
	} else {
		fmt.Printf("✓ 실행 이력 삭제: %s\n", args[0])
	}
	return nil
}
