package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/n0roo/session-etl/internal/dags"
	"github.com/n0roo/session-etl/internal/pipeline"
)

var (
	nextCount int
)

var dagsCmd = &cobra.Command{
	Use:   "dags",
	Short: "DAG 목록",
	Long:  `설정된 DAG과 스케줄, 다음 실행 시각을 출력합니다.`,
	Args:  cobra.NoArgs,
	RunE:  runDags,
}

var planCmd = &cobra.Command{
	Use:   "plan <dag>",
	Short: "실행 계획 (위상 정렬 레벨)",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

var renderCmd = &cobra.Command{
	Use:   "render <dag>",
	Short: "DAG이 실행할 SQL 출력",
	Long:  `DAG의 연결에 설정된 dialect 기준으로 태스크별 SQL을 출력합니다. 연결은 열지 않습니다.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRender,
}

var nextCmd = &cobra.Command{
	Use:   "next <dag>",
	Short: "다음 실행 시각",
	Args:  cobra.ExactArgs(1),
	RunE:  runNext,
}

func init() {
	rootCmd.AddCommand(dagsCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(nextCmd)

	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "출력할 개수")
}

// dagInfo is the JSON shape of a DAG
type dagInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Schedule    string    `json:"schedule"`
	StartDate   time.Time `json:"start_date"`
	Catchup     bool      `json:"catchup"`
	Tags        []string  `json:"tags"`
	Connection  string    `json:"connection"`
	Retries     int       `json:"retries"`
	Tasks       []string  `json:"tasks"`
	NextRun     time.Time `json:"next_run"`
}

func describeDAG(d *dags.DAG, now time.Time) dagInfo {
	info := dagInfo{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Schedule:    d.Schedule.String(),
		StartDate:   d.StartDate,
		Catchup:     d.Catchup,
		Tags:        d.Tags,
		Connection:  d.Connection,
		Retries:     d.Retry.Retries,
		Tasks:       d.Graph.Order(),
	}
	if next := d.NextRuns(now, 1); len(next) > 0 {
		info.NextRun = next[0]
	}
	return info
}

func runDags(cmd *cobra.Command, args []string) error {
	env, err := loadDAGs()
	if err != nil {
		return err
	}
	defer env.close()

	now := time.Now().UTC()
	infos := lo.Map(env.all, func(d *dags.DAG, _ int) dagInfo { return describeDAG(d, now) })

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"dags": infos,
		})
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Schedule", "Tags", "Catchup", "Connection", "Next run"})
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	for _, info := range infos {
		next := "-"
		if !info.NextRun.IsZero() {
			next = info.NextRun.Format(time.RFC3339)
		}
		table.Append([]string{
			info.ID,
			info.Name,
			info.Schedule,
			strings.Join(info.Tags, ","),
			fmt.Sprintf("%t", info.Catchup),
			info.Connection,
			next,
		})
	}
	table.Render()
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	env, err := loadDAGs()
	if err != nil {
		return err
	}
	defer env.close()

	d, err := env.find(args[0])
	if err != nil {
		return err
	}

	plan := pipeline.BuildExecutionPlan(d.Graph)

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(plan)
		return nil
	}

	fmt.Printf("📋 Execution Plan: %s (%s)\n", d.ID, d.Name)
	fmt.Printf("   Total tasks: %d\n", plan.TotalTasks)
	fmt.Println()

	for _, group := range plan.Groups {
		parallel := ""
		if len(group.Tasks) > 1 {
			parallel = " (병렬 가능)"
		}
		fmt.Printf("Level %d%s:\n", group.Order, parallel)

		for _, t := range group.Tasks {
			deps := ""
			if len(t.Dependencies) > 0 {
				deps = fmt.Sprintf(" ← %s", strings.Join(t.Dependencies, ", "))
			}
			fmt.Printf("  ⏳ %s%s\n", t.TaskID, deps)
		}
		fmt.Println()
	}

	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	env, err := loadDAGs()
	if err != nil {
		return err
	}
	defer env.close()

	d, err := env.find(args[0])
	if err != nil {
		return err
	}

	dialect, err := env.reg.Dialect(d.Connection)
	if err != nil {
		return err
	}

	order := d.Graph.Order()
	rendered := make(map[string][]string, len(order))
	for _, taskID := range order {
		stmts, err := env.tasks.SQL(taskID, dialect)
		if err != nil {
			return err
		}
		rendered[taskID] = stmts
	}

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"dag":     d.ID,
			"dialect": dialect.Name(),
			"order":   order,
			"sql":     rendered,
		})
		return nil
	}

	fmt.Printf("-- DAG: %s (%s), dialect: %s\n", d.ID, d.Name, dialect.Name())
	for _, taskID := range order {
		fmt.Printf("\n-- task: %s\n", taskID)
		for _, stmt := range rendered[taskID] {
			fmt.Printf("%s;\n", stmt)
		}
	}
	return nil
}

func runNext(cmd *cobra.Command, args []string) error {
	if nextCount < 1 {
		return fmt.Errorf("--count는 1 이상이어야 합니다")
	}

	env, err := loadDAGs()
	if err != nil {
		return err
	}
	defer env.close()

	d, err := env.find(args[0])
	if err != nil {
		return err
	}

	runs := d.NextRuns(time.Now().UTC(), nextCount)

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"dag":      d.ID,
			"schedule": d.Schedule.String(),
			"next":     runs,
		})
		return nil
	}

	fmt.Printf("⏰ %s (%s)\n", d.ID, d.Schedule)
	for _, t := range runs {
		fmt.Printf("  %s\n", t.Format(time.RFC3339))
	}
	return nil
}
