package cli

import (
	"github.com/spf13/cobra"

	"github.com/n0roo/session-etl/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "대시보드 TUI 실행",
	Long:  `실행 이력, DAG 스케줄, 슬롯 Lock을 보여주는 터미널 대시보드를 실행합니다.`,
	Args:  cobra.NoArgs,
	RunE:  runTui,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTui(cmd *cobra.Command, args []string) error {
	env, err := loadDAGs()
	if err != nil {
		return err
	}
	defer env.close()

	// 대시보드가 스키마를 갖춘 DB를 열도록 먼저 초기화
	database, err := env.openHistory()
	if err != nil {
		return err
	}
	database.Close()

	return tui.Run(env.historyPath(), env.all)
}
