package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/n0roo/session-etl/internal/config"
	"github.com/n0roo/session-etl/internal/db"
)

var (
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "프로젝트 초기화",
	Long: `setl 프로젝트를 초기화합니다.

생성되는 항목:
  - .setl/config.yaml  (연결, DAG 설정)
  - .setl/history.db   (실행 이력, 슬롯 Lock)

Snowflake 자격 증명은 ${VAR} 참조로 기록되며,
프로젝트 루트의 .env 또는 환경 변수에서 읽습니다.
`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "기존 설정 덮어쓰기")
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("현재 디렉토리 확인 실패: %w", err)
	}

	// 이미 초기화되었는지 확인
	if config.HasConfig(cwd) && !initForce {
		return fmt.Errorf("이미 초기화된 프로젝트입니다. --force 옵션으로 재초기화 가능")
	}

	cfg := config.DefaultConfig()
	path := config.ConfigPath(cwd)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	created := []string{path}

	historyPath := config.ResolvePath(cwd, cfg.History.Path)
	database, err := db.Open(historyPath)
	if err != nil {
		return fmt.Errorf("이력 DB 초기화 실패: %w", err)
	}
	database.Close()
	created = append(created, historyPath)

	if jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
			"status":  "initialized",
			"created": created,
		})
		return nil
	}

	fmt.Println("✓ setl 프로젝트 초기화 완료")
	for _, c := range created {
		fmt.Printf("  - %s\n", c)
	}
	fmt.Println()
	fmt.Println("다음 단계:")
	fmt.Println("  1. .env에 SNOWFLAKE_ACCOUNT, SNOWFLAKE_USER, SNOWFLAKE_PASSWORD, SNOWFLAKE_WAREHOUSE 설정")
	fmt.Println("     (또는 dags.*.connection을 local로 바꿔 DuckDB로 실행)")
	fmt.Println("  2. setl dags")
	fmt.Println("  3. setl run ingest --dry-run")
	return nil
}
