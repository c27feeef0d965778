package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/n0roo/session-etl/internal/config"
	"github.com/n0roo/session-etl/internal/dags"
	"github.com/n0roo/session-etl/internal/db"
	"github.com/n0roo/session-etl/internal/etl"
	"github.com/n0roo/session-etl/internal/lock"
	"github.com/n0roo/session-etl/internal/logging"
	"github.com/n0roo/session-etl/internal/pipeline"
	"github.com/n0roo/session-etl/internal/warehouse"
)

var (
	configPath string
	verbose    bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "setl",
	Short: "세션 데이터 ETL/ELT 파이프라인",
	Long: `setl - 세션 데이터 ETL/ELT 파이프라인

외부 스케줄러가 호출하는 배치 실행기입니다.

DAG:
  - ingest:    스테이지/원본 테이블 생성 후 CSV 적재 (ETL)
  - summarize: 요약 테이블 생성 후 증분 적재 (ELT)

실행 이력과 슬롯 Lock은 로컬 SQLite에 기록됩니다.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "설정 파일 경로 (기본: .setl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "상세 출력")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "JSON 출력")
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if v := os.Getenv("SETL_CONFIG"); v != "" {
		return v
	}
	return config.ConfigPath(config.FindProjectRoot())
}

// IsVerbose returns verbose flag
func IsVerbose() bool {
	return verbose
}

// IsJSON returns json output flag
func IsJSON() bool {
	return jsonOut
}

// app holds the loaded project
type app struct {
	root string
	cfg  *config.Config
	log  *zap.Logger
}

// loadApp loads config and builds the logger
func loadApp() (*app, error) {
	path := GetConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	// .setl/config.yaml 기준 프로젝트 루트
	root, err := filepath.Abs(filepath.Dir(filepath.Dir(path)))
	if err != nil {
		return nil, fmt.Errorf("프로젝트 경로 확인 실패: %w", err)
	}

	return &app{root: root, cfg: cfg, log: log}, nil
}

// close flushes the logger
func (a *app) close() {
	_ = a.log.Sync()
}

// historyPath returns the run history database path
func (a *app) historyPath() string {
	return config.ResolvePath(a.root, a.cfg.History.Path)
}

// openHistory opens the run history database
func (a *app) openHistory() (*db.DB, error) {
	path := a.historyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("디렉토리 생성 실패: %w", err)
	}
	return db.Open(path)
}

// registry builds the warehouse connection registry
func (a *app) registry() *warehouse.Registry {
	return warehouse.NewRegistry(a.cfg.Connections, a.root, a.log)
}

// dagEnv is a loaded project with its DAGs declared
type dagEnv struct {
	*app
	reg   *warehouse.Registry
	tasks *etl.Tasks
	all   []*dags.DAG
}

// loadDAGs loads the app and declares every DAG against the registry
func loadDAGs() (*dagEnv, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}
	reg := a.registry()
	tasks := etl.New(reg, a.cfg.DAGs, a.log)
	all, err := dags.All(a.cfg.DAGs, tasks)
	if err != nil {
		reg.Close()
		a.close()
		return nil, err
	}
	return &dagEnv{app: a, reg: reg, tasks: tasks, all: all}, nil
}

// find looks a DAG up by id or name
func (e *dagEnv) find(key string) (*dags.DAG, error) {
	return dags.Find(e.all, key)
}

// close releases warehouse pools and flushes the logger
func (e *dagEnv) close() {
	if err := e.reg.Close(); err != nil {
		e.log.Warn("warehouse close failed", zap.Error(err))
	}
	e.app.close()
}

func getHistoryService() (*pipeline.Service, func(), error) {
	a, err := loadApp()
	if err != nil {
		return nil, nil, err
	}
	database, err := a.openHistory()
	if err != nil {
		a.close()
		return nil, nil, err
	}
	return pipeline.NewService(database), func() { database.Close(); a.close() }, nil
}

func getLockService() (*lock.Service, func(), error) {
	a, err := loadApp()
	if err != nil {
		return nil, nil, err
	}
	database, err := a.openHistory()
	if err != nil {
		a.close()
		return nil, nil, err
	}
	return lock.NewService(database), func() { database.Close(); a.close() }, nil
}
