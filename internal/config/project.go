package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConnectionType represents the warehouse driver behind a connection id
type ConnectionType string

const (
	ConnectionSnowflake ConnectionType = "snowflake"
	ConnectionDuckDB    ConnectionType = "duckdb"
)

// Config represents .setl/config.yaml
type Config struct {
	Version     string                `yaml:"version"`
	Log         LogConfig             `yaml:"log"`
	History     HistoryConfig         `yaml:"history"`
	Connections map[string]Connection `yaml:"connections"`
	DAGs        DAGsConfig            `yaml:"dags"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // console | json
}

// HistoryConfig holds the run history database settings
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Connection is a named warehouse credential reference
type Connection struct {
	Type ConnectionType `yaml:"type"`

	// snowflake
	Account      string        `yaml:"account,omitempty"`
	User         string        `yaml:"user,omitempty"`
	Password     string        `yaml:"password,omitempty"`
	Database     string        `yaml:"database,omitempty"`
	Schema       string        `yaml:"schema,omitempty"`
	Warehouse    string        `yaml:"warehouse,omitempty"`
	Role         string        `yaml:"role,omitempty"`
	LoginTimeout time.Duration `yaml:"login_timeout,omitempty"`

	// duckdb
	Path string `yaml:"path,omitempty"`
}

// DAGsConfig holds both pipeline definitions
type DAGsConfig struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	Summarize SummarizeConfig `yaml:"summarize"`
}

// ScheduleConfig holds the trigger settings shared by every DAG
type ScheduleConfig struct {
	Schedule   string        `yaml:"schedule"`
	StartDate  string        `yaml:"start_date"` // 2006-01-02
	Catchup    bool          `yaml:"catchup"`
	Tags       []string      `yaml:"tags"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// StageConfig describes the staging reference
type StageConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// IngestConfig configures the ETL pipeline
type IngestConfig struct {
	ScheduleConfig `yaml:",inline"`
	Connection     string            `yaml:"connection"`
	Namespace      string            `yaml:"namespace"`
	Stage          StageConfig       `yaml:"stage"`
	Files          map[string]string `yaml:"files"` // table -> staged file
}

// SummarizeConfig configures the ELT pipeline
type SummarizeConfig struct {
	ScheduleConfig `yaml:",inline"`
	Connection     string `yaml:"connection"`
	RawNamespace   string `yaml:"raw_namespace"`
	Namespace      string `yaml:"namespace"`
}

// DefaultConfig returns a default config mirroring the production deployment
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		History: HistoryConfig{
			Path: filepath.Join(DirName, "history.db"),
		},
		Connections: map[string]Connection{
			"snowflake_conn": {
				Type:      ConnectionSnowflake,
				Account:   "${SNOWFLAKE_ACCOUNT}",
				User:      "${SNOWFLAKE_USER}",
				Password:  "${SNOWFLAKE_PASSWORD}",
				Database:  "dev",
				Warehouse: "${SNOWFLAKE_WAREHOUSE}",
			},
			"local": {
				Type: ConnectionDuckDB,
				Path: filepath.Join(DirName, "warehouse.duckdb"),
			},
		},
		DAGs: DAGsConfig{
			Ingest: IngestConfig{
				ScheduleConfig: ScheduleConfig{
					Schedule:  "30 2 * * *",
					StartDate: "2024-10-02",
					Catchup:   false,
					Tags:      []string{"ETL"},
				},
				Connection: "snowflake_conn",
				Namespace:  "dev.raw_data",
				Stage: StageConfig{
					Name: "blob_stage",
					URL:  "s3://s3-geospatial/readonly/",
				},
				Files: map[string]string{
					"user_session_channel": "user_session_channel.csv",
					"session_timestamp":    "session_timestamp.csv",
				},
			},
			Summarize: SummarizeConfig{
				ScheduleConfig: ScheduleConfig{
					Schedule:  "@daily",
					StartDate: "2024-10-02",
					Catchup:   false,
					Tags:      []string{"ELT"},
				},
				Connection:   "snowflake_conn",
				RawNamespace: "dev.raw_data",
				Namespace:    "analytics",
			},
		},
	}
}

// Load loads config from path, expanding ${VAR} references.
// A .env file next to the config directory is loaded first; existing
// environment variables win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("설정 파일이 없습니다: %s ('setl init'으로 생성하세요)", path)
		}
		return nil, fmt.Errorf("설정 파일 읽기 실패: %w", err)
	}

	envPath := filepath.Join(filepath.Dir(filepath.Dir(path)), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf(".env 로드 실패: %w", err)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("설정 파일 파싱 실패: %w", err)
	}

	if v := os.Getenv("SETL_HISTORY_DB"); v != "" {
		cfg.History.Path = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envRef matches ${NAME}; a bare $ is literal
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the environment value
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// Save writes config to path. Values are written as-is, ${VAR} references stay unexpanded.
func Save(path string, cfg *Config) error {
	// 디렉토리 생성
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("디렉토리 생성 실패: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("설정 직렬화 실패: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("설정 파일 저장 실패: %w", err)
	}
	return nil
}

// Validate checks connection references and required DAG fields
func (c *Config) Validate() error {
	var problems []string

	// DAG이 참조하는 연결만 자격 증명을 요구
	referenced := map[string]bool{
		c.DAGs.Ingest.Connection:    true,
		c.DAGs.Summarize.Connection: true,
	}

	for id, conn := range c.Connections {
		switch conn.Type {
		case ConnectionSnowflake:
			if conn.Account == "" && referenced[id] {
				problems = append(problems, fmt.Sprintf("connections.%s: account 필요", id))
			}
		case ConnectionDuckDB:
		default:
			problems = append(problems, fmt.Sprintf("connections.%s: 알 수 없는 type %q", id, conn.Type))
		}
	}

	ing := c.DAGs.Ingest
	if _, ok := c.Connections[ing.Connection]; !ok {
		problems = append(problems, fmt.Sprintf("dags.ingest: 연결 %q 없음", ing.Connection))
	}
	if ing.Namespace == "" {
		problems = append(problems, "dags.ingest: namespace 필요")
	}
	if ing.Stage.Name == "" || ing.Stage.URL == "" {
		problems = append(problems, "dags.ingest: stage.name, stage.url 필요")
	}

	sum := c.DAGs.Summarize
	if _, ok := c.Connections[sum.Connection]; !ok {
		problems = append(problems, fmt.Sprintf("dags.summarize: 연결 %q 없음", sum.Connection))
	}
	if sum.RawNamespace == "" || sum.Namespace == "" {
		problems = append(problems, "dags.summarize: raw_namespace, namespace 필요")
	}

	schedules := []struct {
		name string
		sc   ScheduleConfig
	}{
		{"ingest", ing.ScheduleConfig},
		{"summarize", sum.ScheduleConfig},
	}
	for _, s := range schedules {
		name, sc := s.name, s.sc
		if sc.Schedule == "" {
			problems = append(problems, fmt.Sprintf("dags.%s: schedule 필요", name))
		}
		if _, err := sc.Start(); err != nil {
			problems = append(problems, fmt.Sprintf("dags.%s: start_date 형식 오류: %v", name, err))
		}
		if sc.Retries < 0 {
			problems = append(problems, fmt.Sprintf("dags.%s: retries는 0 이상", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("설정 검증 실패:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Start parses start_date (UTC midnight)
func (s ScheduleConfig) Start() (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s.StartDate, time.UTC)
}
