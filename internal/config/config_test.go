package config

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskoracle/internal/analysis"
	"riskoracle/internal/pipeline"
	"riskoracle/internal/scheduler"
)

const testAddress = "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config)
	assert.NotNil(t, config.Workflow)
	assert.NotNil(t, config.Explorer)
	assert.NotNil(t, config.LLM)
	assert.NotNil(t, config.Output)
	assert.NotNil(t, config.History)
	assert.NotNil(t, config.Logging)

	assert.Equal(t, scheduler.DefaultSchedule, config.Workflow.Schedule)
	assert.Empty(t, config.Workflow.ContractAddress)
	assert.Equal(t, "11155111", config.Workflow.ChainID)

	assert.Equal(t, "Etherscan", config.Explorer.Provider)
	assert.Equal(t, "DeepSeek", config.LLM.Provider)
	assert.Equal(t, analysis.DefaultModel, config.LLM.Model)
	assert.Equal(t, analysis.DefaultMaxTokens, config.LLM.MaxTokens)
	assert.Equal(t, analysis.DefaultSystemPrompt, config.LLM.SystemPrompt)
	assert.Equal(t, pipeline.DefaultAuditor, config.Auditor)

	assert.Equal(t, "file", config.Output.Format)
	assert.Equal(t, []string{".env"}, config.Secrets.EnvFiles)

	// 缺少合约地址时默认配置不可直接使用
	assert.Error(t, config.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
workflow:
  schedule: "0 */10 * * * *"
  contract_address: "`+testAddress+`"
  etherscan_chain_id: "1"
llm:
  max_tokens: 512
output:
  format: kafka
  kafka:
    brokers: ["kafka-1:9092", "kafka-2:9092"]
    topic: audits
history:
  keep: 5
`)

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0 */10 * * * *", config.Workflow.Schedule)
	assert.Equal(t, testAddress, config.Workflow.ContractAddress)
	assert.Equal(t, "1", config.Workflow.ChainID)
	assert.Equal(t, 512, config.LLM.MaxTokens)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, config.Output.Kafka.Brokers)
	assert.Equal(t, "audits", config.Output.Kafka.Topic)
	assert.Equal(t, 5, config.History.Keep)

	// 未出现在文件中的键保留缺省值
	assert.Equal(t, "DeepSeek", config.LLM.Provider)
	assert.Equal(t, analysis.DefaultModel, config.LLM.Model)
	assert.Equal(t, "https://api.etherscan.io", config.Explorer.BaseURL)

	assert.NoError(t, config.Validate())
}

func TestLoadConfigFromFile_EnvOverride(t *testing.T) {
	t.Setenv("RISKORACLE_WORKFLOW_CONTRACT_ADDRESS", testAddress)
	t.Setenv("RISKORACLE_WORKFLOW_ETHERSCAN_CHAIN_ID", "8453")
	t.Setenv("RISKORACLE_AUDITOR", "Test Network")

	config, err := LoadConfigFromFile("")
	require.NoError(t, err)

	assert.Equal(t, testAddress, config.Workflow.ContractAddress)
	assert.Equal(t, "8453", config.Workflow.ChainID)
	assert.Equal(t, "Test Network", config.Auditor)
	assert.NoError(t, config.Validate())
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_WithoutDatabase(t *testing.T) {
	t.Setenv("RISKORACLE_DB_DSN", "")
	path := writeConfig(t, "workflow:\n  contract_address: \""+testAddress+"\"\n")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, testAddress, config.Workflow.ContractAddress)
}

func TestConfigAccessors(t *testing.T) {
	config := GetDefaultConfig()
	config.Workflow.ContractAddress = testAddress

	audit := config.AuditConfig()
	assert.Equal(t, testAddress, audit.ContractAddress)
	assert.Equal(t, "11155111", audit.ChainID)
	assert.Equal(t, scheduler.DefaultSchedule, audit.Schedule)

	assert.Equal(t, "Etherscan", config.ExplorerStep().Provider)
	assert.Equal(t, 1024, config.AnalysisStep().MaxTokens)

	assert.Equal(t, 2*time.Minute, config.RunTimeout())
	assert.Equal(t, 20*time.Second, config.ExplorerTimeout())
	assert.Equal(t, 60*time.Second, config.LLMTimeout())

	config.LLM.Timeout = ""
	assert.Equal(t, 60*time.Second, config.LLMTimeout())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "valid", mutate: func(c *Config) {}, valid: true},
		{name: "bad address", mutate: func(c *Config) { c.Workflow.ContractAddress = "0x1234" }},
		{name: "bad chain id", mutate: func(c *Config) { c.Workflow.ChainID = "mainnet" }},
		{name: "bad schedule", mutate: func(c *Config) { c.Workflow.Schedule = "sometimes" }},
		{name: "bad run timeout", mutate: func(c *Config) { c.Workflow.RunTimeout = "soon" }},
		{name: "empty explorer url", mutate: func(c *Config) { c.Explorer.BaseURL = "" }},
		{name: "empty llm url", mutate: func(c *Config) { c.LLM.BaseURL = "" }},
		{name: "negative max tokens", mutate: func(c *Config) { c.LLM.MaxTokens = -1 }},
		{name: "unknown output", mutate: func(c *Config) { c.Output.Format = "parquet" }},
		{name: "kafka without brokers", mutate: func(c *Config) {
			c.Output.Format = "kafka"
			c.Output.Kafka.Brokers = nil
		}},
		{name: "kafka without topic", mutate: func(c *Config) {
			c.Output.Format = "both"
			c.Output.Kafka.Topic = ""
		}},
		{name: "kafka", mutate: func(c *Config) { c.Output.Format = "kafka" }, valid: true},
		{name: "no output", mutate: func(c *Config) { c.Output.Format = "none" }, valid: true},
		{name: "missing section", mutate: func(c *Config) { c.LLM = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := GetDefaultConfig()
			config.Workflow.ContractAddress = testAddress
			tt.mutate(config)

			err := config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDatabaseConfig_Overlay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT name, schedule, contract_address, chain_id FROM audit_workflows WHERE is_active = true ORDER BY priority`)).
		WillReturnRows(sqlmock.NewRows([]string{"name", "schedule", "contract_address", "chain_id"}).
			AddRow("uni-mainnet", "0 0 * * * *", testAddress, "1").
			AddRow("uni-sepolia", "", testAddress, "11155111"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT config_key, config_value FROM output_config WHERE is_active = true`)).
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "config_value"}).
			AddRow("format", "both").
			AddRow("kafka_brokers", `["broker:9092"]`).
			AddRow("kafka_topic", "audit_results").
			AddRow("compress", "true"))
	mock.ExpectClose()

	dc := NewDatabaseConfigFromDB(db, logrus.New())
	config := GetDefaultConfig()

	require.NoError(t, dc.Overlay(config))
	assert.Equal(t, "0 0 * * * *", config.Workflow.Schedule)
	assert.Equal(t, testAddress, config.Workflow.ContractAddress)
	assert.Equal(t, "1", config.Workflow.ChainID)
	assert.Equal(t, "both", config.Output.Format)
	assert.Equal(t, []string{"broker:9092"}, config.Output.Kafka.Brokers)
	assert.Equal(t, "audit_results", config.Output.Kafka.Topic)
	assert.NoError(t, config.Validate())

	require.NoError(t, dc.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseConfig_OverlayNoWorkflows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM audit_workflows").
		WillReturnRows(sqlmock.NewRows([]string{"name", "schedule", "contract_address", "chain_id"}))
	mock.ExpectQuery("FROM output_config").
		WillReturnRows(sqlmock.NewRows([]string{"config_key", "config_value"}))

	config := GetDefaultConfig()
	config.Workflow.ContractAddress = testAddress

	require.NoError(t, NewDatabaseConfigFromDB(db, nil).Overlay(config))
	assert.Equal(t, testAddress, config.Workflow.ContractAddress)
	assert.Equal(t, "file", config.Output.Format)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseConfig_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM audit_workflows").WillReturnError(assert.AnError)

	err = NewDatabaseConfigFromDB(db, nil).Overlay(GetDefaultConfig())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDatabaseConfig_UpdateWorkflow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_workflows").
		WithArgs("uni", scheduler.DefaultSchedule, testAddress, "1", int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	row := WorkflowRow{Name: "uni", Schedule: scheduler.DefaultSchedule, ContractAddress: testAddress, ChainID: "1"}
	require.NoError(t, NewDatabaseConfigFromDB(db, nil).UpdateWorkflow(row, 10))
	assert.NoError(t, mock.ExpectationsWereMet())
}
