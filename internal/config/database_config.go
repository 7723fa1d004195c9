package config

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// WorkflowRow audit_workflows 表中的一行
type WorkflowRow struct {
	Name            string
	Schedule        string
	ContractAddress string
	ChainID         string
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return NewDatabaseConfigFromDB(db, logger), nil
}

// NewDatabaseConfigFromDB 基于已有连接创建配置管理器
func NewDatabaseConfigFromDB(db *sql.DB, logger *logrus.Logger) *DatabaseConfig {
	if logger == nil {
		logger = logrus.New()
	}
	return &DatabaseConfig{DB: db, logger: logger}
}

// Overlay 用数据库中的工作流与输出配置覆盖 config
func (dc *DatabaseConfig) Overlay(config *Config) error {
	workflows, err := dc.LoadWorkflows()
	if err != nil {
		return fmt.Errorf("加载工作流配置失败: %w", err)
	}
	if len(workflows) > 0 {
		// 只取优先级最高的一条
		w := workflows[0]
		if config.Workflow == nil {
			config.Workflow = &WorkflowConfig{}
		}
		if w.Schedule != "" {
			config.Workflow.Schedule = w.Schedule
		}
		config.Workflow.ContractAddress = w.ContractAddress
		if w.ChainID != "" {
			config.Workflow.ChainID = w.ChainID
		}
		dc.logger.WithFields(logrus.Fields{
			"workflow":         w.Name,
			"contract_address": w.ContractAddress,
			"chain_id":         w.ChainID,
		}).Debug("使用数据库工作流")
	}

	if config.Output == nil {
		config.Output = &OutputConfig{}
	}
	if err := dc.loadOutputConfig(config.Output); err != nil {
		return fmt.Errorf("加载输出配置失败: %w", err)
	}

	return nil
}

// LoadWorkflows 加载启用的工作流，按优先级排序
func (dc *DatabaseConfig) LoadWorkflows() ([]WorkflowRow, error) {
	query := `SELECT name, schedule, contract_address, chain_id FROM audit_workflows WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []WorkflowRow
	for rows.Next() {
		var w WorkflowRow
		if err := rows.Scan(&w.Name, &w.Schedule, &w.ContractAddress, &w.ChainID); err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}

	return workflows, rows.Err()
}

// loadOutputConfig 加载输出配置
func (dc *DatabaseConfig) loadOutputConfig(config *OutputConfig) error {
	query := `SELECT config_key, config_value FROM output_config WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}

		switch key {
		case "format":
			config.Format = value
		case "directory":
			config.Directory = value
		case "kafka_brokers":
			var brokers []string
			if err := json.Unmarshal([]byte(value), &brokers); err == nil {
				if config.Kafka == nil {
					config.Kafka = &KafkaConfig{}
				}
				config.Kafka.Brokers = brokers
			}
		case "kafka_topic":
			if config.Kafka == nil {
				config.Kafka = &KafkaConfig{}
			}
			config.Kafka.Topic = value
		default:
			dc.logger.WithField("config_key", key).Warn("忽略未知的输出配置项")
		}
	}

	return rows.Err()
}

// UpdateWorkflow 新增或更新工作流
func (dc *DatabaseConfig) UpdateWorkflow(w WorkflowRow, priority int) error {
	query := `
		INSERT INTO audit_workflows (name, schedule, contract_address, chain_id, priority, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, true, CURRENT_TIMESTAMP)
		ON CONFLICT (name)
		DO UPDATE SET schedule = $2, contract_address = $3, chain_id = $4, priority = $5, updated_at = CURRENT_TIMESTAMP
	`
	_, err := dc.DB.Exec(query, w.Name, w.Schedule, w.ContractAddress, w.ChainID, priority)
	return err
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
