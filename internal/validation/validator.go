package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"riskoracle/internal/errors"
	"riskoracle/internal/scheduler"
	"riskoracle/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Validator 数据验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下告警视为错误
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                  `json:"valid"`
	Errors   []*errors.OracleError `json:"errors,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
	DataType string                `json:"data_type"`
}

// Err 合并为单个错误，有效时返回nil
func (r *ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

var chainIDPattern = regexp.MustCompile(`^[0-9]+$`)

// 已知风险等级，其余等级只产生告警
var knownRiskLevels = map[string]bool{
	"Low":                   true,
	"Medium":                true,
	"High":                  true,
	"Critical":              true,
	models.RiskLevelUnknown: true,
	models.RiskLevelError:   true,
}

// NewValidator 创建数据验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.AddRule(NewAddressValidationRule())
	v.AddRule(NewChainIDValidationRule())
	v.AddRule(NewScheduleValidationRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

func (v *Validator) apply(name string, data interface{}, result *ValidationResult) {
	rule, exists := v.rules[name]
	if !exists {
		return
	}
	if err := rule.Validate(data); err != nil {
		result.Valid = false
		if oracleErr, ok := err.(*errors.OracleError); ok {
			result.Errors = append(result.Errors, oracleErr)
		} else {
			result.Errors = append(result.Errors, errors.WrapError(err,
				errors.ErrorTypeValidation, errors.SeverityMedium,
				"RULE_VALIDATION_FAILED", fmt.Sprintf("%s规则验证失败", name)))
		}
	}
}

// ValidateConfig 验证审计工作流配置
func (v *Validator) ValidateConfig(cfg models.AuditConfig) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		DataType: "audit_config",
		Errors:   make([]*errors.OracleError, 0),
		Warnings: make([]string, 0),
	}

	v.apply("address", cfg.ContractAddress, result)
	v.apply("chain_id", cfg.ChainID, result)
	v.apply("schedule", cfg.Schedule, result)

	if cfg.ContractAddress != "" && strings.ToLower(cfg.ContractAddress) != cfg.ContractAddress &&
		common.HexToAddress(cfg.ContractAddress).Hex() != cfg.ContractAddress {
		result.Warnings = append(result.Warnings, "合约地址大小写与校验和不一致")
	}

	v.finish(result)
	return result
}

// ValidateResult 验证审计结果的字段完整性
func (v *Validator) ValidateResult(res *models.AuditResult) *ValidationResult {
	if res == nil {
		return &ValidationResult{
			Valid:    false,
			Errors:   []*errors.OracleError{errors.ErrDataValidation.Newf("审计结果为空")},
			DataType: "audit_result",
		}
	}

	result := &ValidationResult{
		Valid:    true,
		DataType: "audit_result",
		Errors:   make([]*errors.OracleError, 0),
		Warnings: make([]string, 0),
	}

	required := map[string]string{
		"risk_level":       res.RiskLevel,
		"auditor":          res.Auditor,
		"contract_address": res.ContractAddress,
		"chain_id":         res.ChainID,
		"timestamp":        res.Timestamp,
	}
	for _, key := range models.AuditResultKeys {
		value, checked := required[key]
		if checked && value == "" {
			result.Valid = false
			result.Errors = append(result.Errors,
				errors.ErrDataValidation.Newf("字段 %s 为空", key).WithContext("field", key))
		}
	}

	if res.Timestamp != "" {
		if _, err := time.Parse(models.TimestampLayout, res.Timestamp); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors,
				errors.ErrDataValidation.Newf("时间戳格式无效: %s", res.Timestamp).WithContext("field", "timestamp"))
		}
	}

	if res.RiskLevel != "" && !knownRiskLevels[res.RiskLevel] {
		result.Warnings = append(result.Warnings, fmt.Sprintf("非常规的风险等级: %s", res.RiskLevel))
	}

	v.finish(result)
	return result
}

func (v *Validator) finish(result *ValidationResult) {
	if v.strictMode && len(result.Warnings) > 0 {
		result.Valid = false
		for _, w := range result.Warnings {
			result.Errors = append(result.Errors, errors.ErrDataValidation.Newf("%s", w))
		}
	}
	if len(result.Warnings) > 0 {
		v.logger.WithField("data_type", result.DataType).Debugf("验证告警: %v", result.Warnings)
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
}

// ValidateAuditConfig 不依赖日志器的配置校验
func ValidateAuditConfig(cfg models.AuditConfig) error {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewValidator(logger, false).ValidateConfig(cfg).Err()
}

// IsValidAddress 验证地址格式
func IsValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊合约地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !IsValidAddress(addr) {
		return errors.NewOracleError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_ADDRESS_FORMAT", fmt.Sprintf("合约地址格式无效: %q", addr))
	}

	return nil
}

// ChainIDValidationRule 链ID验证规则
type ChainIDValidationRule struct{}

func NewChainIDValidationRule() *ChainIDValidationRule {
	return &ChainIDValidationRule{}
}

func (r *ChainIDValidationRule) Name() string {
	return "chain_id"
}

func (r *ChainIDValidationRule) Description() string {
	return "Etherscan V2 链ID验证规则"
}

func (r *ChainIDValidationRule) Validate(data interface{}) error {
	chainID, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !chainIDPattern.MatchString(chainID) {
		return errors.NewOracleError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_CHAIN_ID", fmt.Sprintf("链ID必须为十进制数字: %q", chainID))
	}

	return nil
}

// ScheduleValidationRule 调度表达式验证规则
type ScheduleValidationRule struct{}

func NewScheduleValidationRule() *ScheduleValidationRule {
	return &ScheduleValidationRule{}
}

func (r *ScheduleValidationRule) Name() string {
	return "schedule"
}

func (r *ScheduleValidationRule) Description() string {
	return "cron调度表达式验证规则"
}

func (r *ScheduleValidationRule) Validate(data interface{}) error {
	spec, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if err := scheduler.Validate(spec); err != nil {
		return errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_SCHEDULE", fmt.Sprintf("调度表达式无效: %q", spec))
	}

	return nil
}
