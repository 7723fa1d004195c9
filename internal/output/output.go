package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"riskoracle/internal/config"
	"riskoracle/internal/errors"
	"riskoracle/pkg/models"
)

// Record 一次运行的输出单元
type Record struct {
	RunID  string
	Path   string
	Digest string
	Result models.AuditResult
}

// Output 输出接口
type Output interface {
	WriteRecord(rec *Record) error
	Close() error
}

// NewOutput 按配置创建输出器
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	switch cfg.Format {
	case "none", "":
		return Discard{}, nil
	case "file":
		return NewFileOutput(cfg.Directory, logger)
	case "kafka":
		return NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	case "both":
		file, err := NewFileOutput(cfg.Directory, logger)
		if err != nil {
			return nil, err
		}
		kafka, err := NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			file.Close()
			return nil, err
		}
		return MultiOutput{file, kafka}, nil
	default:
		return nil, errors.ErrConfigInvalid.Newf("不支持的输出格式: %s", cfg.Format)
	}
}

// FileOutput 文件输出，每行一个审计结果
type FileOutput struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *logrus.Logger
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputDir string, logger *logrus.Logger) (*FileOutput, error) {
	// 确保输出目录存在
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.ErrOutputFailed.Wrap(fmt.Errorf("创建输出目录失败: %w", err))
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(outputDir, fmt.Sprintf("audit_results_%s.jsonl", timestamp))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.ErrOutputFailed.Wrap(fmt.Errorf("创建结果文件失败: %w", err))
	}

	logger.WithField("file", path).Info("结果文件已创建")
	return &FileOutput{path: path, file: file, logger: logger}, nil
}

// Path 当前结果文件路径
func (o *FileOutput) Path() string {
	return o.path
}

// WriteRecord 写入审计结果，保持固定键序
func (o *FileOutput) WriteRecord(rec *Record) error {
	if rec == nil {
		return nil
	}

	data, err := rec.Result.Marshal()
	if err != nil {
		return errors.ErrOutputFailed.Wrap(fmt.Errorf("序列化审计结果失败: %w", err))
	}
	// 添加换行符
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.file.Write(data); err != nil {
		return errors.ErrOutputFailed.Wrap(fmt.Errorf("写入结果文件失败: %w", err))
	}
	// 强制刷新到磁盘
	if err := o.file.Sync(); err != nil {
		return errors.ErrOutputFailed.Wrap(fmt.Errorf("刷新结果文件失败: %w", err))
	}

	return nil
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}

// MultiOutput 依次写入多个输出器
type MultiOutput []Output

// WriteRecord 写入全部输出器，返回第一个错误
func (m MultiOutput) WriteRecord(rec *Record) error {
	var first error
	for _, o := range m {
		if err := o.WriteRecord(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close 关闭全部输出器
func (m MultiOutput) Close() error {
	var first error
	for _, o := range m {
		if err := o.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard 丢弃输出
type Discard struct{}

func (Discard) WriteRecord(*Record) error { return nil }
func (Discard) Close() error              { return nil }
