package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"riskoracle/internal/errors"
)

// DefaultTopic 审计结果默认topic
const DefaultTopic = "contract_audit_results"

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaConfig 生产者配置
func NewKafkaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topic string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v, topic: %s", brokers, topic)

	// 创建同步生产者
	producer, err := sarama.NewSyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, errors.ErrKafkaProduceFailed.Wrap(fmt.Errorf("创建Kafka生产者失败: %w", err))
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topic, logger), nil
}

// NewKafkaOutputWithProducer 使用已有生产者
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topic string, logger *logrus.Logger) *KafkaOutput {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaOutput{logger: logger, topic: topic, producer: producer}
}

// BuildMessage 构造Kafka消息。按合约地址分区，运行元数据放在header中。
func (k *KafkaOutput) BuildMessage(rec *Record) (*sarama.ProducerMessage, error) {
	payload := rec.Result.ToKafkaMessage()
	payload["verification_hash"] = rec.Digest

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化数据失败: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(rec.Result.ContractAddress),
		Value: sarama.ByteEncoder(jsonData),
		Headers: []sarama.RecordHeader{
			{Key: []byte("run_id"), Value: []byte(rec.RunID)},
			{Key: []byte("path"), Value: []byte(rec.Path)},
		},
	}, nil
}

// WriteRecord 发送审计结果
func (k *KafkaOutput) WriteRecord(rec *Record) error {
	if rec == nil {
		return nil
	}

	msg, err := k.BuildMessage(rec)
	if err != nil {
		return errors.ErrKafkaProduceFailed.Wrap(err)
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return errors.ErrKafkaProduceFailed.Wrap(fmt.Errorf("发送消息到Kafka失败: %w", err))
	}

	k.logger.WithFields(logrus.Fields{
		"topic":     k.topic,
		"partition": partition,
		"offset":    offset,
		"run_id":    rec.RunID,
	}).Debug("审计结果已发送到Kafka")

	return nil
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
