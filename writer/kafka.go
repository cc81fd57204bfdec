package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	kafka "github.com/segmentio/kafka-go"

	appconfig "whalewatch/config"
	"whalewatch/internal/metrics"
	"whalewatch/logger"
	"whalewatch/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON keyed by symbol. The hash balancer
// keeps the events of one symbol on one partition. In async mode Write
// only enqueues into the kafka-go batch; delivery failures are counted by
// the completion callback.
type KafkaSink struct {
	writer messageWriter
	topic  string
	log    *logger.Log

	delivered atomic.Int64
	failed    atomic.Int64
}

func NewKafkaSink(cfg appconfig.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	s := &KafkaSink{topic: cfg.Topic, log: logger.GetLogger()}
	s.writer = newKafkaWriter(cfg, s.completed)
	s.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"brokers":       cfg.Brokers,
		"topic":         cfg.Topic,
		"batch_size":    cfg.BatchSize,
		"batch_timeout": cfg.BatchTimeout,
		"async":         cfg.Async,
	}).Info("kafka sink initialized")
	return s, nil
}

func newKafkaWriter(cfg appconfig.KafkaConfig, completion func([]kafka.Message, error)) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  kafka.Snappy,
		Async:        cfg.Async,
	}
	if cfg.Async {
		w.Completion = completion
	}
	return w
}

func (s *KafkaSink) completed(msgs []kafka.Message, err error) {
	if err == nil {
		s.delivered.Add(int64(len(msgs)))
		return
	}
	s.failed.Add(int64(len(msgs)))
	metrics.SinkError(s.Name())
	s.log.WithComponent("kafka_writer").WithError(err).WithFields(logger.Fields{
		"topic":    s.topic,
		"messages": len(msgs),
	}).Warn("kafka batch delivery failed")
}

// Counts returns the messages acknowledged and lost by async delivery.
func (s *KafkaSink) Counts() (delivered, failed int64) {
	return s.delivered.Load(), s.failed.Load()
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, e models.DetectionEvent) error {
	msg, err := kafkaMessage(e)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", s.topic, err)
	}
	return nil
}

func kafkaMessage(e models.DetectionEvent) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.Symbol),
		Value: data,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

func (s *KafkaSink) Close() error {
	s.log.WithComponent("kafka_writer").Info("closing kafka sink")
	return s.writer.Close()
}
