package publish

import (
	"context"
	"encoding/json"
	"fmt"

	kafka "github.com/segmentio/kafka-go"

	appconfig "signalpulse/config"
	"signalpulse/logger"
	"signalpulse/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each report as one JSON message keyed by venue.
type KafkaSink struct {
	writer messageWriter
	topic  string
	log    *logger.Log
}

func NewKafkaSink(cfg appconfig.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	ks := &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		topic: cfg.Topic,
		log:   logger.GetLogger(),
	}
	ks.log.WithComponent("kafka_sink").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka sink initialized")
	return ks, nil
}

func (ks *KafkaSink) Name() string { return "kafka" }

func (ks *KafkaSink) Publish(ctx context.Context, report models.ScanReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(report.Venue),
		Value: data,
		Headers: []kafka.Header{
			{Key: "scan_id", Value: []byte(report.ScanID)},
			{Key: "session_id", Value: []byte(report.SessionID)},
		},
	}
	if err := ks.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to topic %s: %w", ks.topic, err)
	}
	return nil
}

func (ks *KafkaSink) Close() error {
	return ks.writer.Close()
}
