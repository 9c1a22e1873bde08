package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer producer для задач сохранения сессий
func NewKafkaProducer() (*KafkaProducer, error) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "kafka:29092"
	}

	log.Printf("🔗 Connecting to Kafka brokers: %s", brokers)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers),
		Topic:                  "coaching.tasks",
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false, // Синхронная отправка для надёжности
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &KafkaProducer{writer: writer}, nil
}

// SendPersistTask отправляет завершённую сессию на durable сохранение
func (p *KafkaProducer) SendPersistTask(ctx context.Context, task PersistTask) error {
	if task.Timestamp.IsZero() {
		task.Timestamp = time.Now()
	}

	// Валидация обязательных полей
	if task.PointID == "" {
		return fmt.Errorf("point_id is required")
	}
	if task.Action == "" {
		task.Action = "persist_point"
	}

	taskBytes, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(task.PointID),
		Value: taskBytes,
		Time:  task.Timestamp,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to send persist task: %w", err)
	}

	log.Printf("📤 Persist task sent: %s (%d events, %dms)",
		task.PointID, len(task.Events), task.DurationMs)

	return nil
}

func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
