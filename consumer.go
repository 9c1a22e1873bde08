package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConsumer struct {
	reader *kafka.Reader
}

func NewKafkaConsumer() *KafkaConsumer {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "kafka:29092"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{brokers},
		Topic:       "coaching.tasks",
		GroupID:     "coaching-workers",
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
	})

	return &KafkaConsumer{reader: reader}
}

func (kc *KafkaConsumer) Start(ctx context.Context, jobChannel chan<- PersistTask) error {
	log.Println("📡 Kafka consumer started, waiting for messages...")

	for {
		select {
		case <-ctx.Done():
			log.Println("📡 Kafka consumer stopping...")
			return kc.reader.Close()

		default:
			message, err := kc.reader.ReadMessage(ctx)
			if err != nil {
				log.Printf("❌ Error reading message: %v", err)
				time.Sleep(1 * time.Second)
				continue
			}

			var task PersistTask
			if err := json.Unmarshal(message.Value, &task); err != nil {
				log.Printf("❌ Error unmarshalling message: %v", err)
				continue
			}

			// Фильтрация только persist задач
			if task.Action == "persist_point" {
				log.Printf("📨 Received persist task: %s", task.PointID)

				select {
				case jobChannel <- task:
					log.Printf("✅ Task queued: %s", task.PointID)
				default:
					log.Printf("⚠️ Job queue full, skipping: %s", task.PointID)
				}
			} else {
				log.Printf("⏭️ Skipping non-persist task: %s (action: %s)", task.PointID, task.Action)
			}
		}
	}
}
