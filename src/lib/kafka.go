package lib

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"

	"tikiti/src/types"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

var (
	kafkaProducer *kafka.Producer
	producerOnce  sync.Once
)

func getKafkaProducer(clientId string) (*kafka.Producer, error) {
	var err error
	producerOnce.Do(func() {
		kafkaProducer, err = kafka.NewProducer(&kafka.ConfigMap{
			"bootstrap.servers": os.Getenv("KAFKA_BROKER"),
			"client.id":         clientId,
			"acks":              "all",
		})
	})
	if err != nil {
		return nil, err
	}
	if kafkaProducer == nil {
		return nil, errors.New("kafka producer is not available")
	}
	return kafkaProducer, nil
}

func KafkaProduceMessage(clientId string, topic string, payload types.JSONB) error {
	p, err := getKafkaProducer(clientId)
	if err != nil {
		log.Printf("Error on producer: %s\n", err.Error())
		return err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshalling payload: %s\n", err.Error())
		return err
	}
	err = p.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(topic),
		Value:          value,
	}, nil)
	if err != nil {
		log.Printf("Error producing to topic %s: %s\n", topic, err.Error())
		return err
	}
	return nil
}

// KafkaConsumer polls the given topics in a background goroutine and hands
// each message to handler. Handler errors are logged, not retried; the
// message payload stays in the Notification table for inspection.
func KafkaConsumer(groupId string, topics []string, handler func(topic string, value []byte) error) {
	log.Println("Initializing kafka Consumer...")
	master, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": os.Getenv("KAFKA_BROKER"),
		"group.id":          groupId,
		"auto.offset.reset": "smallest",
		"retry.backoff.ms":  100,
	})
	if err != nil {
		log.Printf("Error on consumer: %s\n", err.Error())
		return
	}
	if err := master.SubscribeTopics(topics, nil); err != nil {
		log.Printf("Error subscribing to topics: %s\n", err.Error())
		return
	}
	go func() {
		log.Println("[BACKGROUND]: waiting for messages...")
		run := true
		for run {
			ev := master.Poll(100)
			switch e := ev.(type) {
			case *kafka.Message:
				topic := ""
				if e.TopicPartition.Topic != nil {
					topic = *e.TopicPartition.Topic
				}
				if err := handler(topic, e.Value); err != nil {
					log.Printf("Error handling message on %s: %s\n", topic, err.Error())
				}
			case kafka.Error:
				log.Printf("Consumer error: %v\n", e)
				run = false
			default:
			}
		}
		master.Close()
	}()
}

func KafkaCreateTopics(topics ...string) ([]kafka.TopicResult, error) {
	a, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": os.Getenv("KAFKA_BROKER"),
	})
	if err != nil {
		log.Printf("Error on AdminClient: %s\n", err.Error())
		return nil, err
	}
	topicsDef := []kafka.TopicSpecification{}
	for _, topic := range topics {
		topicsDef = append(topicsDef, kafka.TopicSpecification{
			Topic:         topic,
			NumPartitions: 10,
		})
	}
	result, err := a.CreateTopics(context.Background(), topicsDef)
	if err != nil {
		log.Printf("Error creating topics: %s\n", err.Error())
		return nil, err
	}
	return result, nil
}
