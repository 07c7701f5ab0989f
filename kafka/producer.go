package kafka

import (
	"encoding/json"
	"log"

	"github.com/IBM/sarama"
)

type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string, config *sarama.Config) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer, topic: topic}, nil
}

// PublishSessionEvent sends one terminal-session event, keyed by room so a
// room's history stays ordered within its partition.
func (p *Producer) PublishSessionEvent(ev SessionEvent) error {
	jsonValue, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.RoomID),
		Value: sarama.ByteEncoder(jsonValue),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		log.Printf("Failed to publish session event: %v", err)
		return err
	}

	log.Printf("Session event %s sent to partition %d at offset %d", ev.Kind, partition, offset)
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
