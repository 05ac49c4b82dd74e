// Package events publishes chat activity for downstream consumers such as
// notification workers.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/sunzeqiong/szq-back/internal/models"

	"github.com/segmentio/kafka-go"
)

const TypeMessageCreated = "message.created"

type Publisher interface {
	PublishMessage(ctx context.Context, msg models.MessageView) error
	Close() error
}

// Envelope is the payload written to the topic.
type Envelope struct {
	Type       string             `json:"type"`
	OccurredAt time.Time          `json:"occurred_at"`
	Message    models.MessageView `json:"message"`
}

// Encode returns the partition key (room id, so one room stays ordered) and the JSON value.
func Encode(msg models.MessageView, at time.Time) ([]byte, []byte, error) {
	msg.IsSender = false
	value, err := json.Marshal(Envelope{Type: TypeMessageCreated, OccurredAt: at.UTC(), Message: msg})
	if err != nil {
		return nil, nil, err
	}
	return []byte(strconv.FormatUint(uint64(msg.RoomID), 10)), value, nil
}

type Nop struct{}

func (Nop) PublishMessage(context.Context, models.MessageView) error { return nil }
func (Nop) Close() error { return nil }

type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) PublishMessage(ctx context.Context, msg models.MessageView) error {
	key, value, err := Encode(msg, time.Now())
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
