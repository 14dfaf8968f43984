package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/formyhq/editflow/internal/model"
)

// Event is one task lifecycle transition published to the event topic.
type Event struct {
	TaskID    string          `json:"task_id"`
	State     model.TaskState `json:"state"`
	Progress  int             `json:"progress,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	At        time.Time       `json:"at"`
}

// EventPublisher emits lifecycle events to a Kafka topic so downstream
// consumers (notifications, analytics) can follow task progress without
// polling the record store.
type EventPublisher struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// NewEventPublisher creates an EventPublisher for the given brokers/topic.
func NewEventPublisher(brokers []string, topic string, strategy retry.Strategy) *EventPublisher {
	return &EventPublisher{
		Client:   wbfkafka.NewProducer(brokers, topic),
		strategy: strategy,
	}
}

// Publish serializes the event to JSON and sends it with retries.
// The task id is used as the message key so one task's events stay ordered
// within a partition.
func (p *EventPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := []byte(event.TaskID)

	if err := p.Client.SendWithRetry(ctx, p.strategy, key, data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}
