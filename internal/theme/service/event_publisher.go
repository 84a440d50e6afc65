package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"hackreg/internal/common/mq"
	"hackreg/internal/theme/model"

	"github.com/google/uuid"
)

const eventTypeHeader = "event_type"

// AssignmentEventPublisher announces committed assignment changes.
type AssignmentEventPublisher interface {
	PublishAssignmentChanged(ctx context.Context, event model.AssignmentEvent) error
}

// QueueAssignmentPublisher publishes assignment events to a message queue.
type QueueAssignmentPublisher struct {
	producer mq.Producer
	topic    string
}

// NewQueueAssignmentPublisher creates a new assignment event publisher.
func NewQueueAssignmentPublisher(producer mq.Producer, topic string) *QueueAssignmentPublisher {
	return &QueueAssignmentPublisher{producer: producer, topic: topic}
}

// PublishAssignmentChanged publishes the event keyed by team so one team's events stay ordered.
func (p *QueueAssignmentPublisher) PublishAssignmentChanged(ctx context.Context, event model.AssignmentEvent) error {
	if p == nil || p.producer == nil {
		return errors.New("assignment publisher is nil")
	}
	if p.topic == "" {
		return errors.New("assignment topic is empty")
	}
	if event.TeamID <= 0 {
		return errors.New("teamID is required")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal assignment event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.EventID
	message.Key = "team:" + strconv.FormatInt(event.TeamID, 10)
	message.Timestamp = event.OccurredAt
	message.SetHeader(eventTypeHeader, event.EventType)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return fmt.Errorf("publish assignment event failed: %w", err)
	}
	return nil
}
