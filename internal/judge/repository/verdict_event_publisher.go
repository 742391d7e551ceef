package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arenaoj/internal/common/mq"
	"arenaoj/internal/judge/model"
	appErr "arenaoj/pkg/errors"
)

// VerdictEventPublisher publishes terminal verdicts for downstream
// consumers (notifications, analytics, external mirrors).
type VerdictEventPublisher interface {
	PublishFinalVerdict(ctx context.Context, event model.VerdictEvent) error
}

// MQVerdictEventPublisher publishes verdict events to a message queue.
type MQVerdictEventPublisher struct {
	queue mq.MessageQueue
	topic string
}

func NewMQVerdictEventPublisher(queue mq.MessageQueue, topic string) *MQVerdictEventPublisher {
	return &MQVerdictEventPublisher{queue: queue, topic: topic}
}

func (p *MQVerdictEventPublisher) PublishFinalVerdict(ctx context.Context, event model.VerdictEvent) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("verdict publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("verdict topic is required")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if event.Type == "" {
		event.Type = model.VerdictEventFinal
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verdict event failed: %w", err)
	}
	message := mq.NewMessage(payload)
	message.ID = event.SubmissionID
	message.SetHeader("x-event-type", string(event.Type))
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish verdict event failed")
	}
	return nil
}
