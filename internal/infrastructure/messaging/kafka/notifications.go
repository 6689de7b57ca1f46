package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guildxp/guildxp/internal/application/eventhandler"
	"github.com/guildxp/guildxp/pkg/circuitbreaker"
)

// NotificationPublisher writes notifications as JSON to the notifications
// topic, keyed by member so one member's notifications stay ordered.
type NotificationPublisher struct {
	producer *Producer
	topic    string
	breaker  *circuitbreaker.Breaker
}

// NewNotificationPublisher creates the publisher. A nil breaker sends
// every message straight to the producer.
func NewNotificationPublisher(producer *Producer, topic string, breaker *circuitbreaker.Breaker) *NotificationPublisher {
	return &NotificationPublisher{producer: producer, topic: topic, breaker: breaker}
}

// Send implements eventhandler.NotificationSender.
func (p *NotificationPublisher) Send(ctx context.Context, n eventhandler.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	headers := map[string]string{HeaderEventType: string(n.Type)}
	if n.CorrelationID != "" {
		headers[HeaderCorrelationID] = n.CorrelationID
	}

	send := func(ctx context.Context) error {
		_, _, err := p.producer.Produce(ctx, p.topic, []byte(n.Key()), body, headers)
		return err
	}
	if p.breaker == nil {
		return send(ctx)
	}
	return p.breaker.Execute(ctx, send)
}

var _ eventhandler.NotificationSender = (*NotificationPublisher)(nil)
