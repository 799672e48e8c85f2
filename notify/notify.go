/*
Package notify delivers scheduled perk reminders.

PURPOSE:
  The reminder scheduler only computes what to say and when. A Sink is the
  external delivery collaborator that actually sends it: a log line in
  development, a Kafka message in production for a downstream push or
  email service to consume.

IMPLEMENTATIONS:
  LogSink:   Writes one structured log entry per reminder (logrus)
  KafkaSink: Publishes a JSON message keyed by user id (segmentio/kafka-go)

MESSAGE FORMAT (KafkaSink):
  {
    "user_id": "user-1",
    "title": "Your monthly perks reset in 3 days",
    "body": "Dining Credit: $20 left. 2 perks worth $35 remain this cycle.",
    "fire_at": "2025-06-28T09:00:00Z",
    "period_months": 1,
    "offset_days": 3,
    "cycle_end": "2025-06-30T23:59:59.999999999Z"
  }

SEE ALSO:
  - perks/reminders.go: Reminder schedule computation
  - api/scheduler.go: Dispatcher that calls Deliver
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/perks"
)

// Sink delivers one reminder to one user.
type Sink interface {
	Deliver(ctx context.Context, userID perks.UserID, r perks.ScheduledReminder) error
}

// Message is the wire form of a delivered reminder.
type Message struct {
	UserID       perks.UserID `json:"user_id"`
	Title        string       `json:"title"`
	Body         string       `json:"body"`
	FireAt       time.Time    `json:"fire_at"`
	PeriodMonths int          `json:"period_months"`
	OffsetDays   int          `json:"offset_days"`
	CycleEnd     time.Time    `json:"cycle_end"`
}

func NewMessage(userID perks.UserID, r perks.ScheduledReminder) Message {
	return Message{
		UserID:       userID,
		Title:        r.Title,
		Body:         r.Body,
		FireAt:       r.FireAt,
		PeriodMonths: r.PeriodMonths,
		OffsetDays:   r.OffsetDays,
		CycleEnd:     r.CycleEnd,
	}
}

// =============================================================================
// LOG SINK
// =============================================================================

type LogSink struct {
	Logger logrus.FieldLogger
}

func NewLogSink(logger logrus.FieldLogger) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Deliver(_ context.Context, userID perks.UserID, r perks.ScheduledReminder) error {
	s.Logger.WithFields(logrus.Fields{
		"op":            "deliver_reminder",
		"user_id":       userID,
		"period_months": r.PeriodMonths,
		"offset_days":   r.OffsetDays,
		"fire_at":       r.FireAt.Format(time.RFC3339),
	}).Infof("%s: %s", r.Title, r.Body)
	return nil
}

// =============================================================================
// KAFKA SINK
// =============================================================================

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter returns a writer that keys messages by user so one user's
// reminders stay on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Deliver(ctx context.Context, userID perks.UserID, r perks.ScheduledReminder) error {
	payload, err := json.Marshal(NewMessage(userID, r))
	if err != nil {
		return fmt.Errorf("failed to encode reminder: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(userID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "fire-at", Value: []byte(r.FireAt.Format(time.RFC3339))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish reminder: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
