package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/perk-engine/perks"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func reminder() perks.ScheduledReminder {
	return perks.ScheduledReminder{
		Title:        "Your monthly perks reset in 3 days",
		Body:         "Dining Credit: $20 left to use.",
		FireAt:       time.Date(2025, time.June, 28, 9, 0, 0, 0, time.UTC),
		PeriodMonths: 1,
		OffsetDays:   3,
		CycleEnd:     time.Date(2025, time.June, 30, 23, 59, 59, 999999999, time.UTC),
	}
}

func TestKafkaSink_PublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w)

	require.NoError(t, sink.Deliver(context.Background(), "user-1", reminder()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "user-1", string(w.msgs[0].Key))

	var got Message
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, perks.UserID("user-1"), got.UserID)
	assert.Equal(t, "Dining Credit: $20 left to use.", got.Body)
	assert.True(t, got.FireAt.Equal(reminder().FireAt))
	assert.Equal(t, 3, got.OffsetDays)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_WriteError(t *testing.T) {
	sink := NewKafkaSink(&fakeWriter{err: errors.New("broker down")})

	err := sink.Deliver(context.Background(), "user-1", reminder())
	assert.ErrorContains(t, err, "broker down")
}

func TestLogSink_LogsReminder(t *testing.T) {
	logger, hook := test.NewNullLogger()
	sink := NewLogSink(logger)

	require.NoError(t, sink.Deliver(context.Background(), "user-1", reminder()))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, perks.UserID("user-1"), entry.Data["user_id"])
	assert.Contains(t, entry.Message, "reset in 3 days")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "perk-reminders")
	assert.Equal(t, "perk-reminders", w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
