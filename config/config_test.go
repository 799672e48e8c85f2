package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 9, cfg.Reminders.Hour)
	assert.Equal(t, 5*time.Second, cfg.UndoWindow)
	assert.Equal(t, []int{1, 3, 7}, cfg.ReminderConfig().OffsetsFor(1))
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	// GIVEN: A YAML file setting port, reminders and kafka
	// WHEN: PERK_PORT and PERK_KAFKA_BROKERS are also set
	// THEN: Environment wins over the file, file wins over defaults

	path := filepath.Join(t.TempDir(), "perks.yaml")
	doc := `
port: 9000
db: /tmp/perks.db
timezone: UTC
undo_window: 8s
reminders:
  hour: 18
  minute: 30
  offsets:
    1: [2, 5]
kafka:
  brokers: [kafka-1:9092]
  topic: reminders
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("PERK_PORT", "9100")
	t.Setenv("PERK_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/tmp/perks.db", cfg.DBPath)
	assert.Equal(t, 8*time.Second, cfg.UndoWindow)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "reminders", cfg.Kafka.Topic)

	rc := cfg.ReminderConfig()
	assert.Equal(t, 18, rc.Hour)
	assert.Equal(t, 30, rc.Minute)
	assert.Equal(t, []int{2, 5}, rc.OffsetsFor(1))

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	logger := cfg.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port not a number", map[string]string{"PERK_PORT": "http"}},
		{"port out of range", map[string]string{"PERK_PORT": "70000"}},
		{"bad duration", map[string]string{"PERK_UNDO_WINDOW": "soon"}},
		{"bad hour", map[string]string{"PERK_REMINDER_HOUR": "24"}},
		{"bad timezone", map[string]string{"PERK_TIMEZONE": "Mars/Olympus"}},
		{"bad log level", map[string]string{"PERK_LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestValidate_RejectsZeroOffset(t *testing.T) {
	cfg := Default()
	cfg.Reminders.Offsets = map[int][]int{1: {0}}
	assert.Error(t, cfg.Validate())
}
