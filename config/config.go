// Package config loads the perk engine server configuration.
//
// Sources, later ones winning:
//  1. Built-in defaults
//  2. Optional YAML file (missing file is not an error)
//  3. .env file in the working directory, then PERK_* environment variables
//  4. Command-line flags (applied by cmd/server)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/warp/perk-engine/perks"
	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up when no -config flag is given.
const DefaultFile = "perks.yaml"

// Config is the server configuration.
type Config struct {
	Port     int    `yaml:"port"`
	DBPath   string `yaml:"db"`
	Timezone string `yaml:"timezone"`

	// CatalogPath is a JSON/YAML catalog imported at startup. Empty seeds
	// the demo catalog.
	CatalogPath string `yaml:"catalog"`

	UndoWindow        time.Duration `yaml:"undo_window"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval"`

	Reminders Reminders `yaml:"reminders"`
	Redis     Redis     `yaml:"redis"`
	Kafka     Kafka     `yaml:"kafka"`
	Log       Log       `yaml:"log"`
}

type Reminders struct {
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
	// Offsets maps period length in months to days-before-reset.
	Offsets map[int][]int `yaml:"offsets"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// LockTTL bounds how long a crashed holder blocks a perk.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	rc := perks.DefaultReminderConfig()
	return &Config{
		Port:              8080,
		DBPath:            "./data/perks.db",
		Timezone:          "Local",
		UndoWindow:        perks.DefaultUndoWindow,
		SchedulerInterval: time.Minute,
		Reminders: Reminders{
			Hour:    rc.Hour,
			Minute:  rc.Minute,
			Offsets: rc.Offsets,
		},
		Redis: Redis{LockTTL: 10 * time.Second},
		Kafka: Kafka{Topic: "perk-reminders"},
		Log:   Log{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path (if it exists), then .env and PERK_*
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			n, perr := strconv.Atoi(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			d, perr := time.ParseDuration(v)
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = d
		}
	}

	num("PERK_PORT", &c.Port)
	str("PERK_DB", &c.DBPath)
	str("PERK_TIMEZONE", &c.Timezone)
	str("PERK_CATALOG", &c.CatalogPath)
	dur("PERK_UNDO_WINDOW", &c.UndoWindow)
	dur("PERK_SCHEDULER_INTERVAL", &c.SchedulerInterval)
	num("PERK_REMINDER_HOUR", &c.Reminders.Hour)
	num("PERK_REMINDER_MINUTE", &c.Reminders.Minute)
	str("PERK_REDIS_ADDR", &c.Redis.Addr)
	str("PERK_REDIS_PASSWORD", &c.Redis.Password)
	num("PERK_REDIS_DB", &c.Redis.DB)
	dur("PERK_REDIS_LOCK_TTL", &c.Redis.LockTTL)
	if v, ok := os.LookupEnv("PERK_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	str("PERK_KAFKA_TOPIC", &c.Kafka.Topic)
	str("PERK_LOG_LEVEL", &c.Log.Level)
	str("PERK_LOG_FORMAT", &c.Log.Format)

	return err
}

// Validate checks ranges that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Reminders.Hour < 0 || c.Reminders.Hour > 23 || c.Reminders.Minute < 0 || c.Reminders.Minute > 59 {
		return fmt.Errorf("reminder time %02d:%02d is invalid", c.Reminders.Hour, c.Reminders.Minute)
	}
	for months, offsets := range c.Reminders.Offsets {
		for _, d := range offsets {
			if d < 1 {
				return fmt.Errorf("reminder offset %d for %d-month perks must be at least 1 day", d, months)
			}
		}
	}
	if c.UndoWindow <= 0 {
		return fmt.Errorf("undo window must be positive")
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone used for cycle math.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ReminderConfig converts the reminder section for the scheduler.
func (c *Config) ReminderConfig() perks.ReminderConfig {
	rc := perks.DefaultReminderConfig()
	rc.Hour = c.Reminders.Hour
	rc.Minute = c.Reminders.Minute
	if len(c.Reminders.Offsets) > 0 {
		rc.Offsets = c.Reminders.Offsets
	}
	return rc
}

// NewLogger builds the process logger.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		logger.SetLevel(level)
	}
	if strings.EqualFold(c.Log.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
