/**
 * @description
 * This package handles the configuration management for the analytics-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file, then normalises the values so the rest of the service never sees blanks
 * or out-of-range thresholds.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/viper"
)

const (
	defaultServerPort          = "8086"
	defaultRateLimitPrefix     = "transfa:rate_limit"
	defaultEventsExchange      = "transfa.events"
	defaultResetEventQueue     = "analytics_service.reset_events"
	defaultLookbackDays        = 90
	defaultObservationHours    = 72
	defaultMinPostEvent        = 1
	defaultMuleMinSources      = 2
	defaultAssessmentSchedule  = "*/15 * * * *"
	defaultAssessmentBatchSize = 200
	defaultUploadRatePerMinute = 10
	defaultMaxUploadBytes      = 32 << 20
	defaultCSVDelimiter        = ";"
	defaultTimezone            = "Africa/Dar_es_Salaam"
)

// Config holds all the configuration variables for the analytics-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	ResetEventQueue          string `mapstructure:"RESET_EVENT_QUEUE"`
	AnalystJWTSecret         string `mapstructure:"ANALYST_JWT_SECRET"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	LookbackDays             int    `mapstructure:"LOOKBACK_DAYS"`
	ObservationHours         int    `mapstructure:"OBSERVATION_HOURS"`
	MinPostEventTransactions int    `mapstructure:"MIN_POST_EVENT_TRANSACTIONS"`
	MuleMinSources           int    `mapstructure:"MULE_MIN_SOURCES"`
	AssessmentJobSchedule    string `mapstructure:"ASSESSMENT_JOB_SCHEDULE"`
	AssessmentBatchSize      int    `mapstructure:"ASSESSMENT_BATCH_SIZE"`
	UploadRateLimitPerMinute int    `mapstructure:"UPLOAD_RATE_LIMIT_PER_MINUTE"`
	MaxUploadBytes           int64  `mapstructure:"MAX_UPLOAD_BYTES"`
	CSVDelimiter             string `mapstructure:"CSV_DELIMITER"`
	Timezone                 string `mapstructure:"TIMEZONE"`
	ExtraTimeLayout          string `mapstructure:"EXTRA_TIME_LAYOUT"`

	// Location is resolved from Timezone after loading.
	Location *time.Location `mapstructure:"-"`
}

// LoadConfig reads configuration from environment variables and the optional .env file
// in the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("RESET_EVENT_QUEUE", defaultResetEventQueue)
	viper.SetDefault("LOOKBACK_DAYS", defaultLookbackDays)
	viper.SetDefault("OBSERVATION_HOURS", defaultObservationHours)
	viper.SetDefault("MIN_POST_EVENT_TRANSACTIONS", defaultMinPostEvent)
	viper.SetDefault("MULE_MIN_SOURCES", defaultMuleMinSources)
	viper.SetDefault("ASSESSMENT_JOB_SCHEDULE", defaultAssessmentSchedule) // Every 15 minutes.
	viper.SetDefault("ASSESSMENT_BATCH_SIZE", defaultAssessmentBatchSize)
	viper.SetDefault("UPLOAD_RATE_LIMIT_PER_MINUTE", defaultUploadRatePerMinute)
	viper.SetDefault("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)
	viper.SetDefault("CSV_DELIMITER", defaultCSVDelimiter)
	viper.SetDefault("TIMEZONE", defaultTimezone)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ANALYTICS_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("RESET_EVENT_QUEUE")
	_ = viper.BindEnv("ANALYST_JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ANALYTICS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("LOOKBACK_DAYS")
	_ = viper.BindEnv("OBSERVATION_HOURS")
	_ = viper.BindEnv("MIN_POST_EVENT_TRANSACTIONS")
	_ = viper.BindEnv("MULE_MIN_SOURCES")
	_ = viper.BindEnv("ASSESSMENT_JOB_SCHEDULE")
	_ = viper.BindEnv("ASSESSMENT_BATCH_SIZE")
	_ = viper.BindEnv("UPLOAD_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("MAX_UPLOAD_BYTES")
	_ = viper.BindEnv("CSV_DELIMITER")
	_ = viper.BindEnv("TIMEZONE")
	_ = viper.BindEnv("EXTRA_TIME_LAYOUT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.normalize()
	return
}

func (c *Config) normalize() {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.ServerPort = port
	}
	c.ServerPort = strings.TrimSpace(c.ServerPort)
	if c.ServerPort == "" {
		c.ServerPort = defaultServerPort
	}
	if strings.TrimSpace(c.InternalAPIKey) == "" {
		c.InternalAPIKey = os.Getenv("ANALYTICS_SERVICE_INTERNAL_API_KEY")
	}
	c.InternalAPIKey = strings.TrimSpace(c.InternalAPIKey)
	c.AnalystJWTSecret = strings.TrimSpace(c.AnalystJWTSecret)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)

	c.RedisRateLimitPrefix = strings.TrimSpace(c.RedisRateLimitPrefix)
	if c.RedisRateLimitPrefix == "" {
		c.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	c.EventsExchange = strings.TrimSpace(c.EventsExchange)
	if c.EventsExchange == "" {
		c.EventsExchange = defaultEventsExchange
	}
	c.ResetEventQueue = strings.TrimSpace(c.ResetEventQueue)
	if c.ResetEventQueue == "" {
		c.ResetEventQueue = defaultResetEventQueue
	}
	c.AssessmentJobSchedule = strings.TrimSpace(c.AssessmentJobSchedule)
	if c.AssessmentJobSchedule == "" {
		c.AssessmentJobSchedule = defaultAssessmentSchedule
	}

	if c.LookbackDays < 0 {
		log.Printf("level=warn component=config msg=\"negative lookback configured; using default\" lookback_days=%d", c.LookbackDays)
		c.LookbackDays = defaultLookbackDays
	}
	if c.ObservationHours <= 0 {
		log.Printf("level=warn component=config msg=\"observation window must be positive; using default\" observation_hours=%d", c.ObservationHours)
		c.ObservationHours = defaultObservationHours
	}
	if c.MinPostEventTransactions <= 0 {
		c.MinPostEventTransactions = defaultMinPostEvent
	}
	if c.MuleMinSources < 2 {
		log.Printf("level=warn component=config msg=\"mule threshold below two sources; using default\" mule_min_sources=%d", c.MuleMinSources)
		c.MuleMinSources = defaultMuleMinSources
	}
	if c.AssessmentBatchSize <= 0 {
		c.AssessmentBatchSize = defaultAssessmentBatchSize
	}
	if c.UploadRateLimitPerMinute <= 0 {
		c.UploadRateLimitPerMinute = defaultUploadRatePerMinute
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUploadBytes
	}

	if utf8.RuneCountInString(c.CSVDelimiter) != 1 {
		if c.CSVDelimiter != "" {
			log.Printf("level=warn component=config msg=\"csv delimiter must be a single character; using default\" delimiter=%q", c.CSVDelimiter)
		}
		c.CSVDelimiter = defaultCSVDelimiter
	}

	c.Timezone = strings.TrimSpace(c.Timezone)
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("level=warn component=config msg=\"unknown timezone; falling back to UTC\" timezone=%q err=%v", c.Timezone, err)
		loc = time.UTC
	}
	c.Location = loc
	c.ExtraTimeLayout = strings.TrimSpace(c.ExtraTimeLayout)
}

// Delimiter returns the configured CSV delimiter as a rune.
func (c Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.CSVDelimiter)
	return r
}

// LookbackWindow converts LookbackDays into a duration. Zero means unlimited.
func (c Config) LookbackWindow() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// ObservationWindow converts ObservationHours into a duration.
func (c Config) ObservationWindow() time.Duration {
	return time.Duration(c.ObservationHours) * time.Hour
}
