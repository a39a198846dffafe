package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	SafeCheck SafeCheckConfig `yaml:"safecheck"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	CheckInEventsTopicName string `yaml:"checkin_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type SafeCheckConfig struct {
	HTTPAddr                 string `yaml:"http_addr"`
	KafkaConsumerGroup       string `yaml:"kafka_consumer_group"`
	CurrentCheckInTTLSeconds int    `yaml:"current_checkin_ttl_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Scanner / escalation cadence. If not set, defaults are minute-granularity:
	// scan: 60s, grace: 60s.
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`
	GracePeriodSeconds  int `yaml:"grace_period_seconds"`
	ScanBatchSize       int `yaml:"scan_batch_size"`
	DispatchConcurrency int `yaml:"dispatch_concurrency"`

	// Abuse limits.
	ExtendLimitPerHour      int `yaml:"extend_limit_per_hour"`
	SOSLimitPerHour         int `yaml:"sos_limit_per_hour"`
	InviteLimitPerDay       int `yaml:"invite_limit_per_day"`
	AnonymousLimitPerMinute int `yaml:"anonymous_limit_per_minute"`

	// External profile service + channel providers.
	ProfileServiceBaseURL string `yaml:"profile_service_base_url"`
	PushBaseURL           string `yaml:"push_base_url"`
	PushAPIKey            string `yaml:"push_api_key"`
	TelegramBotBaseURL    string `yaml:"telegram_bot_base_url"`
	TelegramBotToken      string `yaml:"telegram_bot_token"`
	DiscordBotBaseURL     string `yaml:"discord_bot_base_url"`
	DiscordBotToken       string `yaml:"discord_bot_token"`
	PeerMsgBaseURL        string `yaml:"peer_msg_base_url"`
	EmailBaseURL          string `yaml:"email_base_url"`
	EmailAPIKey           string `yaml:"email_api_key"`
	EmailFrom             string `yaml:"email_from"`
	SMSBaseURL            string `yaml:"sms_base_url"`
	SMSAPIKey             string `yaml:"sms_api_key"`
	SMSFrom               string `yaml:"sms_from"`

	// "fake" заменяет все внешние каналы локальной заглушкой (для демо).
	ChannelMode string `yaml:"channel_mode"` // "http" | "fake"
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
