package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  checkin_events_topic_name: "checkin.events"
redis:
  host: "localhost"
  port: 6379
safecheck:
  http_addr: ":8080"
  kafka_consumer_group: "safecheck-api"
  grace_period_seconds: 60
  extend_limit_per_hour: 10
  sos_limit_per_hour: 3
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "checkin.events", cfg.Kafka.CheckInEventsTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.SafeCheck.HTTPAddr)
	require.Equal(t, 60, cfg.SafeCheck.GracePeriodSeconds)
	require.Equal(t, 10, cfg.SafeCheck.ExtendLimitPerHour)
	require.Equal(t, 3, cfg.SafeCheck.SOSLimitPerHour)
}
