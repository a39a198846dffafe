package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/besties-app/safecheck/config"
	"github.com/besties-app/safecheck/internal/api/checkinapi"
	"github.com/besties-app/safecheck/internal/broker/kafka"
	"github.com/besties-app/safecheck/internal/cache/rediscache"
	"github.com/besties-app/safecheck/internal/contacts"
	ctfake "github.com/besties-app/safecheck/internal/contacts/fake"
	"github.com/besties-app/safecheck/internal/contacts/profilehttp"
	"github.com/besties-app/safecheck/internal/integrations/channel"
	chfake "github.com/besties-app/safecheck/internal/integrations/channel/fake"
	"github.com/besties-app/safecheck/internal/integrations/channel/discordbot"
	"github.com/besties-app/safecheck/internal/integrations/channel/email"
	"github.com/besties-app/safecheck/internal/integrations/channel/peermsg"
	"github.com/besties-app/safecheck/internal/integrations/channel/push"
	"github.com/besties-app/safecheck/internal/integrations/channel/sms"
	"github.com/besties-app/safecheck/internal/integrations/channel/telegrambot"
	"github.com/besties-app/safecheck/internal/services/broadcast"
	"github.com/besties-app/safecheck/internal/services/checkins"
	"github.com/besties-app/safecheck/internal/services/dispatch"
	"github.com/besties-app/safecheck/internal/services/idempotency"
	"github.com/besties-app/safecheck/internal/services/ratelimit"
	"github.com/besties-app/safecheck/internal/services/stats"
	"github.com/besties-app/safecheck/internal/storage/pgcheckin"
)

type safeCheckAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     safeCheckAPIOpts
	api      *checkinapi.CheckInAPI
	applier  *stats.Applier
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapSafeCheckAPI() *safeCheckAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.SafeCheck.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.SafeCheck.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "safecheck-api"
	}
	topic := cfg.Kafka.CheckInEventsTopicName
	if topic == "" {
		topic = "checkin.events"
	}
	cacheTTL := time.Duration(cfg.SafeCheck.CurrentCheckInTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(connString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	counter := rediscache.NewWindowCounter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	contactsStore := newContactsStore(cfg)
	notifier := dispatch.New(newChannels(cfg), st)
	limiter := ratelimit.New(st, counter, limitsFromConfig(cfg))
	guard := idempotency.New(st)

	svc := checkins.New(st, contactsStore, notifier, producer, limiter, topic).
		WithCache(rc, cacheTTL)

	sos := broadcast.New(st, contactsStore, notifier, producer, limiter, topic)
	if cfg.SafeCheck.ChannelMode == "http" {
		sos = sos.WithSubscriberBroadcaster(
			telegrambot.New(cfg.SafeCheck.TelegramBotBaseURL, cfg.SafeCheck.TelegramBotToken))
	}

	payments := profilehttp.New(cfg.SafeCheck.ProfileServiceBaseURL)

	api := checkinapi.New(svc, sos, guard, limiter, payments)
	applier := stats.NewApplier(st, guard)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &safeCheckAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: safeCheckAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		applier:  applier,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgcheckin.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgcheckin.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func newContactsStore(cfg *config.Config) contacts.Store {
	if cfg.SafeCheck.ProfileServiceBaseURL == "" {
		return ctfake.New()
	}
	return profilehttp.New(cfg.SafeCheck.ProfileServiceBaseURL)
}

// newChannels собирает каналы в порядке приоритета: бесплатные раньше
// платного SMS. В режиме "fake" все провайдеры заменяются заглушками (демо).
func newChannels(cfg *config.Config) []channel.Channel {
	if cfg.SafeCheck.ChannelMode != "http" {
		return []channel.Channel{
			chfake.New(channel.NamePush),
			chfake.New(channel.NameTelegram),
			chfake.New(channel.NameDiscord),
			chfake.New(channel.NamePeer),
			chfake.New(channel.NameEmail),
			chfake.New(channel.NameSMS),
		}
	}
	sc := cfg.SafeCheck
	return []channel.Channel{
		push.New(sc.PushBaseURL, sc.PushAPIKey),
		telegrambot.New(sc.TelegramBotBaseURL, sc.TelegramBotToken),
		discordbot.New(sc.DiscordBotBaseURL, sc.DiscordBotToken),
		peermsg.New(sc.PeerMsgBaseURL),
		email.New(sc.EmailBaseURL, sc.EmailAPIKey, sc.EmailFrom),
		sms.New(sc.SMSBaseURL, sc.SMSAPIKey, sc.SMSFrom),
	}
}

func limitsFromConfig(cfg *config.Config) ratelimit.Limits {
	limits := ratelimit.DefaultLimits()
	if n := cfg.SafeCheck.ExtendLimitPerHour; n > 0 {
		limits.Extend.Count = int64(n)
	}
	if n := cfg.SafeCheck.SOSLimitPerHour; n > 0 {
		limits.SOS.Count = int64(n)
	}
	if n := cfg.SafeCheck.InviteLimitPerDay; n > 0 {
		limits.Invite.Count = int64(n)
	}
	if n := cfg.SafeCheck.AnonymousLimitPerMinute; n > 0 {
		limits.Anonymous.Count = int64(n)
	}
	return limits
}

func (a *safeCheckAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *safeCheckAPIApp) Run() error {
	return runSafeCheckAPI(a.ctx, a.opts, a.api, a.applier, a.consumer)
}
