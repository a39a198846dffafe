package main

import (
	"context"
	"fmt"
	"time"

	"github.com/besties-app/safecheck/config"
	"github.com/besties-app/safecheck/internal/broker/kafka"
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
	"github.com/besties-app/safecheck/internal/services/dispatch"
	"github.com/besties-app/safecheck/internal/services/escalation"
	"github.com/besties-app/safecheck/internal/services/scanner"
	"github.com/besties-app/safecheck/internal/storage/pgcheckin"
)

// workerStorage — всё, что воркеру нужно от базы: клейм просроченных,
// шаги эскалации и журнал уведомлений.
type workerStorage interface {
	scanner.Repository
	escalation.Repository
	dispatch.Recorder
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newProducer func(cfg *config.Config) scanner.Producer
	newContacts func(cfg *config.Config) contacts.Store
	newChannels func(cfg *config.Config) []channel.Channel
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgcheckin.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) scanner.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newContacts: func(cfg *config.Config) contacts.Store {
			if cfg.SafeCheck.ProfileServiceBaseURL == "" {
				return ctfake.New()
			}
			return profilehttp.New(cfg.SafeCheck.ProfileServiceBaseURL)
		},
		newChannels: func(cfg *config.Config) []channel.Channel {
			// Порядок — приоритет доставки, платный SMS последним.
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
		},
	}
}

func RunSafeCheckWorker(ctx context.Context, cfg *config.Config, f workerFactories, swaggerPath string) error {
	topic := cfg.Kafka.CheckInEventsTopicName
	if topic == "" {
		topic = "checkin.events"
	}

	scanInterval := time.Duration(cfg.SafeCheck.ScanIntervalSeconds) * time.Second
	if scanInterval <= 0 {
		scanInterval = 60 * time.Second
	}
	gracePeriod := time.Duration(cfg.SafeCheck.GracePeriodSeconds) * time.Second
	if gracePeriod <= 0 {
		gracePeriod = 60 * time.Second
	}
	batchSize := cfg.SafeCheck.ScanBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.SafeCheck.DispatchConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	contactsStore := f.newContacts(cfg)
	notifier := dispatch.New(f.newChannels(cfg), st)

	sc := scanner.New(st, contactsStore, notifier, producer, topic).
		WithSettings(scanInterval, batchSize, concurrency)
	esc := escalation.New(st, contactsStore, notifier, producer, topic).
		WithSettings(scanInterval, gracePeriod, batchSize, concurrency)

	errCh := make(chan error, 3)
	go func() { errCh <- sc.Run(ctx) }()
	go func() { errCh <- esc.Run(ctx) }()
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.SafeCheck.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			scanner:     sc,
			escalation:  esc,
			cfg:         cfg,
		})
	}()

	return <-errCh
}
