package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/api/handler"
	"github.com/sanosuguru/go-event-board/internal/application"
	"github.com/sanosuguru/go-event-board/internal/config"
	"github.com/sanosuguru/go-event-board/internal/domain/event"
	"github.com/sanosuguru/go-event-board/internal/domain/mail"
	"github.com/sanosuguru/go-event-board/internal/domain/notification"
	"github.com/sanosuguru/go-event-board/internal/domain/outbox"
	"github.com/sanosuguru/go-event-board/internal/domain/photo"
	"github.com/sanosuguru/go-event-board/internal/domain/transaction"
	"github.com/sanosuguru/go-event-board/internal/domain/user"
	"github.com/sanosuguru/go-event-board/internal/infrastructure/firebase"
	"github.com/sanosuguru/go-event-board/internal/infrastructure/memory"
	"github.com/sanosuguru/go-event-board/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-event-board/internal/infrastructure/rabbitmq"
	redisinfra "github.com/sanosuguru/go-event-board/internal/infrastructure/redis"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
	"github.com/sanosuguru/go-event-board/internal/pkg/metrics"
)

type buildOptions struct {
	migrate     bool
	memoryUsers []string
}

// components は起動時に組み立てた依存関係
type components struct {
	eventService *application.EventService
	dispatcher   *application.Dispatcher
	healthChecks []handler.HealthCheck
	closers      []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// store はストアの実装ごとに異なるリポジトリ群
type store struct {
	tm            transaction.Manager
	events        event.Repository
	outbox        outbox.Repository
	notifications notification.Repository
	directory     user.Directory
}

func build(ctx context.Context, cfg *config.Config, m *metrics.Metrics, opts buildOptions) (*components, error) {
	app := &components{}

	s, err := buildStore(cfg, opts, app)
	if err != nil {
		app.close()
		return nil, err
	}

	uploader, err := buildUploader(ctx, cfg)
	if err != nil {
		app.close()
		return nil, err
	}

	notifier, mailer, err := buildBroker(cfg, s.notifications, app)
	if err != nil {
		app.close()
		return nil, err
	}

	app.dispatcher = application.NewDispatcher(s.outbox, notifier, mailer, m)

	serviceOpts := []application.EventServiceOption{application.WithMetrics(m)}
	serviceOpts = append(serviceOpts, buildRedis(ctx, cfg, m, app)...)

	app.eventService = application.NewEventService(s.tm, s.events, uploader, s.directory, app.dispatcher, serviceOpts...)
	return app, nil
}

func buildStore(cfg *config.Config, opts buildOptions, app *components) (*store, error) {
	switch cfg.Store {
	case config.StoreDriverMemory:
		mem := memory.NewStore(opts.memoryUsers...)
		logger.Warn("メモリストアを使用します。再起動するとデータは失われます")
		return &store{
			tm:            memory.NewTxManager(mem),
			events:        memory.NewEventRepository(mem),
			outbox:        memory.NewOutboxRepository(mem),
			notifications: memory.NewNotificationRepository(mem),
			directory:     mem,
		}, nil
	case config.StoreDriverPostgres:
		db, err := postgres.NewConnection(&cfg.Database)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { db.Close() })
		app.healthChecks = append(app.healthChecks, handler.HealthCheck{
			Name: "postgres",
			Ping: func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		})

		if opts.migrate {
			if err := postgres.RunMigrations(db.DB, cfg.Migrations); err != nil {
				return nil, err
			}
			logger.Info("マイグレーションを適用しました", zap.String("path", cfg.Migrations))
		}
		return &store{
			tm:            postgres.NewTxManager(db),
			events:        postgres.NewEventRepository(db),
			outbox:        postgres.NewOutboxRepository(db),
			notifications: postgres.NewNotificationRepository(db),
			directory:     postgres.NewUserDirectory(db),
		}, nil
	default:
		return nil, fmt.Errorf("不明なストア: %s", cfg.Store)
	}
}

func buildUploader(ctx context.Context, cfg *config.Config) (photo.Uploader, error) {
	if !cfg.Firebase.Enabled() {
		logger.Warn("Firebase Storage が未設定のため写真はメモリに保存します")
		return memory.NewPhotoStore(), nil
	}
	uploader, err := firebase.NewPhotoUploader(ctx, &cfg.Firebase)
	if err != nil {
		return nil, err
	}
	logger.Info("Firebase Storage に接続しました", zap.String("bucket", cfg.Firebase.StorageBucket))
	return uploader, nil
}

func buildBroker(cfg *config.Config, repo notification.Repository, app *components) (notification.Notifier, mail.Mailer, error) {
	if !cfg.Broker.Enabled {
		return memory.NewNotifier(repo), memory.NewMailbox(), nil
	}
	client, err := rabbitmq.NewClient(&cfg.Broker)
	if err != nil {
		return nil, nil, err
	}
	app.closers = append(app.closers, func() { client.Close() })
	logger.Info("RabbitMQに接続しました",
		zap.String("notification_exchange", cfg.Broker.NotificationExchange),
		zap.String("mail_exchange", cfg.Broker.MailExchange),
	)
	return rabbitmq.NewNotifier(repo, client, cfg.Broker.NotificationExchange),
		rabbitmq.NewMailer(client, cfg.Broker.MailExchange),
		nil
}

// buildRedis はキャッシュと分散ロックを設定する
// Redis に接続できない場合はどちらも使わずに起動する
func buildRedis(ctx context.Context, cfg *config.Config, m *metrics.Metrics, app *components) []application.EventServiceOption {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redisinfra.NewClient(&cfg.Redis)
	if err := redisinfra.Ping(ctx, client); err != nil {
		logger.Warn("Redisに接続できないためキャッシュと分散ロックを無効にします",
			zap.String("addr", cfg.Redis.Addr()),
			zap.Error(err),
		)
		client.Close()
		return nil
	}
	app.closers = append(app.closers, func() { client.Close() })
	app.healthChecks = append(app.healthChecks, handler.HealthCheck{
		Name: "redis",
		Ping: func(ctx context.Context) error { return redisinfra.Ping(ctx, client) },
	})
	return []application.EventServiceOption{
		application.WithCache(redisinfra.NewEventCache(client, cfg.Redis.CacheTTL)),
		application.WithLockManager(redisinfra.NewLockManager(client, m)),
	}
}
