package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-event-board/internal/api/handler"
	"github.com/sanosuguru/go-event-board/internal/api/router"
	"github.com/sanosuguru/go-event-board/internal/config"
	"github.com/sanosuguru/go-event-board/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-event-board/internal/pkg/logger"
	"github.com/sanosuguru/go-event-board/internal/pkg/metrics"
	"github.com/sanosuguru/go-event-board/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env がなくてもエラーにしない
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "event-board",
		Usage: "イベント・写真・投票を管理するAPIサーバー",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("アプリケーションの実行に失敗しました", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "APIサーバーとアウトボックス再送ワーカーを起動する",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "migrate", Value: true, Usage: "起動時にマイグレーションを適用する（postgres のみ）"},
			&cli.StringSliceFlag{Name: "users", Usage: "memory ストア使用時のアクティブユーザー"},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			logger.Init(cfg.Env)
			defer logger.Sync()

			m := metrics.Init()

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := build(ctx, cfg, m, buildOptions{
				migrate:     c.Bool("migrate"),
				memoryUsers: c.StringSlice("users"),
			})
			if err != nil {
				return err
			}
			defer app.close()

			outboxWorker := worker.NewOutboxDispatcher(app.dispatcher, cfg.Outbox.Interval, cfg.Outbox.RetryAfter, cfg.Outbox.BatchSize)
			go outboxWorker.Start(ctx)
			defer outboxWorker.Stop()

			e := router.New(
				handler.NewEventHandler(app.eventService),
				handler.NewHealthHandler(app.healthChecks...),
				router.Options{
					Metrics:     m,
					MetricsAuth: &cfg.Metrics,
					BodyLimit:   fmt.Sprintf("%dM", cfg.Server.MaxUpload>>20),
				},
			)
			e.Server.ReadTimeout = cfg.Server.ReadTimeout
			e.Server.WriteTimeout = cfg.Server.WriteTimeout

			errCh := make(chan error, 1)
			go func() {
				logger.Info("サーバーを起動します",
					zap.String("port", cfg.Server.Port),
					zap.String("store", cfg.Store),
				)
				if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("サーバー起動エラー: %w", err)
			}

			logger.Info("サーバーをシャットダウンしています...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("サーバーシャットダウンエラー: %w", err)
			}
			logger.Info("サーバーが正常にシャットダウンしました")
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "データベースのマイグレーションを操作する",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "最新までマイグレーションを適用する",
				Action: func(c *cli.Context) error {
					return withDatabase(func(cfg *config.Config, db *sqlx.DB) error {
						if err := postgres.RunMigrations(db.DB, cfg.Migrations); err != nil {
							return err
						}
						logger.Info("マイグレーションを適用しました")
						return nil
					})
				},
			},
			{
				Name:  "down",
				Usage: "指定したステップ数だけマイグレーションを戻す",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Value: 1, Usage: "戻すステップ数"},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps <= 0 {
						return fmt.Errorf("steps は 1 以上を指定してください: %d", steps)
					}
					return withDatabase(func(cfg *config.Config, db *sqlx.DB) error {
						if err := postgres.RollbackMigrations(db.DB, cfg.Migrations, steps); err != nil {
							return err
						}
						logger.Info("マイグレーションを戻しました", zap.Int("steps", steps))
						return nil
					})
				},
			},
			{
				Name:  "version",
				Usage: "現在のマイグレーションバージョンを表示する",
				Action: func(c *cli.Context) error {
					return withDatabase(func(cfg *config.Config, db *sqlx.DB) error {
						version, dirty, err := postgres.MigrationVersion(db.DB, cfg.Migrations)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "version=%d dirty=%t\n", version, dirty)
						return nil
					})
				},
			},
		},
	}
}

func withDatabase(fn func(cfg *config.Config, db *sqlx.DB) error) error {
	cfg := config.Load()
	logger.Init(cfg.Env)
	defer logger.Sync()

	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(cfg, db)
}
