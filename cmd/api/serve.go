package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/example/helpdesk/internal/auth"
	"github.com/example/helpdesk/internal/config"
	"github.com/example/helpdesk/internal/db"
	httpserver "github.com/example/helpdesk/internal/http"
	"github.com/example/helpdesk/internal/lifecycle"
	"github.com/example/helpdesk/internal/mq"
	"github.com/example/helpdesk/internal/notify"
	"github.com/example/helpdesk/internal/repository"
	"github.com/example/helpdesk/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}

	database, err := db.New(cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	requests := repository.NewRequestRepository(database)
	facilities := repository.NewFacilityRepository(database)

	outbox, stopOutbox, err := buildOutbox(ctx, cfg, database, log)
	if err != nil {
		return err
	}

	messages := repository.NewMessageRepository(database)
	svc := service.NewRequestService(requests, facilities, lifecycle.NewEngine(nil), outbox, messages, log)
	tokens := auth.NewTokenService(cfg.JWTSecret(), cfg.JWT.Issuer, cfg.JWT.TTL)
	apiServer := httpserver.NewServer(svc, tokens, log, cfg.MetricsPath)

	srv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           apiServer.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPPort).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			stopOutbox()
			return errors.Wrap(err, "http server")
		}
	}
	log.Info("shutdown initiated")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	stopOutbox()
	log.Info("bye")
	return nil
}

// buildOutbox wires the configured notification transport. The returned stop
// function flushes and releases it.
func buildOutbox(ctx context.Context, cfg config.Config, database *gorm.DB, log *logrus.Logger) (service.Outbox, func(), error) {
	switch cfg.Notify.Transport {
	case config.TransportRabbitMQ:
		publisher, err := mq.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.WithError(err).Warn("rabbitmq unavailable, continuing without notifications")
			return notify.Discard{}, func() {}, nil
		}
		return notify.NewBrokerOutbox(publisher, log), func() { _ = publisher.Close() }, nil

	case config.TransportInProcess:
		q := notify.NewQueue(newDispatcher(cfg, database, log), notify.QueueConfig{
			Size:        cfg.Notify.QueueSize,
			MaxAttempts: cfg.Notify.MaxAttempts,
		}, log)
		q.Start(ctx)
		return q, func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			q.Stop(stopCtx)
		}, nil

	default:
		log.Info("notifications disabled")
		return notify.Discard{}, func() {}, nil
	}
}

func newDispatcher(cfg config.Config, database *gorm.DB, log *logrus.Logger) *notify.Dispatcher {
	var mailer notify.Mailer = notify.NewLogMailer(log)
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			TLS:      cfg.SMTP.TLS,
		})
	}
	return notify.NewDispatcher(
		repository.NewUserRepository(database),
		repository.NewRequestRepository(database),
		repository.NewFacilityRepository(database),
		mailer,
		log,
	)
}
