package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/example/helpdesk/internal/auth"
	"github.com/example/helpdesk/internal/config"
	"github.com/example/helpdesk/internal/db"
	"github.com/example/helpdesk/internal/models"
	"github.com/example/helpdesk/internal/mq"
	"github.com/example/helpdesk/internal/repository"
	"github.com/example/helpdesk/internal/worker"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
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
		log.Info("migration complete")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert a demo facility and users for local runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		ctx := cmd.Context()
		users := repository.NewUserRepository(database)
		for _, u := range demoUsers() {
			u := u
			if err := users.Upsert(ctx, &u); err != nil {
				return err
			}
		}
		facility := demoFacility()
		if err := repository.NewFacilityRepository(database).Upsert(ctx, &facility); err != nil {
			return err
		}
		log.WithField("facility", facility.FacilityID).Info("seed complete")
		return nil
	},
}

func demoUsers() []models.User {
	return []models.User{
		{UserID: "U000001", Name: "Admin", Email: "admin@helpdesk.local", Roles: []string{models.RoleAdmin}, Status: "Active"},
		{UserID: "U000002", Name: "Maya Manager", Email: "manager@helpdesk.local", Roles: []string{models.RoleManager}, Status: "Active"},
		{UserID: "U000003", Name: "Theo Technician", Email: "tech@helpdesk.local", Roles: []string{models.RoleTechnician}, Status: "Active"},
		{UserID: "U000004", Name: "Rita Requester", Email: "requester@helpdesk.local", Roles: []string{models.RoleRequester}, Status: "Active"},
	}
}

func demoFacility() models.Facility {
	return models.Facility{
		FacilityID:  "F001",
		Name:        "Main Library",
		HeadManager: "U000002",
		Technicians: []string{"U000003"},
		Status:      "Active",
		Location:    "Building A",
	}
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Consume queued notifications from RabbitMQ and send e-mail",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		if cfg.RabbitMQ.URL == "" {
			return errors.New("RABBITMQ_URL is required for dispatch")
		}
		database, err := db.New(cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close(database)

		consumer, err := mq.NewRabbitConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, "notification.*", 16, log)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return worker.NewNotificationWorker(consumer, newDispatcher(cfg, database, log), log).Run(ctx)
	},
}

var (
	tokenUser  string
	tokenRoles []string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local testing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.IsProduction() {
			return errors.New("token minting is disabled in production")
		}
		token, err := auth.NewTokenService(cfg.JWTSecret(), cfg.JWT.Issuer, cfg.JWT.TTL).Issue(tokenUser, tokenRoles)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id placed in the sub claim")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "roles", []string{models.RoleRequester}, "comma-separated roles")
	_ = tokenCmd.MarkFlagRequired("user")
}
