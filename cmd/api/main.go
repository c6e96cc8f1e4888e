package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/example/helpdesk/internal/config"
	"github.com/example/helpdesk/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "helpdesk",
	Short:         "Facility helpdesk API: requests, lifecycle actions and notifications",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	if mode := os.Getenv("GIN_MODE"); mode == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, dispatchCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Fatal("helpdesk exited")
	}
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format), nil
}
