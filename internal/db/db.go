package db

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/helpdesk/internal/config"
	"github.com/example/helpdesk/internal/logging"
	"github.com/example/helpdesk/internal/models"
)

// New creates a new GORM database connection using the provided options.
func New(opts config.DatabaseOptions, log *logrus.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(opts.URL), gormConfig(log))
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)

	log.Info("connected to database")
	return db, nil
}

// gormConfig translates driver errors into gorm.ErrDuplicatedKey and friends
// so repositories can map them to domain errors.
func gormConfig(log *logrus.Logger) *gorm.Config {
	return &gorm.Config{Logger: logging.Gorm(log), TranslateError: true}
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&models.Facility{}, &models.User{}, &models.Request{}, &models.Message{}), "auto migrate")
}

// Close releases the connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "database handle")
	}
	return sqlDB.Close()
}
