package repository

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
)

// FacilityRepository is the read side of the facility directory.
type FacilityRepository struct {
	db *gorm.DB
}

func NewFacilityRepository(db *gorm.DB) *FacilityRepository {
	return &FacilityRepository{db: db}
}

// FindByID returns the facility or ErrNotFound.
func (r *FacilityRepository) FindByID(ctx context.Context, id string) (*models.Facility, error) {
	var f models.Facility
	if err := r.db.WithContext(ctx).First(&f, "facility_id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errs.ErrNotFound, "facility %s", id)
		}
		return nil, errors.WithStack(err)
	}
	return &f, nil
}

// HeadedBy lists the ids of facilities whose head manager is userID.
func (r *FacilityRepository) HeadedBy(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Facility{}).
		Where("head_manager = ?", userID).
		Order("facility_id").
		Pluck("facility_id", &ids).Error
	return ids, errors.WithStack(err)
}

// Upsert inserts or replaces a facility. Used by the seed command.
func (r *FacilityRepository) Upsert(ctx context.Context, f *models.Facility) error {
	return errors.WithStack(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(f).Error)
}

// UserRepository is the read side of the user directory.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns the user or ErrNotFound.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "user_id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errs.ErrNotFound, "user %s", id)
		}
		return nil, errors.WithStack(err)
	}
	return &u, nil
}

// Upsert inserts or replaces a user. Used by the seed command.
func (r *UserRepository) Upsert(ctx context.Context, u *models.User) error {
	return errors.WithStack(r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(u).Error)
}
