package repository

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
	"github.com/example/helpdesk/internal/visibility"
)

// RequestRepository provides persistence access for Request entities.
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository constructs a repository using the provided gorm DB.
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create persists a new request.
func (r *RequestRepository) Create(ctx context.Context, req *models.Request) error {
	err := r.db.WithContext(ctx).Create(req).Error
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrapf(errs.ErrConflict, "request %s already exists", req.RequestID)
	}
	return errors.WithStack(err)
}

// FindByID returns the request by its external identifier.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.Request, error) {
	var req models.Request
	if err := r.db.WithContext(ctx).First(&req, "request_id = ?", id).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(errs.ErrNotFound, "request %s", id)
		}
		return nil, errors.WithStack(err)
	}
	return &req, nil
}

// List returns one page of requests matching p, newest first, and the total
// number of matches.
func (r *RequestRepository) List(ctx context.Context, p visibility.Predicate, offset, limit int) ([]models.Request, int64, error) {
	tx := applyPredicate(r.db.WithContext(ctx).Model(&models.Request{}), p)

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, errors.WithStack(err)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	var items []models.Request
	if err := tx.Order("created_at DESC").Find(&items).Error; err != nil {
		return nil, 0, errors.WithStack(err)
	}
	return items, total, nil
}

// UpdateIfUnchanged writes the lifecycle columns of next only if the stored
// record still carries prev's status, manager handle, closing reason and
// assignee. A lost race returns ErrConflict; the stored row is untouched.
func (r *RequestRepository) UpdateIfUnchanged(ctx context.Context, prev, next *models.Request) error {
	res := r.db.WithContext(ctx).
		Model(&models.Request{}).
		Where("request_id = ? AND status = ? AND manager_handle = ? AND closing_reason = ? AND assigned_to = ?",
			prev.RequestID, string(prev.Status), string(prev.ManagerHandle), prev.ClosingReason, prev.AssignedTo).
		Updates(map[string]any{
			"status":         string(next.Status),
			"assigned_to":    next.AssignedTo,
			"assigned_by":    next.AssignedBy,
			"remarks":        next.Remarks,
			"closing_reason": next.ClosingReason,
			"manager_handle": string(next.ManagerHandle),
			"updated_at":     next.UpdatedAt,
		})
	if res.Error != nil {
		return errors.WithStack(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Request{}).Where("request_id = ?", prev.RequestID).Count(&n).Error; err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return errors.Wrapf(errs.ErrNotFound, "request %s", prev.RequestID)
	}
	return errors.Wrapf(errs.ErrConflict, "request %s was modified concurrently", prev.RequestID)
}

// Delete removes the request permanently.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("request_id = ?", id).Delete(&models.Request{})
	if res.Error != nil {
		return errors.WithStack(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(errs.ErrNotFound, "request %s", id)
	}
	return nil
}

func applyPredicate(tx *gorm.DB, p visibility.Predicate) *gorm.DB {
	if p.Status != "" {
		tx = tx.Where("status = ?", string(p.Status))
	}
	if p.Severity != "" {
		tx = tx.Where("severity = ?", string(p.Severity))
	}
	switch len(p.Facilities) {
	case 0:
	case 1:
		tx = tx.Where("facility = ?", p.Facilities[0])
	default:
		tx = tx.Where("facility IN ?", p.Facilities)
	}
	if p.CreatedBy != "" {
		tx = tx.Where("created_by = ?", p.CreatedBy)
	}
	if p.AssignedTo != "" {
		tx = tx.Where("assigned_to = ?", p.AssignedTo)
	}
	if p.OwnedBy != "" {
		tx = tx.Where("(created_by = ? OR assigned_to = ?)", p.OwnedBy, p.OwnedBy)
	}
	if p.NeedHandle {
		tx = tx.Where("closing_reason <> '' AND manager_handle = '' AND status NOT IN ?",
			[]string{string(models.StatusClosed), string(models.StatusRejected)})
	}
	return tx
}
