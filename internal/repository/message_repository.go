package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/example/helpdesk/internal/models"
)

// MessageRepository stores the message history of requests.
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create appends a message.
func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	return errors.WithStack(r.db.WithContext(ctx).Create(m).Error)
}

// ListByRequest returns the messages of a request, oldest first.
func (r *MessageRepository) ListByRequest(ctx context.Context, requestID string) ([]models.Message, error) {
	var out []models.Message
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("timestamp ASC").
		Find(&out).Error
	return out, errors.WithStack(err)
}
