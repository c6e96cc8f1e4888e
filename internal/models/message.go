package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// MessageType classifies an entry in a request's message history.
type MessageType string

const (
	MessageCreated      MessageType = "created"
	MessageStatusChange MessageType = "status-change"
)

// Message is a persisted record of one lifecycle event and the users who
// were notified about it.
type Message struct {
	MessageID    string         `gorm:"primaryKey;type:varchar(64)" json:"message_id"`
	MessageType  MessageType    `gorm:"type:varchar(32);not null" json:"message_type"`
	SenderID     string         `gorm:"type:varchar(64);index;not null" json:"sender_id"`
	RecipientIDs pq.StringArray `gorm:"type:text[]" json:"recipient_ids"`
	Message      string         `gorm:"type:text;not null" json:"message"`
	RequestID    string         `gorm:"type:varchar(64);index" json:"request_id"`
	Timestamp    time.Time      `gorm:"not null" json:"timestamp"`
}

// BeforeCreate populates the primary key.
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.MessageID != "" {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return errors.Wrap(err, "generate message id")
	}
	m.MessageID = "MSG-" + id.String()
	return nil
}

// Recipients returns the distinct recipients of ns in order of appearance.
func Recipients(ns []Notification) []string {
	seen := make(map[string]bool, len(ns))
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		if n.Recipient == "" || seen[n.Recipient] {
			continue
		}
		seen[n.Recipient] = true
		out = append(out, n.Recipient)
	}
	return out
}
