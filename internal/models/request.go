package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// RequestStatus describes the life-cycle state of a helpdesk request.
type RequestStatus string

const (
	StatusUnassigned     RequestStatus = "Unassigned"
	StatusAssigned       RequestStatus = "Assigned"
	StatusWorkInProgress RequestStatus = "Work in progress"
	StatusClosed         RequestStatus = "Closed"
	StatusRejected       RequestStatus = "Rejected"
)

// Valid reports whether s is one of the known statuses.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusUnassigned, StatusAssigned, StatusWorkInProgress, StatusClosed, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no lifecycle transition may leave s.
func (s RequestStatus) Terminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// Severity is the requester-supplied urgency.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// ManagerHandle records the head manager's decision on a closing reason.
// The empty value means no decision has been made.
type ManagerHandle string

const (
	HandleUnset   ManagerHandle = ""
	HandleApprove ManagerHandle = "approve"
	HandleDecline ManagerHandle = "decline"
)

func (h ManagerHandle) Valid() bool {
	return h == HandleUnset || h == HandleApprove || h == HandleDecline
}

// Request is a maintenance/service request raised against a facility.
type Request struct {
	RequestID     string        `gorm:"primaryKey;type:varchar(64)" json:"request_id"`
	CreatedBy     string        `gorm:"type:varchar(64);index;not null" json:"created_by"`
	AssignedTo    string        `gorm:"type:varchar(64);index" json:"assigned_to,omitempty"`
	AssignedBy    string        `gorm:"type:varchar(64)" json:"assigned_by,omitempty"`
	Facility      string        `gorm:"type:varchar(64);index;not null" json:"facility"`
	Title         string        `gorm:"type:varchar(255);not null" json:"title"`
	Severity      Severity      `gorm:"type:varchar(16);not null" json:"severity"`
	Description   string        `gorm:"type:text;not null" json:"description"`
	Status        RequestStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	Remarks       string        `gorm:"type:text" json:"remarks,omitempty"`
	ClosingReason string        `gorm:"type:text" json:"closing_reason,omitempty"`
	ManagerHandle ManagerHandle `gorm:"type:varchar(16)" json:"manager_handle,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// AwaitingDecision reports whether a closing reason is pending the head
// manager's approve/decline decision. Closed and Rejected requests never are.
func (r *Request) AwaitingDecision() bool {
	return !r.Status.Terminal() && r.ClosingReason != "" && r.ManagerHandle == HandleUnset
}

// NewRequestID returns an opaque, time-ordered request identifier.
func NewRequestID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "generate request id")
	}
	return "REQ-" + id.String(), nil
}

// BeforeCreate is a GORM hook that populates the primary key and initial state.
func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.RequestID == "" {
		id, err := NewRequestID()
		if err != nil {
			return err
		}
		r.RequestID = id
	}
	if r.Status == "" {
		r.Status = StatusUnassigned
	}
	return nil
}
