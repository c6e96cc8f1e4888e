package models

import "time"

// NotificationKind names the template a recipient is notified with.
type NotificationKind string

const (
	NotifyCreated         NotificationKind = "created"
	NotifyNewRequest      NotificationKind = "new_request"
	NotifyAssigned        NotificationKind = "assigned"
	NotifyAssignedToTech  NotificationKind = "assigned_to_tech"
	NotifyRejected        NotificationKind = "rejected"
	NotifyWorkStarted     NotificationKind = "work_started"
	NotifyWorkStartedAck  NotificationKind = "work_started_ack"
	NotifyRemarksUpdated  NotificationKind = "remarks_updated"
	NotifyCompleted       NotificationKind = "completed"
	NotifyApprovalNeeded  NotificationKind = "approval_needed"
	NotifyClosingApproved NotificationKind = "closing_approved"
	NotifyClosingDeclined NotificationKind = "closing_declined"
)

// Notification is an obligation to tell one user about a request event.
// Delivery is best-effort and happens after the state change is stored.
type Notification struct {
	RequestID  string           `json:"request_id"`
	Recipient  string           `json:"recipient"`
	Kind       NotificationKind `json:"kind"`
	Facility   string           `json:"facility"`
	Title      string           `json:"title"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NewNotification builds a notification about r for recipient.
func NewNotification(r *Request, recipient string, kind NotificationKind) Notification {
	return Notification{
		RequestID:  r.RequestID,
		Recipient:  recipient,
		Kind:       kind,
		Facility:   r.Facility,
		Title:      r.Title,
		OccurredAt: r.UpdatedAt,
	}
}
