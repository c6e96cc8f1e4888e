// Package lifecycle implements the request state machine: which actor may
// move a request between states, what the resulting record looks like, and
// who has to be told about it.
//
// The engine is pure. It never reads or writes storage; callers hand it the
// current record and the request's facility and persist the returned record
// with a conditional update.
package lifecycle

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
)

// Action selects a transition.
type Action string

const (
	ActionAssignTechnician    Action = "assign_technician"
	ActionManagerReject       Action = "manager_reject"
	ActionStartWork           Action = "start_work"
	ActionUpdateRemarks       Action = "update_remarks"
	ActionCompleteWork        Action = "complete_work"
	ActionSubmitClosingReason Action = "submit_closing_reason"
	ActionManagerApprove      Action = "manager_approve"
	ActionManagerDecline      Action = "manager_decline"
)

const (
	remarksWorkStarted     = "Work is ongoing"
	remarksWorkCompleted   = "Work completed"
	remarksClosingApproved = "Closing request approved by manager"
	remarksClosingDeclined = "Closing request declined by manager"
)

// Payload carries the action-specific inputs. Fields not used by the selected
// action are ignored.
type Payload struct {
	AssignedTo    string
	Remarks       string
	ClosingReason string
}

// Command is one actor's attempt to apply an action.
type Command struct {
	Action  Action
	Actor   models.Principal
	Payload Payload
}

// Draft is the requester-supplied part of a new request.
type Draft struct {
	Facility    string
	Title       string
	Severity    models.Severity
	Description string
}

// Result is the outcome of an accepted transition.
type Result struct {
	Request       models.Request
	Notifications []models.Notification
}

type transition struct {
	// from is the state guard; a false result is an InvalidTransition.
	from func(r *models.Request) bool
	// authorize is the relationship guard; a false result is Unauthorized.
	authorize func(actor models.Principal, r *models.Request, f *models.Facility) bool
	apply     func(next *models.Request, actor models.Principal, p Payload, f *models.Facility) error
	notify    func(r *models.Request, f *models.Facility) []models.Notification
}

// Engine applies transitions. The zero value is not usable; see NewEngine.
type Engine struct {
	now         func() time.Time
	transitions map[Action]transition
}

// NewEngine returns an engine stamping updated_at with clock. A nil clock
// uses time.Now in UTC.
func NewEngine(clock func() time.Time) *Engine {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{now: clock, transitions: table()}
}

// ParseAction validates a wire action name.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.TrimSpace(s))
	_, ok := table()[a]
	return a, ok
}

// Actions lists every action the engine understands.
func Actions() []Action {
	return []Action{
		ActionAssignTechnician,
		ActionManagerReject,
		ActionStartWork,
		ActionUpdateRemarks,
		ActionCompleteWork,
		ActionSubmitClosingReason,
		ActionManagerApprove,
		ActionManagerDecline,
	}
}

// Apply checks cmd against current and returns the next record state and the
// notifications it raises. current is never modified. facility may be nil
// when the request's facility no longer exists; manager-only actions then
// fail as Unauthorized.
func (e *Engine) Apply(current models.Request, facility *models.Facility, cmd Command) (Result, error) {
	t, ok := e.transitions[cmd.Action]
	if !ok {
		return Result{}, errors.Wrapf(errs.ErrInvalidTransition, "unknown action %q", cmd.Action)
	}
	if !t.from(&current) {
		return Result{}, errors.Wrapf(errs.ErrInvalidTransition, "%s not allowed from status %q", cmd.Action, current.Status)
	}
	if cmd.Actor.UserID == "" || !t.authorize(cmd.Actor, &current, facility) {
		return Result{}, errors.Wrapf(errs.ErrUnauthorized, "%s not permitted for user %q on request %s", cmd.Action, cmd.Actor.UserID, current.RequestID)
	}

	next := current
	if err := t.apply(&next, cmd.Actor, cmd.Payload, facility); err != nil {
		return Result{}, err
	}
	next.UpdatedAt = e.now()

	return Result{Request: next, Notifications: compact(t.notify(&next, facility))}, nil
}

// Create validates a draft and returns the initial record, which starts
// Unassigned with created_at == updated_at.
func (e *Engine) Create(actor models.Principal, facility *models.Facility, d Draft) (Result, error) {
	if actor.UserID == "" || !actor.Capabilities().CanRequest {
		return Result{}, errors.Wrapf(errs.ErrUnauthorized, "user %q may not create requests", actor.UserID)
	}
	var fields []errs.FieldError
	if strings.TrimSpace(d.Title) == "" {
		fields = append(fields, errs.FieldError{Field: "title", Message: "Title is required"})
	}
	if strings.TrimSpace(d.Description) == "" {
		fields = append(fields, errs.FieldError{Field: "description", Message: "Description is required"})
	}
	if !d.Severity.Valid() {
		fields = append(fields, errs.FieldError{Field: "severity", Message: "Severity must be one of: Low, Medium, High"})
	}
	if strings.TrimSpace(d.Facility) == "" {
		fields = append(fields, errs.FieldError{Field: "facility", Message: "Facility is required"})
	}
	if len(fields) > 0 {
		return Result{}, &errs.ValidationError{Fields: fields}
	}
	if facility == nil || facility.FacilityID != d.Facility {
		return Result{}, errors.Wrapf(errs.ErrNotFound, "facility %q", d.Facility)
	}

	id, err := models.NewRequestID()
	if err != nil {
		return Result{}, err
	}
	now := e.now()
	r := models.Request{
		RequestID:   id,
		CreatedBy:   actor.UserID,
		Facility:    facility.FacilityID,
		Title:       strings.TrimSpace(d.Title),
		Severity:    d.Severity,
		Description: d.Description,
		Status:      models.StatusUnassigned,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return Result{
		Request: r,
		Notifications: compact([]models.Notification{
			models.NewNotification(&r, r.CreatedBy, models.NotifyCreated),
			models.NewNotification(&r, facility.HeadManager, models.NotifyNewRequest),
		}),
	}, nil
}

func table() map[Action]transition {
	return map[Action]transition{
		ActionAssignTechnician: {
			from:      statusIs(models.StatusUnassigned),
			authorize: isFacilityHead,
			apply: func(next *models.Request, actor models.Principal, p Payload, f *models.Facility) error {
				tech := strings.TrimSpace(p.AssignedTo)
				if tech == "" {
					return errs.Invalid("assigned_to", "technician is required")
				}
				if !f.HasTechnician(tech) {
					return errs.Invalid("assigned_to", "technician is not on the facility roster")
				}
				next.Status = models.StatusAssigned
				next.AssignedTo = tech
				next.AssignedBy = actor.UserID
				if r := strings.TrimSpace(p.Remarks); r != "" {
					next.Remarks = r
				}
				return nil
			},
			notify: func(r *models.Request, _ *models.Facility) []models.Notification {
				return []models.Notification{
					models.NewNotification(r, r.AssignedTo, models.NotifyAssigned),
					models.NewNotification(r, r.CreatedBy, models.NotifyAssignedToTech),
				}
			},
		},
		ActionManagerReject: {
			from:      statusIs(models.StatusUnassigned),
			authorize: isFacilityHead,
			apply: func(next *models.Request, _ models.Principal, p Payload, _ *models.Facility) error {
				reason := strings.TrimSpace(p.Remarks)
				if reason == "" {
					return errs.Invalid("remarks", "rejection reason is required")
				}
				next.Status = models.StatusRejected
				next.Remarks = reason
				return nil
			},
			notify: toRequester(models.NotifyRejected),
		},
		ActionStartWork: {
			from:      statusIs(models.StatusAssigned),
			authorize: isAssignee,
			apply: func(next *models.Request, _ models.Principal, _ Payload, _ *models.Facility) error {
				next.Status = models.StatusWorkInProgress
				next.Remarks = remarksWorkStarted
				return nil
			},
			notify: func(r *models.Request, _ *models.Facility) []models.Notification {
				return []models.Notification{
					models.NewNotification(r, r.CreatedBy, models.NotifyWorkStarted),
					models.NewNotification(r, r.AssignedTo, models.NotifyWorkStartedAck),
				}
			},
		},
		ActionUpdateRemarks: {
			from:      statusIs(models.StatusWorkInProgress),
			authorize: isAssignee,
			apply: func(next *models.Request, _ models.Principal, p Payload, _ *models.Facility) error {
				remarks := strings.TrimSpace(p.Remarks)
				if remarks == "" {
					return errs.Invalid("remarks", "Remarks cannot be empty if provided")
				}
				next.Remarks = remarks
				return nil
			},
			notify: func(r *models.Request, _ *models.Facility) []models.Notification {
				return []models.Notification{models.NewNotification(r, r.AssignedTo, models.NotifyRemarksUpdated)}
			},
		},
		ActionCompleteWork: {
			from:      statusIs(models.StatusWorkInProgress),
			authorize: isAssignee,
			apply: func(next *models.Request, _ models.Principal, _ Payload, _ *models.Facility) error {
				next.Status = models.StatusClosed
				next.Remarks = remarksWorkCompleted
				return nil
			},
			notify: toRequester(models.NotifyCompleted),
		},
		ActionSubmitClosingReason: {
			// A declined reason is history; the requester may propose again.
			from: func(r *models.Request) bool {
				if r.Status.Terminal() {
					return false
				}
				return r.ClosingReason == "" || r.ManagerHandle == models.HandleDecline
			},
			authorize: func(actor models.Principal, r *models.Request, _ *models.Facility) bool {
				return actor.Capabilities().CanRequest && actor.UserID == r.CreatedBy
			},
			apply: func(next *models.Request, _ models.Principal, p Payload, _ *models.Facility) error {
				reason := strings.TrimSpace(p.ClosingReason)
				if reason == "" {
					return errs.Invalid("closing_reason", "closing reason is required")
				}
				next.ClosingReason = reason
				next.ManagerHandle = models.HandleUnset
				return nil
			},
			notify: func(r *models.Request, f *models.Facility) []models.Notification {
				if f == nil {
					return nil
				}
				return []models.Notification{models.NewNotification(r, f.HeadManager, models.NotifyApprovalNeeded)}
			},
		},
		ActionManagerApprove: {
			from:      awaitingDecision,
			authorize: isFacilityHead,
			apply: func(next *models.Request, _ models.Principal, p Payload, _ *models.Facility) error {
				next.Status = models.StatusClosed
				next.ManagerHandle = models.HandleApprove
				next.Remarks = orDefault(p.Remarks, remarksClosingApproved)
				return nil
			},
			notify: toRequester(models.NotifyClosingApproved),
		},
		ActionManagerDecline: {
			from:      awaitingDecision,
			authorize: isFacilityHead,
			apply: func(next *models.Request, _ models.Principal, p Payload, _ *models.Facility) error {
				next.ManagerHandle = models.HandleDecline
				next.Remarks = orDefault(p.Remarks, remarksClosingDeclined)
				return nil
			},
			notify: toRequester(models.NotifyClosingDeclined),
		},
	}
}

func statusIs(s models.RequestStatus) func(*models.Request) bool {
	return func(r *models.Request) bool { return r.Status == s }
}

func awaitingDecision(r *models.Request) bool {
	return r.AwaitingDecision()
}

// isFacilityHead re-derives headship from the facility record on every call.
func isFacilityHead(actor models.Principal, _ *models.Request, f *models.Facility) bool {
	return f != nil && actor.Capabilities().CanManageFacility && f.IsHead(actor.UserID)
}

func isAssignee(actor models.Principal, r *models.Request, _ *models.Facility) bool {
	return r.AssignedTo != "" && actor.Capabilities().CanDoTechnicianWork && actor.UserID == r.AssignedTo
}

func toRequester(kind models.NotificationKind) func(*models.Request, *models.Facility) []models.Notification {
	return func(r *models.Request, _ *models.Facility) []models.Notification {
		return []models.Notification{models.NewNotification(r, r.CreatedBy, kind)}
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func compact(ns []models.Notification) []models.Notification {
	out := ns[:0]
	for _, n := range ns {
		if n.Recipient != "" {
			out = append(out, n)
		}
	}
	return out
}
