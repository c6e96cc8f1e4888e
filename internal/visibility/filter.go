// Package visibility derives the read predicate that restricts which requests
// a principal may enumerate. It is pure: the caller supplies the facilities
// the principal currently heads.
package visibility

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
)

// Query holds the caller-supplied list parameters.
type Query struct {
	Status      string
	Facility    string
	Severity    string
	CreatedByMe bool
	AssignedTo  string
	NeedHandle  bool
}

// Predicate is a conjunction of equality filters over request records.
// Zero-valued fields do not constrain.
type Predicate struct {
	Status     models.RequestStatus
	Severity   models.Severity
	Facilities []string
	CreatedBy  string
	AssignedTo string
	// OwnedBy matches created_by = OwnedBy OR assigned_to = OwnedBy.
	OwnedBy    string
	NeedHandle bool
}

// Build computes the predicate for actor. headed lists the facilities actor
// is head manager of right now; it is only consulted for managers.
//
// Precedence: Admin, Manager, Technician, then everyone else as a requester.
func Build(actor models.Principal, q Query, headed []string) (Predicate, error) {
	var p Predicate
	if s := strings.TrimSpace(q.Status); s != "" {
		p.Status = models.RequestStatus(s)
		if !p.Status.Valid() {
			return Predicate{}, errs.Invalid("status", "Invalid status value")
		}
	}
	if s := strings.TrimSpace(q.Severity); s != "" {
		p.Severity = models.Severity(s)
		if !p.Severity.Valid() {
			return Predicate{}, errs.Invalid("severity", "Severity must be one of: Low, Medium, High")
		}
	}
	if f := strings.TrimSpace(q.Facility); f != "" {
		p.Facilities = []string{f}
	}
	assignedTo := strings.TrimSpace(q.AssignedTo)

	caps := actor.Capabilities()
	switch {
	case caps.IsAdmin:
		p.AssignedTo = assignedTo
	case caps.CanManageFacility:
		switch {
		case q.CreatedByMe:
			p.CreatedBy = actor.UserID
		case assignedTo != "":
			p.AssignedTo = assignedTo
		default:
			if len(headed) == 0 {
				return Predicate{}, errors.Wrapf(errs.ErrForbidden, "user %q is not responsible for any facility", actor.UserID)
			}
			p.Facilities = append([]string(nil), headed...)
			p.NeedHandle = q.NeedHandle
		}
	case caps.CanDoTechnicianWork:
		switch {
		case q.CreatedByMe:
			p.CreatedBy = actor.UserID
		case assignedTo != "":
			p.AssignedTo = assignedTo
		default:
			p.OwnedBy = actor.UserID
		}
	default:
		p.OwnedBy = actor.UserID
	}
	return p, nil
}

// Matches evaluates the predicate against one record.
func (p Predicate) Matches(r *models.Request) bool {
	if p.Status != "" && r.Status != p.Status {
		return false
	}
	if p.Severity != "" && r.Severity != p.Severity {
		return false
	}
	if len(p.Facilities) > 0 && !contains(p.Facilities, r.Facility) {
		return false
	}
	if p.CreatedBy != "" && r.CreatedBy != p.CreatedBy {
		return false
	}
	if p.AssignedTo != "" && r.AssignedTo != p.AssignedTo {
		return false
	}
	if p.OwnedBy != "" && r.CreatedBy != p.OwnedBy && r.AssignedTo != p.OwnedBy {
		return false
	}
	if p.NeedHandle && !r.AwaitingDecision() {
		return false
	}
	return true
}

// CanView reports whether actor may read a single request: admins, the
// facility's head manager, the requester, the assignee and the assigning
// manager.
func CanView(actor models.Principal, r *models.Request, f *models.Facility) bool {
	if actor.UserID == "" {
		return false
	}
	caps := actor.Capabilities()
	if caps.IsAdmin {
		return true
	}
	if caps.CanManageFacility && f != nil && f.IsHead(actor.UserID) {
		return true
	}
	switch actor.UserID {
	case r.CreatedBy, r.AssignedTo, r.AssignedBy:
		return true
	}
	return false
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
