package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
)

var (
	requester  = models.Principal{UserID: "U000001", Roles: []string{models.RoleRequester}}
	manager    = models.Principal{UserID: "U000002", Roles: []string{models.RoleManager}}
	technician = models.Principal{UserID: "U000003", Roles: []string{models.RoleTechnician}}
	otherTech  = models.Principal{UserID: "U000004", Roles: []string{models.RoleTechnician}}
	otherMgr   = models.Principal{UserID: "U000005", Roles: []string{models.RoleManager}}
	admin      = models.Principal{UserID: "U000006", Roles: []string{models.RoleAdmin}}
)

func testFacility() *models.Facility {
	return &models.Facility{
		FacilityID:  "F001",
		Name:        "Library",
		HeadManager: manager.UserID,
		Technicians: []string{technician.UserID, otherTech.UserID},
	}
}

func fixedClock() (func() time.Time, *time.Time) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return now }, &now
}

func newRequest(status models.RequestStatus) models.Request {
	created := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	r := models.Request{
		RequestID:   "REQ-1",
		CreatedBy:   requester.UserID,
		Facility:    "F001",
		Title:       "Broken projector",
		Severity:    models.SeverityHigh,
		Description: "Room 101 projector does not turn on",
		Status:      status,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if status != models.StatusUnassigned && status != models.StatusRejected {
		r.AssignedTo = technician.UserID
		r.AssignedBy = manager.UserID
	}
	return r
}

func recipients(ns []models.Notification) map[string]models.NotificationKind {
	out := make(map[string]models.NotificationKind, len(ns))
	for _, n := range ns {
		out[n.Recipient+"/"+string(n.Kind)] = n.Kind
	}
	return out
}

func TestCreate(t *testing.T) {
	clock, now := fixedClock()
	e := NewEngine(clock)

	res, err := e.Create(requester, testFacility(), Draft{
		Facility:    "F001",
		Title:       "Leaking tap",
		Severity:    models.SeverityLow,
		Description: "Second floor washroom",
	})
	require.NoError(t, err)

	r := res.Request
	assert.NotEmpty(t, r.RequestID)
	assert.Equal(t, models.StatusUnassigned, r.Status)
	assert.Empty(t, r.AssignedTo)
	assert.Empty(t, r.AssignedBy)
	assert.Equal(t, *now, r.CreatedAt)
	assert.Equal(t, r.CreatedAt, r.UpdatedAt)
	assert.Equal(t, requester.UserID, r.CreatedBy)

	got := recipients(res.Notifications)
	assert.Contains(t, got, requester.UserID+"/created")
	assert.Contains(t, got, manager.UserID+"/new_request")
}

func TestCreate_Validation(t *testing.T) {
	e := NewEngine(nil)

	_, err := e.Create(requester, testFacility(), Draft{Facility: "F001", Severity: "Urgent"})
	require.ErrorIs(t, err, errs.ErrValidation)
	fields := errs.Fields(err)
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Field)
	}
	assert.ElementsMatch(t, []string{"title", "description", "severity"}, names)

	_, err = e.Create(admin, testFacility(), Draft{Facility: "F001", Title: "t", Description: "d", Severity: models.SeverityLow})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	_, err = e.Create(requester, nil, Draft{Facility: "F404", Title: "t", Description: "d", Severity: models.SeverityLow})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNewEngine_DefaultClockIsUTC(t *testing.T) {
	res, err := NewEngine(nil).Create(requester, testFacility(), Draft{Facility: "F001", Title: "t", Description: "d", Severity: models.SeverityLow})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, res.Request.CreatedAt.Location())
	assert.Equal(t, res.Request.CreatedAt, res.Request.UpdatedAt)
}

func TestCreate_UniqueIDs(t *testing.T) {
	e := NewEngine(nil)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		res, err := e.Create(requester, testFacility(), Draft{Facility: "F001", Title: "t", Description: "d", Severity: models.SeverityMedium})
		require.NoError(t, err)
		require.False(t, seen[res.Request.RequestID], "duplicate id %s", res.Request.RequestID)
		seen[res.Request.RequestID] = true
	}
}

func TestApply_HappyPath(t *testing.T) {
	clock, now := fixedClock()
	e := NewEngine(clock)
	f := testFacility()
	r := newRequest(models.StatusUnassigned)

	res, err := e.Apply(r, f, Command{Action: ActionAssignTechnician, Actor: manager, Payload: Payload{AssignedTo: technician.UserID}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, res.Request.Status)
	assert.Equal(t, technician.UserID, res.Request.AssignedTo)
	assert.Equal(t, manager.UserID, res.Request.AssignedBy)
	assert.Equal(t, *now, res.Request.UpdatedAt)
	got := recipients(res.Notifications)
	assert.Contains(t, got, technician.UserID+"/assigned")
	assert.Contains(t, got, requester.UserID+"/assigned_to_tech")

	res, err = e.Apply(res.Request, f, Command{Action: ActionStartWork, Actor: technician})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWorkInProgress, res.Request.Status)
	assert.Equal(t, "Work is ongoing", res.Request.Remarks)
	got = recipients(res.Notifications)
	assert.Contains(t, got, requester.UserID+"/work_started")
	assert.Contains(t, got, technician.UserID+"/work_started_ack")

	res, err = e.Apply(res.Request, f, Command{Action: ActionUpdateRemarks, Actor: technician, Payload: Payload{Remarks: "Waiting for spare part"}})
	require.NoError(t, err)
	assert.Equal(t, "Waiting for spare part", res.Request.Remarks)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, models.NotifyRemarksUpdated, res.Notifications[0].Kind)

	res, err = e.Apply(res.Request, f, Command{Action: ActionCompleteWork, Actor: technician})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, res.Request.Status)
	assert.Equal(t, "Work completed", res.Request.Remarks)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, requester.UserID, res.Notifications[0].Recipient)
	assert.Equal(t, models.NotifyCompleted, res.Notifications[0].Kind)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	e := NewEngine(nil)
	r := newRequest(models.StatusUnassigned)
	before := r

	_, err := e.Apply(r, testFacility(), Command{Action: ActionAssignTechnician, Actor: manager, Payload: Payload{AssignedTo: technician.UserID}})
	require.NoError(t, err)
	assert.Equal(t, before, r)

	_, err = e.Apply(r, testFacility(), Command{Action: ActionStartWork, Actor: technician})
	require.Error(t, err)
	assert.Equal(t, before, r)
}

func TestApply_InvalidTransitions(t *testing.T) {
	e := NewEngine(nil)
	f := testFacility()

	cases := []struct {
		name   string
		status models.RequestStatus
		cmd    Command
	}{
		{"assign when assigned", models.StatusAssigned, Command{Action: ActionAssignTechnician, Actor: manager, Payload: Payload{AssignedTo: technician.UserID}}},
		{"reject when in progress", models.StatusWorkInProgress, Command{Action: ActionManagerReject, Actor: manager, Payload: Payload{Remarks: "no"}}},
		{"start when unassigned", models.StatusUnassigned, Command{Action: ActionStartWork, Actor: technician}},
		{"start when in progress", models.StatusWorkInProgress, Command{Action: ActionStartWork, Actor: technician}},
		{"remarks when assigned", models.StatusAssigned, Command{Action: ActionUpdateRemarks, Actor: technician, Payload: Payload{Remarks: "x"}}},
		{"complete when assigned", models.StatusAssigned, Command{Action: ActionCompleteWork, Actor: technician}},
		{"complete when closed", models.StatusClosed, Command{Action: ActionCompleteWork, Actor: technician}},
		{"closing reason when closed", models.StatusClosed, Command{Action: ActionSubmitClosingReason, Actor: requester, Payload: Payload{ClosingReason: "x"}}},
		{"closing reason when rejected", models.StatusRejected, Command{Action: ActionSubmitClosingReason, Actor: requester, Payload: Payload{ClosingReason: "x"}}},
		{"approve without reason", models.StatusWorkInProgress, Command{Action: ActionManagerApprove, Actor: manager}},
		{"decline without reason", models.StatusAssigned, Command{Action: ActionManagerDecline, Actor: manager}},
		{"unknown action", models.StatusUnassigned, Command{Action: "reopen", Actor: manager}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Apply(newRequest(tc.status), f, tc.cmd)
			assert.ErrorIs(t, err, errs.ErrInvalidTransition)
		})
	}
}

func TestApply_TerminalStatesHaveNoExits(t *testing.T) {
	e := NewEngine(nil)
	f := testFacility()
	actors := []models.Principal{requester, manager, technician, admin}
	for _, status := range []models.RequestStatus{models.StatusClosed, models.StatusRejected} {
		for _, a := range Actions() {
			for _, actor := range actors {
				r := newRequest(status)
				r.ClosingReason = "pending"
				_, err := e.Apply(r, f, Command{Action: a, Actor: actor, Payload: Payload{
					AssignedTo: technician.UserID, Remarks: "r", ClosingReason: "c",
				}})
				assert.ErrorIs(t, err, errs.ErrInvalidTransition, "%s %s by %s", status, a, actor.UserID)
			}
		}
	}
}

func TestApply_Unauthorized(t *testing.T) {
	e := NewEngine(nil)
	f := testFacility()

	cases := []struct {
		name   string
		status models.RequestStatus
		cmd    Command
	}{
		{"assign by other manager", models.StatusUnassigned, Command{Action: ActionAssignTechnician, Actor: otherMgr, Payload: Payload{AssignedTo: technician.UserID}}},
		{"assign by technician", models.StatusUnassigned, Command{Action: ActionAssignTechnician, Actor: technician, Payload: Payload{AssignedTo: technician.UserID}}},
		{"assign by admin", models.StatusUnassigned, Command{Action: ActionAssignTechnician, Actor: admin, Payload: Payload{AssignedTo: technician.UserID}}},
		{"reject by requester", models.StatusUnassigned, Command{Action: ActionManagerReject, Actor: requester, Payload: Payload{Remarks: "no"}}},
		{"reject by other manager", models.StatusUnassigned, Command{Action: ActionManagerReject, Actor: otherMgr, Payload: Payload{Remarks: "no"}}},
		{"start by other technician", models.StatusAssigned, Command{Action: ActionStartWork, Actor: otherTech}},
		{"start by head manager", models.StatusAssigned, Command{Action: ActionStartWork, Actor: manager}},
		{"remarks by requester", models.StatusWorkInProgress, Command{Action: ActionUpdateRemarks, Actor: requester, Payload: Payload{Remarks: "x"}}},
		{"complete by other technician", models.StatusWorkInProgress, Command{Action: ActionCompleteWork, Actor: otherTech}},
		{"closing reason by technician", models.StatusWorkInProgress, Command{Action: ActionSubmitClosingReason, Actor: technician, Payload: Payload{ClosingReason: "x"}}},
		{"anonymous", models.StatusAssigned, Command{Action: ActionStartWork, Actor: models.Principal{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Apply(newRequest(tc.status), f, tc.cmd)
			assert.ErrorIs(t, err, errs.ErrUnauthorized)
		})
	}

	t.Run("decision by other manager", func(t *testing.T) {
		r := newRequest(models.StatusWorkInProgress)
		r.ClosingReason = "fixed it myself"
		for _, a := range []Action{ActionManagerApprove, ActionManagerDecline} {
			_, err := e.Apply(r, f, Command{Action: a, Actor: otherMgr})
			assert.ErrorIs(t, err, errs.ErrUnauthorized)
		}
	})

	t.Run("facility missing", func(t *testing.T) {
		_, err := e.Apply(newRequest(models.StatusUnassigned), nil, Command{Action: ActionAssignTechnician, Actor: manager, Payload: Payload{AssignedTo: technician.UserID}})
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
	})

	t.Run("headship moved", func(t *testing.T) {
		moved := testFacility()
		moved.HeadManager = otherMgr.UserID
		_, err := e.Apply(newRequest(models.StatusUnassigned), moved, Command{Action: ActionManagerReject, Actor: manager, Payload: Payload{Remarks: "no"}})
		assert.ErrorIs(t, err, errs.ErrUnauthorized)
		_, err = e.Apply(newRequest(models.StatusUnassigned), moved, Command{Action: ActionManagerReject, Actor: otherMgr, Payload: Payload{Remarks: "no"}})
		assert.NoError(t, err)
	})
}

func TestApply_AssignRequiresRosterMember(t *testing.T) {
	e := NewEngine(nil)
	r := newRequest(models.StatusUnassigned)

	_, err := e.Apply(r, testFacility(), Command{Action: ActionAssignTechnician, Actor: manager, Payload: Payload{AssignedTo: "U999999"}})
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Equal(t, "assigned_to", errs.Fields(err)[0].Field)

	_, err = e.Apply(r, testFacility(), Command{Action: ActionAssignTechnician, Actor: manager})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestApply_ManagerReject(t *testing.T) {
	e := NewEngine(nil)
	r := newRequest(models.StatusUnassigned)

	_, err := e.Apply(r, testFacility(), Command{Action: ActionManagerReject, Actor: manager})
	require.ErrorIs(t, err, errs.ErrValidation)

	res, err := e.Apply(r, testFacility(), Command{Action: ActionManagerReject, Actor: manager, Payload: Payload{Remarks: "Duplicate of REQ-0"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Request.Status)
	assert.Equal(t, "Duplicate of REQ-0", res.Request.Remarks)
	assert.Empty(t, res.Request.AssignedTo)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, models.NotifyRejected, res.Notifications[0].Kind)
	assert.Equal(t, requester.UserID, res.Notifications[0].Recipient)
}

func TestApply_ClosingReasonDeclineThenApproveFails(t *testing.T) {
	e := NewEngine(nil)
	f := testFacility()
	r := newRequest(models.StatusWorkInProgress)

	res, err := e.Apply(r, f, Command{Action: ActionSubmitClosingReason, Actor: requester, Payload: Payload{ClosingReason: "fixed it myself"}})
	require.NoError(t, err)
	assert.Equal(t, "fixed it myself", res.Request.ClosingReason)
	assert.Equal(t, models.HandleUnset, res.Request.ManagerHandle)
	assert.Equal(t, models.StatusWorkInProgress, res.Request.Status)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, manager.UserID, res.Notifications[0].Recipient)
	assert.Equal(t, models.NotifyApprovalNeeded, res.Notifications[0].Kind)

	_, err = e.Apply(res.Request, f, Command{Action: ActionSubmitClosingReason, Actor: requester, Payload: Payload{ClosingReason: "again"}})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition, "pending reason blocks resubmission")

	res, err = e.Apply(res.Request, f, Command{Action: ActionManagerDecline, Actor: manager})
	require.NoError(t, err)
	assert.Equal(t, models.HandleDecline, res.Request.ManagerHandle)
	assert.Equal(t, models.StatusWorkInProgress, res.Request.Status)
	assert.Equal(t, "fixed it myself", res.Request.ClosingReason)
	assert.Equal(t, models.NotifyClosingDeclined, res.Notifications[0].Kind)

	_, err = e.Apply(res.Request, f, Command{Action: ActionManagerApprove, Actor: manager})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	_, err = e.Apply(res.Request, f, Command{Action: ActionManagerDecline, Actor: manager})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	// The requester may propose closure again after a decline.
	res, err = e.Apply(res.Request, f, Command{Action: ActionSubmitClosingReason, Actor: requester, Payload: Payload{ClosingReason: "really fixed now"}})
	require.NoError(t, err)
	assert.Equal(t, "really fixed now", res.Request.ClosingReason)
	assert.Equal(t, models.HandleUnset, res.Request.ManagerHandle)
}

func TestApply_ClosingReasonApprove(t *testing.T) {
	e := NewEngine(nil)
	f := testFacility()
	r := newRequest(models.StatusUnassigned)

	res, err := e.Apply(r, f, Command{Action: ActionSubmitClosingReason, Actor: requester, Payload: Payload{ClosingReason: "no longer needed"}})
	require.NoError(t, err)

	res, err = e.Apply(res.Request, f, Command{Action: ActionManagerApprove, Actor: manager, Payload: Payload{Remarks: "ok"}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, res.Request.Status)
	assert.Equal(t, models.HandleApprove, res.Request.ManagerHandle)
	assert.Equal(t, "ok", res.Request.Remarks)
	assert.Equal(t, models.NotifyClosingApproved, res.Notifications[0].Kind)

	_, err = e.Apply(res.Request, f, Command{Action: ActionManagerDecline, Actor: manager})
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestApply_SubmitClosingReasonRequiresText(t *testing.T) {
	e := NewEngine(nil)
	_, err := e.Apply(newRequest(models.StatusAssigned), testFacility(), Command{Action: ActionSubmitClosingReason, Actor: requester, Payload: Payload{ClosingReason: "   "}})
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions() {
		got, ok := ParseAction(string(a))
		assert.True(t, ok)
		assert.Equal(t, a, got)
	}
	_, ok := ParseAction("delete_everything")
	assert.False(t, ok)
}
