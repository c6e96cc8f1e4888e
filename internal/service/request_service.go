package service

import (
	"context"
	stderrors "errors"
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/lifecycle"
	"github.com/example/helpdesk/internal/metrics"
	"github.com/example/helpdesk/internal/models"
	"github.com/example/helpdesk/internal/visibility"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// RequestStore is the persistence the service needs.
type RequestStore interface {
	Create(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, p visibility.Predicate, offset, limit int) ([]models.Request, int64, error)
	UpdateIfUnchanged(ctx context.Context, prev, next *models.Request) error
	Delete(ctx context.Context, id string) error
}

// FacilityDirectory is the read-only facility lookup.
type FacilityDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Facility, error)
	HeadedBy(ctx context.Context, userID string) ([]string, error)
}

// Outbox accepts notifications for delivery after a change is stored.
// Implementations must not block on delivery.
type Outbox interface {
	Enqueue(ctx context.Context, ns []models.Notification) error
}

// MessageLog keeps the message history of requests.
type MessageLog interface {
	Create(ctx context.Context, m *models.Message) error
	ListByRequest(ctx context.Context, requestID string) ([]models.Message, error)
}

// RequestService contains the business operations on helpdesk requests.
type RequestService struct {
	store      RequestStore
	facilities FacilityDirectory
	engine     *lifecycle.Engine
	outbox     Outbox
	messages   MessageLog
	log        logrus.FieldLogger
}

// NewRequestService builds a service with dependencies.
func NewRequestService(store RequestStore, facilities FacilityDirectory, engine *lifecycle.Engine, outbox Outbox, messages MessageLog, log logrus.FieldLogger) *RequestService {
	return &RequestService{store: store, facilities: facilities, engine: engine, outbox: outbox, messages: messages, log: log}
}

// UpdateInput is the body of the update endpoint.
type UpdateInput struct {
	Action        string
	Status        string
	ManagerHandle string
	Payload       lifecycle.Payload
}

// Page is one page of a list result.
type Page struct {
	TotalItems  int64            `json:"totalItems"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
	Data        []models.Request `json:"data"`
}

// Create validates the draft against its facility and stores a new
// Unassigned request.
func (s *RequestService) Create(ctx context.Context, actor models.Principal, d lifecycle.Draft) (*models.Request, error) {
	facility, err := s.facility(ctx, d.Facility)
	if err != nil {
		return nil, err
	}
	res, err := s.engine.Create(actor, facility, d)
	if err != nil {
		return nil, err
	}
	req := res.Request
	if err := s.store.Create(ctx, &req); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"facility":   req.Facility,
		"actor":      actor.UserID,
	}).Info("request created")
	s.record(ctx, actor, &req, models.MessageCreated, "Request created: "+req.Title, res.Notifications)
	s.enqueue(ctx, req.RequestID, res.Notifications)
	return &req, nil
}

// Get returns a single request the actor is allowed to see.
func (s *RequestService) Get(ctx context.Context, actor models.Principal, id string) (*models.Request, error) {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	facility, err := s.facility(ctx, req.Facility)
	if err != nil {
		return nil, err
	}
	if !visibility.CanView(actor, req, facility) {
		return nil, errors.Wrapf(errs.ErrUnauthorized, "user %q may not view request %s", actor.UserID, id)
	}
	return req, nil
}

// List returns the page of requests visible to actor.
func (s *RequestService) List(ctx context.Context, actor models.Principal, q visibility.Query, page, limit int) (*Page, error) {
	if page < 1 || limit < 1 {
		return nil, errs.Invalid("page", "Page and limit must be greater than 0")
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page-1 > math.MaxInt/limit {
		return nil, errs.Invalid("page", "Page is out of range")
	}

	var headed []string
	if caps := actor.Capabilities(); caps.CanManageFacility && !caps.IsAdmin {
		var err error
		if headed, err = s.facilities.HeadedBy(ctx, actor.UserID); err != nil {
			return nil, err
		}
	}
	pred, err := visibility.Build(actor, q, headed)
	if err != nil {
		return nil, err
	}

	items, total, err := s.store.List(ctx, pred, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Request{}
	}
	return &Page{
		TotalItems:  total,
		TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
		CurrentPage: page,
		Data:        items,
	}, nil
}

// Update applies one lifecycle action and stores the result with a
// conditional write. Notifications are handed to the outbox only after the
// write succeeded.
func (s *RequestService) Update(ctx context.Context, actor models.Principal, id string, in UpdateInput) (*models.Request, error) {
	if in.Status != "" && !models.RequestStatus(in.Status).Valid() {
		return nil, errs.Invalid("status", "Invalid status value")
	}
	if !models.ManagerHandle(in.ManagerHandle).Valid() {
		return nil, errs.Invalid("manager_handle", "manager_handle must be approve or decline")
	}

	action, known := lifecycle.ParseAction(in.Action)
	label := string(action)
	if !known {
		label = "unknown"
	}
	logger := s.log.WithFields(logrus.Fields{
		"request_id": id,
		"action":     in.Action,
		"actor":      actor.UserID,
	})

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	facility, err := s.facility(ctx, current.Facility)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Apply(*current, facility, lifecycle.Command{Action: action, Actor: actor, Payload: in.Payload})
	if err != nil {
		metrics.ObserveTransition(label, errs.KindOf(err))
		logger.WithError(err).Info("transition refused")
		return nil, err
	}
	next := res.Request
	if err := s.store.UpdateIfUnchanged(ctx, current, &next); err != nil {
		metrics.ObserveTransition(label, errs.KindOf(err))
		return nil, err
	}
	metrics.ObserveTransition(label, "")
	logger.WithFields(logrus.Fields{
		"from": current.Status,
		"to":   next.Status,
	}).Info("transition applied")

	s.record(ctx, actor, &next, models.MessageStatusChange, describe(action, current, &next), res.Notifications)
	s.enqueue(ctx, id, res.Notifications)
	return &next, nil
}

// Messages returns the message history of a request the actor may view.
func (s *RequestService) Messages(ctx context.Context, actor models.Principal, id string) ([]models.Message, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.messages == nil {
		return []models.Message{}, nil
	}
	msgs, err := s.messages.ListByRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

// Delete removes a request. Only admins and the head manager of the request's
// facility may delete.
func (s *RequestService) Delete(ctx context.Context, actor models.Principal, id string) error {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	caps := actor.Capabilities()
	if !caps.IsAdmin {
		facility, err := s.facility(ctx, req.Facility)
		if err != nil {
			return err
		}
		if !caps.CanManageFacility || facility == nil || !facility.IsHead(actor.UserID) {
			return errors.Wrapf(errs.ErrUnauthorized, "user %q may not delete request %s", actor.UserID, id)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"request_id": id, "actor": actor.UserID}).Info("request deleted")
	return nil
}

// facility returns nil without error when the facility does not exist.
func (s *RequestService) facility(ctx context.Context, id string) (*models.Facility, error) {
	if id == "" {
		return nil, nil
	}
	f, err := s.facilities.FindByID(ctx, id)
	if stderrors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	return f, err
}

func (s *RequestService) enqueue(ctx context.Context, requestID string, ns []models.Notification) {
	if s.outbox == nil || len(ns) == 0 {
		return
	}
	if err := s.outbox.Enqueue(ctx, ns); err != nil {
		s.log.WithError(err).WithField("request_id", requestID).Warn("enqueue notifications failed")
	}
}

// record appends the event to the request's message history. The change is
// already stored, so a failure is only logged.
func (s *RequestService) record(ctx context.Context, actor models.Principal, req *models.Request, typ models.MessageType, text string, ns []models.Notification) {
	if s.messages == nil {
		return
	}
	m := &models.Message{
		MessageType:  typ,
		SenderID:     actor.UserID,
		RecipientIDs: models.Recipients(ns),
		Message:      text,
		RequestID:    req.RequestID,
		Timestamp:    req.UpdatedAt,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		s.log.WithError(err).WithField("request_id", req.RequestID).Warn("record message failed")
	}
}

func describe(action lifecycle.Action, prev, next *models.Request) string {
	text := string(action)
	if prev.Status != next.Status {
		text += ": " + string(prev.Status) + " -> " + string(next.Status)
	}
	if next.Remarks != "" && next.Remarks != prev.Remarks {
		text += " (" + next.Remarks + ")"
	}
	return text
}
