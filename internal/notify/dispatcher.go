// Package notify turns lifecycle notifications into e-mails. Delivery runs
// outside the request/response cycle; failures are logged and counted.
package notify

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/metrics"
	"github.com/example/helpdesk/internal/models"
)

// UserDirectory resolves recipients.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// RequestReader loads the request a notification refers to.
type RequestReader interface {
	FindByID(ctx context.Context, id string) (*models.Request, error)
}

// FacilityReader loads facility details for the message body.
type FacilityReader interface {
	FindByID(ctx context.Context, id string) (*models.Facility, error)
}

// Deliverer delivers one notification.
type Deliverer interface {
	Dispatch(ctx context.Context, n models.Notification) error
}

// ErrNoRecipient marks a notification whose recipient cannot be mailed.
// Retrying it is pointless.
var ErrNoRecipient = stderrors.New("recipient has no deliverable address")

// Dispatcher resolves the recipient and request, renders the template and
// hands the message to the mailer.
type Dispatcher struct {
	users      UserDirectory
	requests   RequestReader
	facilities FacilityReader
	mailer     Mailer
	log        logrus.FieldLogger
}

func NewDispatcher(users UserDirectory, requests RequestReader, facilities FacilityReader, mailer Mailer, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{users: users, requests: requests, facilities: facilities, mailer: mailer, log: log}
}

// Dispatch sends one notification. The three directory lookups are
// independent and run in parallel; only the recipient lookup is required.
func (d *Dispatcher) Dispatch(ctx context.Context, n models.Notification) error {
	var (
		user     *models.User
		req      *models.Request
		facility *models.Facility
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := d.users.FindByID(gctx, n.Recipient)
		if stderrors.Is(err, errs.ErrNotFound) {
			return errors.Wrapf(ErrNoRecipient, "user %s", n.Recipient)
		}
		user = u
		return err
	})
	g.Go(func() error {
		r, err := d.requests.FindByID(gctx, n.RequestID)
		if err != nil && !stderrors.Is(err, errs.ErrNotFound) {
			return err
		}
		req = r
		return nil
	})
	g.Go(func() error {
		if n.Facility == "" {
			return nil
		}
		f, err := d.facilities.FindByID(gctx, n.Facility)
		if err != nil && !stderrors.Is(err, errs.ErrNotFound) {
			return err
		}
		facility = f
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if user.Email == "" {
		return errors.Wrapf(ErrNoRecipient, "user %s", n.Recipient)
	}

	subject, body, err := Render(n.Kind, buildView(n, user, req, facility))
	if err != nil {
		return err
	}
	html, err := HTMLBody(body)
	if err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, Message{To: user.Email, Subject: subject, Text: body, HTML: html}); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{
		"request_id": n.RequestID,
		"recipient":  n.Recipient,
		"kind":       n.Kind,
	}).Info("notification sent")
	metrics.ObserveNotification(n.Kind, "sent")
	return nil
}

func buildView(n models.Notification, user *models.User, req *models.Request, facility *models.Facility) View {
	v := View{
		RecipientName: user.Name,
		RequestID:     n.RequestID,
		Facility:      n.Facility,
		Title:         n.Title,
	}
	if facility != nil && facility.Name != "" {
		v.Facility = facility.Name
	}
	if req != nil {
		v.Title = req.Title
		v.Severity = string(req.Severity)
		v.Description = req.Description
		v.Status = string(req.Status)
		v.Remarks = req.Remarks
		v.ClosingReason = req.ClosingReason
	}
	return v
}
