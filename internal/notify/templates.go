package notify

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/example/helpdesk/internal/models"
)

// View is the data every template renders from.
type View struct {
	RecipientName string
	RequestID     string
	Facility      string
	Title         string
	Severity      string
	Description   string
	Status        string
	Remarks       string
	ClosingReason string
}

type mailTemplate struct {
	subject string
	body    *template.Template
}

const footer = "\nFacility: {{.Facility}}\nTitle: {{.Title}}\n\nThank you for using Online Help Desk.\n"

var templates = map[models.NotificationKind]mailTemplate{
	models.NotifyCreated: tmpl("Request created successfully",
		"Your request {{.RequestID}} has been created and sent to the responsible manager.\nSeverity: {{.Severity}}\nDescription: {{.Description}}"),
	models.NotifyNewRequest: tmpl("New request for your facility",
		"A new request {{.RequestID}} has been created for your facility.\nSeverity: {{.Severity}}\nDescription: {{.Description}}"),
	models.NotifyAssigned: tmpl("New request assigned to you",
		"You have been assigned request {{.RequestID}}.\nSeverity: {{.Severity}}\nDescription: {{.Description}}"),
	models.NotifyAssignedToTech: tmpl("Request assigned to technician",
		"Your request {{.RequestID}} has been assigned to a technician."),
	models.NotifyRejected: tmpl("Your request is rejected",
		"Your request {{.RequestID}} was rejected by the facility manager.\nReason: {{.Remarks}}"),
	models.NotifyWorkStarted: tmpl("Work started on your request",
		"The technician has started working on your request {{.RequestID}}."),
	models.NotifyWorkStartedAck: tmpl("Start working on request",
		"You have started working on request {{.RequestID}}."),
	models.NotifyRemarksUpdated: tmpl("Remarks updated",
		"Remarks have been updated for request {{.RequestID}}.\nRemarks: {{.Remarks}}"),
	models.NotifyCompleted: tmpl("Your request is completed",
		"Your request {{.RequestID}} has been marked as completed."),
	models.NotifyApprovalNeeded: tmpl("Request closing approval required",
		"The requester has asked to close request {{.RequestID}}.\nReason: {{.ClosingReason}}"),
	models.NotifyClosingApproved: tmpl("Your request closing was approved",
		"Your request to close {{.RequestID}} has been approved."),
	models.NotifyClosingDeclined: tmpl("Your request closing was declined",
		"Your request to close {{.RequestID}} was declined.\nRemarks: {{.Remarks}}"),
}

func tmpl(subject, body string) mailTemplate {
	return mailTemplate{
		subject: subject,
		body:    template.Must(template.New(subject).Parse("Hello {{.RecipientName}},\n\n" + body + "\n" + footer)),
	}
}

// Render produces the subject and plain-text body for kind.
func Render(kind models.NotificationKind, v View) (string, string, error) {
	t, ok := templates[kind]
	if !ok {
		return "", "", errors.Errorf("no template for notification kind %q", kind)
	}
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, v); err != nil {
		return "", "", errors.Wrapf(err, "render %s", kind)
	}
	return t.subject, buf.String(), nil
}

var htmlLayout = htmltemplate.Must(htmltemplate.New("mail").Parse(
	`<!DOCTYPE html><html><body style="font-family:sans-serif">` +
		`{{range .}}<p>{{range $i, $line := .}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>{{end}}` +
		`</body></html>`))

// HTMLBody renders a plain-text body as the HTML alternative part. Blank
// lines separate paragraphs; every value is escaped.
func HTMLBody(text string) (string, error) {
	var paras [][]string
	for _, p := range strings.Split(strings.TrimSpace(text), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, strings.Split(p, "\n"))
		}
	}
	var buf bytes.Buffer
	if err := htmlLayout.Execute(&buf, paras); err != nil {
		return "", errors.Wrap(err, "render html body")
	}
	return buf.String(), nil
}
