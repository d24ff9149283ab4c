package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"text/template"
	"time"

	"github.com/go-kyc-access/internal/infrastructure/smtp"
	"github.com/go-kyc-access/internal/infrastructure/sns"
	"github.com/go-kyc-access/internal/pkg/metrics"
)

// Template ids match the verification purposes that use them.
const (
	TemplateSignupVerification = "signup_verification"
	TemplatePasswordReset      = "password_reset"
)

// Params are the values a template may reference.
type Params struct {
	FirstName  string
	Code       string
	TTLMinutes int
}

type Dispatcher interface {
	Send(ctx context.Context, templateID, recipient string, params Params) error
}

type message struct {
	subject *template.Template
	body    *template.Template
	sms     *template.Template
}

var templates = map[string]message{
	TemplateSignupVerification: {
		subject: template.Must(template.New("s").Parse("Confirm your email")),
		body: template.Must(template.New("b").Parse(
			"Hi{{if .FirstName}} {{.FirstName}}{{end}},\n\nYour verification code is {{.Code}}.\n" +
				"It expires in {{.TTLMinutes}} minutes. If you did not sign up, ignore this email.\n")),
		sms: template.Must(template.New("m").Parse("Your verification code is {{.Code}}. It expires in {{.TTLMinutes}} minutes.")),
	},
	TemplatePasswordReset: {
		subject: template.Must(template.New("s").Parse("Reset your password")),
		body: template.Must(template.New("b").Parse(
			"Hi{{if .FirstName}} {{.FirstName}}{{end}},\n\nYour password reset code is {{.Code}}.\n" +
				"It expires in {{.TTLMinutes}} minutes. If you did not ask for a reset, ignore this email.\n")),
		sms: template.Must(template.New("m").Parse("Your password reset code is {{.Code}}. It expires in {{.TTLMinutes}} minutes.")),
	},
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

var errNoSMS = errors.New("sms channel not configured")

type dispatcher struct {
	mailer  smtp.Mailer
	sms     sns.SMSSender // nil disables SMS
	timeout time.Duration
}

func NewDispatcher(mailer smtp.Mailer, sms sns.SMSSender, timeout time.Duration) Dispatcher {
	return &dispatcher{mailer: mailer, sms: sms, timeout: timeout}
}

// Send renders templateID and hands it to the channel matching recipient:
// SMS for E.164 numbers, email otherwise.
func (d *dispatcher) Send(ctx context.Context, templateID, recipient string, params Params) error {
	msg, ok := templates[templateID]
	if !ok {
		return fmt.Errorf("unknown notification template %q", templateID)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
	if e164.MatchString(recipient) {
		err = d.sendSMS(ctx, msg, recipient, params)
	} else {
		err = d.sendEmail(ctx, msg, recipient, params)
	}
	status := "sent"
	if err != nil {
		status = "failed"
		slog.WarnContext(ctx, "notification failed", "template", templateID, "err", err)
	}
	metrics.Notifications.WithLabelValues(templateID, status).Inc()
	return err
}

func (d *dispatcher) sendSMS(ctx context.Context, msg message, to string, params Params) error {
	if d.sms == nil {
		return errNoSMS
	}
	text, err := render(msg.sms, params)
	if err != nil {
		return err
	}
	return d.sms.SendSMS(ctx, to, text)
}

func (d *dispatcher) sendEmail(ctx context.Context, msg message, to string, params Params) error {
	subject, err := render(msg.subject, params)
	if err != nil {
		return err
	}
	body, err := render(msg.body, params)
	if err != nil {
		return err
	}
	return d.mailer.SendEmail(ctx, to, subject, body)
}

func render(t *template.Template, params Params) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
