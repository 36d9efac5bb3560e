// Package notify delivers verification codes and onboarding e-mails.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SmsSender delivers a text message.
type SmsSender interface {
	SendSms(ctx context.Context, phoneNumber, message string) error
}

// EmailSender delivers a rendered e-mail.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

type EmailMessage struct {
	To       string
	Subject  string
	TextBody string
}

// Template renders the subject and body of one e-mail kind.
type Template struct {
	Subject *template.Template
	Body    *template.Template
}

// MustTemplate parses subject and body or panics.
func MustTemplate(name, subject, body string) Template {
	return Template{
		Subject: template.Must(template.New(name + ".subject").Parse(subject)),
		Body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

// DefaultTemplates are the e-mails the onboarding flow sends.
func DefaultTemplates() map[string]Template {
	return map[string]Template{
		"invite-complete": MustTemplate("invite-complete",
			"Your account is ready",
			"Your account has been created.{{if .service_id}} You now have access to service {{.service_id}}{{if .role}} as {{.role}}{{end}}.{{end}}\n",
		),
	}
}

// DefaultSmsFormat wraps a code in the text message body.
const DefaultSmsFormat = "%s is your verification code"

// Sender combines an SMS and an e-mail channel into the notification
// collaborator used by the onboarding flow.
type Sender struct {
	sms       SmsSender
	email     EmailSender
	templates map[string]Template
	smsFormat string
	logger    Logger
}

type Option func(*Sender)

func WithTemplates(templates map[string]Template) Option {
	return func(s *Sender) {
		for name, tpl := range templates {
			s.templates[name] = tpl
		}
	}
}

func WithSmsFormat(format string) Option {
	return func(s *Sender) {
		if format != "" {
			s.smsFormat = format
		}
	}
}

func WithLogger(logger Logger) Option {
	return func(s *Sender) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Sender. A nil channel falls back to logging the message.
func New(sms SmsSender, email EmailSender, opts ...Option) *Sender {
	s := &Sender{
		sms:       sms,
		email:     email,
		templates: DefaultTemplates(),
		smsFormat: DefaultSmsFormat,
		logger:    nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.sms == nil {
		s.sms = NewLogSender(s.logger)
	}
	if s.email == nil {
		s.email = NewLogSender(s.logger)
	}
	return s
}

func (s *Sender) SendSms(ctx context.Context, phoneNumber, code string) error {
	return s.sms.SendSms(ctx, phoneNumber, fmt.Sprintf(s.smsFormat, code))
}

func (s *Sender) SendEmail(ctx context.Context, name, address string, vars map[string]any) error {
	tpl, ok := s.templates[name]
	if !ok {
		return fmt.Errorf("unknown e-mail template %q", name)
	}

	subject, err := render(tpl.Subject, vars)
	if err != nil {
		return err
	}
	body, err := render(tpl.Body, vars)
	if err != nil {
		return err
	}

	return s.email.SendEmail(ctx, EmailMessage{
		To:       address,
		Subject:  subject,
		TextBody: body,
	})
}

func render(tpl *template.Template, vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render %s: %w", tpl.Name(), err)
	}
	return buf.String(), nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger Logger
}

func NewLogSender(logger Logger) *LogSender {
	if logger == nil {
		logger = nopLogger{}
	}
	return &LogSender{logger: logger}
}

func (l *LogSender) SendSms(_ context.Context, phoneNumber, message string) error {
	l.logger.Info("sms to %s: %s", phoneNumber, message)
	return nil
}

func (l *LogSender) SendEmail(_ context.Context, msg EmailMessage) error {
	l.logger.Info("email to %s: %s", msg.To, msg.Subject)
	return nil
}
