package output

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
	"github.com/gyakuten/llmoradar/pkg/sanitize"
)

var (
	_ ports.Notifier = (*SMTPNotifier)(nil)
	_ ports.Notifier = (*LogNotifier)(nil)
)

var reportFuncs = template.FuncMap{
	"line":  func(s string) string { return sanitize.Line(s, 200) },
	"text":  func(s string) string { return sanitize.Multiline(s, 2000) },
	"label": func(c domain.Category) string { return c.Label() },
	"inc":   func(i int) int { return i + 1 },
}

var submitterTemplate = template.Must(template.New("submitter").Funcs(reportFuncs).Parse(
	`{{line .Contact.Name}} 様

Thank you for requesting an LLMO diagnosis of {{line .Result.URL}}.

Overall score: {{.Result.OverallScore}} / 100 (grade {{.Result.Grade}})
{{if .Result.Fallback}}
Note: the automated analysis could not be completed, so this report is provisional.
{{end}}
Category breakdown
{{range .Result.Categories}}  - {{label .Category}}: {{.Score}} / {{.MaxScore}}
{{end}}
Recommendations
{{range $i, $r := .Result.Recommendations}}  {{inc $i}}. {{$r}}
{{else}}  Your page already covers the signals we check. Well done.
{{end}}
If you would like a detailed consultation, simply reply to this email.

GYAKUTEN
`))

var internalTemplate = template.Must(template.New("internal").Funcs(reportFuncs).Parse(
	`New LLMO diagnosis request

Job:      {{.JobID}}
URL:      {{line .Result.URL}}
Score:    {{.Result.OverallScore}} / 100{{if .Result.Fallback}} (fallback: {{line .Result.FailureReason}}){{end}}

Name:     {{line .Contact.Name}}
Company:  {{line .Contact.Company}}
Email:    {{line .Contact.Email}}
Phone:    {{line .Contact.Phone}}

Message:
{{text .Contact.Message}}
`))

// RenderReport returns the subject and plain-text body for report.
func RenderReport(report *domain.Report) (string, string, error) {
	if report.Result == nil {
		return "", "", fmt.Errorf("report %s has no result", report.JobID)
	}

	tmpl := submitterTemplate
	subject := fmt.Sprintf("Your LLMO diagnosis result: %d/100", report.Result.OverallScore)
	if report.Internal {
		tmpl = internalTemplate
		who := report.Contact.Company
		if who == "" {
			who = report.Contact.Name
		}
		subject = fmt.Sprintf("[LLMO] New diagnosis lead: %s (%d/100)", sanitize.Line(who, 80), report.Result.OverallScore)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, report); err != nil {
		return "", "", fmt.Errorf("render %s report: %w", tmpl.Name(), err)
	}
	return subject, body.String(), nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

// SMTPNotifier sends reports as plain-text UTF-8 mail, upgrading to TLS when
// the server offers STARTTLS. Date and Message-ID are set per message.
type SMTPNotifier struct {
	cfg SMTPConfig
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) Name() string {
	return "smtp"
}

func (n *SMTPNotifier) SendReport(ctx context.Context, report *domain.Report) error {
	if !sanitize.HeaderSafe(report.Recipient) || !strings.Contains(report.Recipient, "@") {
		return fmt.Errorf("invalid recipient %q", sanitize.Line(report.Recipient, 80))
	}
	subject, body, err := RenderReport(report)
	if err != nil {
		return err
	}
	msg, err := n.compose(report.Recipient, subject, body)
	if err != nil {
		return err
	}

	client, err := n.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s:%d: %w", n.cfg.Host, n.cfg.Port, err)
	}
	return nil
}

func (n *SMTPNotifier) compose(to, subject, body string) (*mail.Msg, error) {
	m := mail.NewMsg()
	from := m.From
	if n.cfg.FromName != "" {
		from = func(addr string) error { return m.FromFormat(n.cfg.FromName, addr) }
	}
	if err := from(n.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (n *SMTPNotifier) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTimeout(n.cfg.Timeout),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTLSConfig(&tls.Config{ServerName: n.cfg.Host, MinVersion: tls.VersionTLS12}),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}
	c, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return c, nil
}

// LogNotifier logs reports instead of sending them. Used when no SMTP host
// is configured.
type LogNotifier struct{}

func (LogNotifier) Name() string {
	return "log"
}

func (LogNotifier) SendReport(_ context.Context, report *domain.Report) error {
	subject, _, err := RenderReport(report)
	if err != nil {
		return err
	}
	log.Info().
		Str("job_id", report.JobID).
		Str("recipient", sanitize.Line(report.Recipient, 120)).
		Bool("internal", report.Internal).
		Int("score", report.Result.OverallScore).
		Bool("fallback", report.Result.Fallback).
		Str("subject", subject).
		Msg("Report delivery (log only)")
	return nil
}
