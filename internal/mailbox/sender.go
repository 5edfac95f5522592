package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/wneessen/go-mail"

	"tracklight/internal/config"
	"tracklight/internal/logger"
	"tracklight/internal/models"
)

// Sender errors.
var (
	ErrNoRecipient = errors.New("recipient address is required")
	ErrSend        = errors.New("sending email failed")
)

const implicitTLSPort = 465

var summaryTemplate = template.Must(template.New("summary").Parse(`<h2>{{.Title}}</h2>
<p><strong>Date:</strong> {{.Date}}</p>
<p><strong>Fraud Indicator:</strong> {{.Highest}}</p>
{{- if .Indicators}}
<ul>
{{- range .Indicators}}
<li><strong>{{.Severity}}:</strong> {{.Description}}</li>
{{- end}}
</ul>
{{- end}}
<hr>
<h3>TL;DR</h3>
<p>{{.Short}}</p>
<h3>Full Summary</h3>
{{- if .Bullets}}
<ul>
{{- range .Bullets}}
<li>{{.}}</li>
{{- end}}
</ul>
{{- end}}
{{- if .Note}}
<h3>Note</h3>
<p>{{.Note}}</p>
{{- end}}
{{- if .Source}}
<p><a href="{{.Source}}">{{.Source}}</a></p>
{{- end}}
<hr>
<p><em>Sent via Tracklight</em></p>
`))

type summaryView struct {
	Title      string
	Date       string
	Highest    string
	Short      string
	Note       string
	Source     string
	Indicators []models.FraudIndicator
	Bullets    []string
}

// Sender emails record summaries through an SMTP relay.
type Sender struct {
	cfg      config.MailConfig
	markdown *converter.Converter
	log      *logger.Logger
}

// NewSender creates a Sender authenticating with the mailbox credentials.
func NewSender(cfg config.MailConfig, log *logger.Logger) *Sender {
	if log == nil {
		log = logger.Nop()
	}

	return &Sender{
		cfg: cfg,
		markdown: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		log: log.With("component", "sender"),
	}
}

// RenderSummary returns the subject and HTML body summarizing rec.
func RenderSummary(rec models.ArticleRecord) (string, string, error) {
	view := summaryView{
		Title:   rec.Title(),
		Date:    "Unknown",
		Highest: "N/A",
		Note:    rec.Note,
		Source:  rec.Source,
	}

	if rec.IsPasted() {
		view.Source = ""

		if !rec.Analyzed() {
			view.Title = "Pasted text"
		}
	}

	if a := rec.Analysis; a != nil {
		if a.Date != "" {
			view.Date = a.Date
		}

		if sev := a.HighestSeverity(); sev != "" {
			view.Highest = string(sev)
		}

		view.Short = a.Summary.Short
		view.Bullets = a.Summary.Bullets
		view.Indicators = a.Indicators
	}

	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("render summary: %w", err)
	}

	return "Summary: " + view.Title, buf.String(), nil
}

// BuildMessage renders rec into a message with an HTML body and a plain-text
// alternative.
func (s *Sender) BuildMessage(to string, rec models.ArticleRecord) (*mail.Msg, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, ErrNoRecipient
	}

	subject, body, err := RenderSummary(rec)
	if err != nil {
		return nil, err
	}

	plain, err := s.markdown.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("convert summary to text: %w", err)
	}

	m := mail.NewMsg()

	if err := m.From(s.cfg.Username); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", s.cfg.Username, err)
	}

	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, plain)
	m.AddAlternativeString(mail.TypeTextHTML, body)

	return m, nil
}

// Send emails the summary of rec to the given address.
func (s *Sender) Send(ctx context.Context, to string, rec models.ArticleRecord) error {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return ErrNotConfigured
	}

	m, err := s.BuildMessage(to, rec)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.SMTPPort),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
	}

	if s.cfg.SMTPPort == implicitTLSPort {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	c, err := mail.NewClient(s.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	s.log.Info("summary sent", "to", to, "id", rec.Identity)

	return nil
}
