// Package email provides the feature module that renders templated email
// messages and hands them to a Sender.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"

	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// Name is the module name this plugin builds.
const Name = "email"

// Built-in template names.
const (
	TemplateWelcome      = "welcome"
	TemplateNotification = "notification"
)

// ErrUnknownTemplate is returned when rendering a template that does not exist.
var ErrUnknownTemplate = errors.New("unknown email template")

// defaultTemplates start with a "Subject:" line followed by a blank line and the body.
var defaultTemplates = map[string]string{
	TemplateWelcome: "Subject: Welcome to the help desk, {{.Username}}\n\n" +
		"Hello {{.Username}},\n\nYour account is ready. Sign in to open and track requests.\n",
	TemplateNotification: "Subject: {{.Subject}}\n\n" +
		"Hello {{.Username}},\n\n{{.Message}}\n",
}

// Message is a rendered email.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender logs messages instead of delivering them.
type LogSender struct {
	Logger *zap.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Logger.Info("email queued",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)),
	)
	return nil
}

// Settings is the decoded module configuration.
type Settings struct {
	From      string            `mapstructure:"from"`
	Templates map[string]string `mapstructure:"templates"`
}

// Plugin builds the mailer.
type Plugin struct{}

// New creates the email plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string              { return Name }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryFeature }
func (p *Plugin) Version() string           { return "1.0.0" }
func (p *Plugin) Dependencies() []string    { return nil }

func (p *Plugin) ValidateConfig(s plugin.Settings) plugin.ValidationResult {
	c := plugin.Check(s).RequiredString("from").StringMap("templates")
	if from, ok := s["from"].(string); ok && from != "" && !strings.Contains(from, "@") {
		c.Addf("from must be an email address")
	}
	return c.Result()
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        Name,
		Category:    plugin.CategoryFeature,
		Version:     p.Version(),
		Description: "Templated email composition and delivery",
		Settings:    []string{"from", "templates"},
	}
}

func (p *Plugin) Create(_ context.Context, deps plugin.Dependencies) (plugin.Module, error) {
	var s Settings
	if err := deps.Settings.Decode(&s); err != nil {
		return nil, err
	}
	m, err := NewMailer(s, LogSender{Logger: deps.Logger}, deps.Logger)
	if err != nil {
		return nil, err
	}
	deps.Logger.Info("email module initialized", zap.Strings("templates", m.Templates()))
	return m, nil
}

// Compile-time interface guard.
var _ plugin.HealthChecker = (*Mailer)(nil)

// Mailer renders templates and sends them with its Sender.
type Mailer struct {
	from      string
	templates map[string]*template.Template
	logger    *zap.Logger

	mu     sync.RWMutex
	sender Sender
	sent   int
	failed int
}

// NewMailer parses the built-in templates plus s.Templates (which override
// built-ins of the same name).
func NewMailer(s Settings, sender Sender, logger *zap.Logger) (*Mailer, error) {
	sources := maps.Clone(defaultTemplates)
	maps.Copy(sources, s.Templates)

	parsed := make(map[string]*template.Template, len(sources))
	for name, src := range sources {
		t, err := template.New(name).Option("missingkey=zero").Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse email template %q: %w", name, err)
		}
		parsed[name] = t
	}
	return &Mailer{from: s.From, templates: parsed, sender: sender, logger: logger}, nil
}

// SetSender replaces the delivery backend.
func (m *Mailer) SetSender(s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sender = s
}

// Templates returns the available template names, sorted.
func (m *Mailer) Templates() []string {
	return slices.Sorted(maps.Keys(m.templates))
}

// Render executes the named template for recipient to.
func (m *Mailer) Render(name, to string, data any) (Message, error) {
	t, ok := m.templates[name]
	if !ok {
		return Message{}, fmt.Errorf("%w %q", ErrUnknownTemplate, name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render email template %q: %w", name, err)
	}
	subject, body := splitSubject(buf.String())
	return Message{From: m.from, To: to, Subject: subject, Body: body}, nil
}

// Send renders the named template and delivers it.
func (m *Mailer) Send(ctx context.Context, name, to string, data any) error {
	msg, err := m.Render(name, to, data)
	if err != nil {
		return err
	}

	m.mu.RLock()
	sender := m.sender
	m.mu.RUnlock()

	err = sender.Send(ctx, msg)

	m.mu.Lock()
	if err != nil {
		m.failed++
	} else {
		m.sent++
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("send %q to %s: %w", name, to, err)
	}
	return nil
}

// Health reports degraded once any delivery has failed.
func (m *Mailer) Health(_ context.Context) plugin.HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"sent":   fmt.Sprint(m.sent),
			"failed": fmt.Sprint(m.failed),
		},
	}
	if m.failed > 0 {
		st.Status = plugin.StatusDegraded
		st.Message = "some deliveries failed"
	}
	return st
}

// splitSubject separates a leading "Subject:" header from the body.
func splitSubject(rendered string) (subject, body string) {
	first, rest, _ := strings.Cut(rendered, "\n")
	header, ok := strings.CutPrefix(first, "Subject:")
	if !ok {
		return "", rendered
	}
	return strings.TrimSpace(header), strings.TrimPrefix(rest, "\n")
}
