// Package notifications provides the feature module that delivers user
// notifications by email. It depends on the users and email modules.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/servicedesk/internal/modules/email"
	"github.com/HerbHall/servicedesk/internal/modules/users"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

// Name is the module name this plugin builds.
const Name = "notifications"

// ErrRecipientDisabled is returned when notifying a disabled account.
var ErrRecipientDisabled = errors.New("recipient is disabled")

// Settings is the decoded module configuration.
type Settings struct {
	RatePerSecond   float64 `mapstructure:"rate_per_second"`
	Burst           int     `mapstructure:"burst"`
	WelcomeTemplate string  `mapstructure:"welcome_template"`
	SendWelcome     bool    `mapstructure:"send_welcome"`
}

func defaultSettings() Settings {
	return Settings{
		RatePerSecond:   10,
		Burst:           5,
		WelcomeTemplate: email.TemplateWelcome,
		SendWelcome:     true,
	}
}

// Plugin builds the notifier.
type Plugin struct{}

// New creates the notifications plugin.
func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string              { return Name }
func (p *Plugin) Category() plugin.Category { return plugin.CategoryFeature }
func (p *Plugin) Version() string           { return "1.0.0" }
func (p *Plugin) Dependencies() []string    { return []string{users.Name, email.Name} }

func (p *Plugin) ValidateConfig(s plugin.Settings) plugin.ValidationResult {
	return plugin.Check(s).
		PositiveNumber("rate_per_second").
		PositiveNumber("burst").
		String("welcome_template").
		Bool("send_welcome").
		Result()
}

func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         Name,
		Category:     plugin.CategoryFeature,
		Version:      p.Version(),
		Description:  "Rate-limited email notifications for portal users",
		Dependencies: p.Dependencies(),
		Settings:     []string{"rate_per_second", "burst", "welcome_template", "send_welcome"},
	}
}

func (p *Plugin) Create(_ context.Context, deps plugin.Dependencies) (plugin.Module, error) {
	s := defaultSettings()
	if err := deps.Settings.Decode(&s); err != nil {
		return nil, err
	}

	dir, ok := plugin.Resolve[*users.Directory](deps.Modules, users.Name)
	if !ok {
		return nil, fmt.Errorf("notifications requires module %q", users.Name)
	}
	mailer, ok := plugin.Resolve[*email.Mailer](deps.Modules, email.Name)
	if !ok {
		return nil, fmt.Errorf("notifications requires module %q", email.Name)
	}

	n := NewNotifier(s, dir, mailer, deps.Logger)
	if s.SendWelcome && deps.Bus != nil {
		n.unsubscribe = deps.Bus.Subscribe(users.TopicUserCreated, n.handleUserCreated)
	}
	deps.Logger.Info("notifications module initialized",
		zap.Float64("rate_per_second", s.RatePerSecond),
		zap.Int("burst", s.Burst),
		zap.Bool("send_welcome", s.SendWelcome),
	)
	return n, nil
}

// Directory is the subset of the user directory the notifier reads.
type Directory interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// Mailer is the subset of the email module the notifier uses.
type Mailer interface {
	Send(ctx context.Context, template, to string, data any) error
}

// Compile-time interface guards.
var (
	_ plugin.Stopper       = (*Notifier)(nil)
	_ plugin.HealthChecker = (*Notifier)(nil)
)

// Notifier sends notifications through the mailer, at most RatePerSecond
// messages per second with the configured burst.
type Notifier struct {
	dir             Directory
	mailer          Mailer
	limiter         *rate.Limiter
	welcomeTemplate string
	logger          *zap.Logger
	unsubscribe     func()

	mu        sync.Mutex
	delivered int
	failed    int
}

// NewNotifier creates a notifier. It does not subscribe to any topic.
func NewNotifier(s Settings, dir Directory, mailer Mailer, logger *zap.Logger) *Notifier {
	return &Notifier{
		dir:             dir,
		mailer:          mailer,
		limiter:         rate.NewLimiter(rate.Limit(s.RatePerSecond), s.Burst),
		welcomeTemplate: s.WelcomeTemplate,
		logger:          logger,
	}
}

// Notify emails subject and message to the user with the given ID.
func (n *Notifier) Notify(ctx context.Context, userID, subject, message string) error {
	u, err := n.dir.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("notify %s: %w", userID, err)
	}
	if u.Disabled {
		return fmt.Errorf("notify %s: %w", u.Username, ErrRecipientDisabled)
	}
	return n.deliver(ctx, email.TemplateNotification, u.Email, map[string]string{
		"Username": u.Username,
		"Subject":  subject,
		"Message":  message,
	})
}

func (n *Notifier) deliver(ctx context.Context, template, to string, data any) error {
	if err := n.limiter.Wait(ctx); err != nil {
		n.record(false)
		return fmt.Errorf("rate limit: %w", err)
	}
	err := n.mailer.Send(ctx, template, to, data)
	n.record(err == nil)
	return err
}

func (n *Notifier) record(ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ok {
		n.delivered++
	} else {
		n.failed++
	}
}

func (n *Notifier) handleUserCreated(ctx context.Context, event plugin.Event) {
	var payload users.CreatedEvent
	switch p := event.Payload.(type) {
	case users.CreatedEvent:
		payload = p
	case *users.CreatedEvent:
		payload = *p
	default:
		n.logger.Warn("unexpected user created payload", zap.String("source", event.Source))
		return
	}

	// The publishing request may already be finished.
	ctx = context.WithoutCancel(ctx)
	err := n.deliver(ctx, n.welcomeTemplate, payload.Email, map[string]string{"Username": payload.Username})
	if err != nil {
		n.logger.Error("welcome email failed", zap.String("user_id", payload.UserID), zap.Error(err))
		return
	}
	n.logger.Debug("welcome email sent", zap.String("user_id", payload.UserID))
}

// Delivered returns the number of successful and failed deliveries.
func (n *Notifier) Delivered() (ok, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered, n.failed
}

func (n *Notifier) Health(_ context.Context) plugin.HealthStatus {
	ok, failed := n.Delivered()
	st := plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"delivered": fmt.Sprint(ok),
			"failed":    fmt.Sprint(failed),
		},
	}
	if failed > 0 {
		st.Status = plugin.StatusDegraded
		st.Message = "some notifications failed"
	}
	return st
}

// Stop detaches the notifier from the event bus.
func (n *Notifier) Stop(_ context.Context) error {
	if n.unsubscribe != nil {
		n.unsubscribe()
		n.unsubscribe = nil
	}
	return nil
}
