package notification

import (
	"embed"
	"fmt"
	"log/slog"
	"sync"
)

// NotificationSystem represents a delivery system (e.g., email, log)
type NotificationSystem string

// NoticeType represents a kind of outbound notification (e.g., "otp_code")
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"
	LogSystem   NotificationSystem = "log"

	OTPCodeNotice NoticeType = "otp_code"
)

// NotificationData is the payload of one outbound notification
type NotificationData struct {
	To      string            // Recipient identifier (e.g., email address)
	Subject string            // Optional subject override
	Body    string            // Optional pre-rendered content
	Data    map[string]string // Template values
}

// NoticeTemplate holds the subject and bodies for one notice type
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notifier delivers outbound notifications through one system
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

// NotificationManager routes outbound notifications to registered notifiers
type NotificationManager struct {
	mu        sync.RWMutex
	notifiers map[NotificationSystem]Notifier
	registry  map[NoticeType]map[NotificationSystem]NoticeTemplate
}

// NotificationManagerOption configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// NewNotificationManager creates an empty NotificationManager
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{
		notifiers: make(map[NotificationSystem]Notifier),
		registry:  make(map[NoticeType]map[NotificationSystem]NoticeTemplate),
	}
}

// NewNotificationManagerWithOptions creates a NotificationManager and applies opts in order
func NewNotificationManagerWithOptions(opts ...NotificationManagerOption) (*NotificationManager, error) {
	nm := NewNotificationManager()
	for _, opt := range opts {
		if err := opt(nm); err != nil {
			return nil, err
		}
	}
	return nm, nil
}

// WithSMTP registers an email notifier for the given SMTP server
func WithSMTP(config SMTPConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		emailNotifier, err := NewEmailNotifier(config)
		if err != nil {
			return err
		}
		nm.RegisterNotifier(EmailSystem, emailNotifier)
		return nil
	}
}

// WithNotifier registers an arbitrary notifier
func WithNotifier(system NotificationSystem, notifier Notifier) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(system, notifier)
		return nil
	}
}

// WithOTPCodeTemplate registers the one-time code email for every given system
func WithOTPCodeTemplate(systems ...NotificationSystem) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		if len(systems) == 0 {
			systems = []NotificationSystem{EmailSystem}
		}
		for _, system := range systems {
			err := nm.RegisterNotification(OTPCodeNotice, system, NoticeTemplate{
				Subject: "Your verification code",
				Text:    loadTemplate("templates/email/otp_code.txt"),
				Html:    loadTemplate("templates/email/otp_code.html"),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// RegisterNotifier registers a notifier for a specific system
func (nm *NotificationManager) RegisterNotifier(system NotificationSystem, notifier Notifier) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.notifiers[system] = notifier
}

// RegisterNotification adds a template for a notice type on a system
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, system NotificationSystem, template NoticeTemplate) error {
	if noticeType == "" || system == "" {
		return fmt.Errorf("invalid input: notice type and system cannot be empty")
	}
	if template.Text == "" && template.Html == "" {
		return fmt.Errorf("template for %s on %s has no body", noticeType, system)
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()

	if _, exists := nm.registry[noticeType]; !exists {
		nm.registry[noticeType] = make(map[NotificationSystem]NoticeTemplate)
	}
	nm.registry[noticeType][system] = template
	return nil
}

// Send delivers a notice through every system that has both a template and a notifier
func (nm *NotificationManager) Send(noticeType NoticeType, notification NotificationData) error {
	nm.mu.RLock()
	defer nm.mu.RUnlock()

	templates, exists := nm.registry[noticeType]
	if !exists {
		return fmt.Errorf("no templates registered for notice type: %s", noticeType)
	}

	sent := 0
	var firstErr error
	for system, template := range templates {
		notifier, ok := nm.notifiers[system]
		if !ok {
			continue
		}
		if notification.Subject != "" {
			template.Subject = notification.Subject
		}
		if err := notifier.Send(noticeType, notification, template); err != nil {
			slog.Error("Failed to send notification", "system", system, "type", noticeType, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}

	if sent == 0 {
		if firstErr != nil {
			return firstErr
		}
		return fmt.Errorf("no notifier registered for notice type: %s", noticeType)
	}
	return nil
}
