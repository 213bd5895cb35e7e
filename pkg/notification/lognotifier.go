package notification

import (
	"log/slog"
)

// LogNotifier writes rendered notifications to a logger instead of delivering them.
// Used by the development backend when no SMTP host is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	text, _, err := renderBodies(notification, NoticeTemplate{Text: template.Text})
	if err != nil {
		return err
	}
	l.logger.Info("Notification",
		"type", noticeType,
		"to", notification.To,
		"subject", template.Subject,
		"body", text,
	)
	return nil
}
