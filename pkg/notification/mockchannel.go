package notification

import "sync"

// MockChannel records published notices
type MockChannel struct {
	mu      sync.Mutex
	Notices []Notice
}

func (m *MockChannel) Publish(notice Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notices = append(m.Notices, notice)
}

// Last returns the most recent notice and whether there was one
func (m *MockChannel) Last() (Notice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Notices) == 0 {
		return Notice{}, false
	}
	return m.Notices[len(m.Notices)-1], true
}

// Count returns how many notices of the given level were published
func (m *MockChannel) Count(level Level) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, notice := range m.Notices {
		if notice.Level == level {
			n++
		}
	}
	return n
}

// MockNotifier records every outbound notification
type MockNotifier struct {
	mu                sync.Mutex
	SentNotifications []NotificationData
}

func (m *MockNotifier) Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentNotifications = append(m.SentNotifications, notification)
	return nil
}

// Sent returns a copy of the recorded notifications
func (m *MockNotifier) Sent() []NotificationData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]NotificationData, len(m.SentNotifications))
	copy(out, m.SentNotifications)
	return out
}
