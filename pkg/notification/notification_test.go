package notification

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{}

func (failingNotifier) Send(NoticeType, NotificationData, NoticeTemplate) error {
	return errors.New("smtp down")
}

func TestBroadcaster(t *testing.T) {
	t.Run("DeliversToEverySubscriber", func(t *testing.T) {
		b := NewBroadcaster(4)
		first, cancelFirst := b.Subscribe()
		defer cancelFirst()
		second, cancelSecond := b.Subscribe()
		defer cancelSecond()

		Success(b, "Account created")

		n1 := <-first
		n2 := <-second
		assert.Equal(t, LevelSuccess, n1.Level)
		assert.Equal(t, "Account created", n2.Message)
		assert.False(t, n1.At.IsZero())
	})

	t.Run("FullSubscriberDoesNotBlock", func(t *testing.T) {
		b := NewBroadcaster(1)
		ch, cancel := b.Subscribe()
		defer cancel()

		Info(b, "one")
		Info(b, "two")

		n := <-ch
		assert.Equal(t, "one", n.Message)
		select {
		case extra := <-ch:
			t.Fatalf("unexpected notice %q", extra.Message)
		default:
		}
	})

	t.Run("CancelRemovesSubscriber", func(t *testing.T) {
		b := NewBroadcaster(1)
		ch, cancel := b.Subscribe()
		assert.Equal(t, 1, b.Subscribers())

		cancel()
		cancel()
		assert.Equal(t, 0, b.Subscribers())

		_, open := <-ch
		assert.False(t, open)

		Error(b, "nobody listening", "")
	})

	t.Run("ConcurrentPublish", func(t *testing.T) {
		b := NewBroadcaster(100)
		ch, cancel := b.Subscribe()
		defer cancel()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				Info(b, "tick")
			}()
		}
		wg.Wait()
		assert.Len(t, ch, 50)
	})
}

func TestHelpersTolerateNilChannel(t *testing.T) {
	assert.NotPanics(t, func() {
		Success(nil, "ok")
		Error(NopChannel{}, "bad", "email")
	})
}

func TestMockChannel(t *testing.T) {
	m := &MockChannel{}
	_, ok := m.Last()
	assert.False(t, ok)

	Error(m, "Email is required", "email")
	Success(m, "Saved")

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, "Saved", last.Message)
	assert.Equal(t, 1, m.Count(LevelError))
	assert.Equal(t, "email", m.Notices[0].Field)
}

func TestNotificationManager_Send(t *testing.T) {
	t.Run("RoutesToRegisteredNotifier", func(t *testing.T) {
		mock := &MockNotifier{}
		nm, err := NewNotificationManagerWithOptions(
			WithNotifier(EmailSystem, mock),
			WithOTPCodeTemplate(EmailSystem),
		)
		require.NoError(t, err)

		err = nm.Send(OTPCodeNotice, NotificationData{
			To:   "ada@example.com",
			Data: map[string]string{"Code": "123456"},
		})
		require.NoError(t, err)

		sent := mock.Sent()
		require.Len(t, sent, 1)
		assert.Equal(t, "ada@example.com", sent[0].To)
	})

	t.Run("UnknownNoticeType", func(t *testing.T) {
		nm := NewNotificationManager()
		err := nm.Send("welcome", NotificationData{To: "a@example.com"})
		assert.Error(t, err)
	})

	t.Run("NoNotifierForTemplate", func(t *testing.T) {
		nm, err := NewNotificationManagerWithOptions(WithOTPCodeTemplate(EmailSystem))
		require.NoError(t, err)
		assert.Error(t, nm.Send(OTPCodeNotice, NotificationData{To: "a@example.com"}))
	})

	t.Run("NotifierErrorSurfaces", func(t *testing.T) {
		nm, err := NewNotificationManagerWithOptions(
			WithNotifier(EmailSystem, failingNotifier{}),
			WithOTPCodeTemplate(EmailSystem),
		)
		require.NoError(t, err)
		assert.EqualError(t, nm.Send(OTPCodeNotice, NotificationData{To: "a@example.com"}), "smtp down")
	})

	t.Run("OneSystemSucceedingIsEnough", func(t *testing.T) {
		mock := &MockNotifier{}
		nm, err := NewNotificationManagerWithOptions(
			WithNotifier(EmailSystem, failingNotifier{}),
			WithNotifier(LogSystem, mock),
			WithOTPCodeTemplate(EmailSystem, LogSystem),
		)
		require.NoError(t, err)
		assert.NoError(t, nm.Send(OTPCodeNotice, NotificationData{To: "a@example.com"}))
		assert.Len(t, mock.Sent(), 1)
	})
}

func TestRegisterNotification_Validation(t *testing.T) {
	nm := NewNotificationManager()
	assert.Error(t, nm.RegisterNotification("", EmailSystem, NoticeTemplate{Text: "x"}))
	assert.Error(t, nm.RegisterNotification(OTPCodeNotice, "", NoticeTemplate{Text: "x"}))
	assert.Error(t, nm.RegisterNotification(OTPCodeNotice, EmailSystem, NoticeTemplate{Subject: "only"}))
}

func TestRenderBodies(t *testing.T) {
	data := NotificationData{Data: map[string]string{"Name": "<Ada>", "Code": "654321", "ExpiresIn": "10 minutes"}}

	text, html, err := renderBodies(data, NoticeTemplate{
		Text: loadTemplate("templates/email/otp_code.txt"),
		Html: loadTemplate("templates/email/otp_code.html"),
	})
	require.NoError(t, err)
	assert.Contains(t, text, "654321")
	assert.Contains(t, text, "Hi <Ada>")
	assert.Contains(t, html, "654321")
	assert.Contains(t, html, "&lt;Ada&gt;")

	_, _, err = renderBodies(data, NoticeTemplate{Text: "{{.Code"})
	assert.Error(t, err)

	text, _, err = renderBodies(NotificationData{Body: "plain"}, NoticeTemplate{})
	require.NoError(t, err)
	assert.Equal(t, "plain", text)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := NewLogNotifier(logger)

	err := n.Send(OTPCodeNotice, NotificationData{
		To:   "ada@example.com",
		Data: map[string]string{"Code": "111222"},
	}, NoticeTemplate{Subject: "Your code", Text: "code {{.Code}}"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "code 111222")
	assert.Contains(t, buf.String(), "ada@example.com")
}

func TestNewEmailNotifier_RequiresFrom(t *testing.T) {
	_, err := NewEmailNotifier(SMTPConfig{Host: "localhost", Port: 1025})
	assert.Error(t, err)
}
