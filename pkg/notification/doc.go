// Package notification carries two kinds of messages: user-facing notices
// published while a person moves through onboarding, and outbound notifications
// (one-time code emails) sent by the development backend.
//
// # Notices
//
// Every onboarding component publishes to a Channel. Publishing never blocks
// and never reports whether anyone saw the notice.
//
//	b := notification.NewBroadcaster(16)
//	notices, cancel := b.Subscribe()
//	defer cancel()
//
//	notification.Success(b, "Code sent to you@example.com")
//	notification.Error(b, "Phone number is required", "phone")
//
//	n := <-notices
//	fmt.Println(n.Level, n.Message)
//
// A subscriber that falls behind misses notices rather than stalling the
// publisher. NopChannel discards everything and MockChannel records
// everything for tests.
//
// # Outbound Notifications
//
// NotificationManager routes a NoticeType to every NotificationSystem that has
// both a template and a Notifier registered.
//
//	nm, err := notification.NewNotificationManagerWithOptions(
//	    notification.WithSMTP(notification.SMTPConfig{
//	        Host: "localhost",
//	        Port: 1025,
//	        From: "noreply@example.com",
//	    }),
//	    notification.WithOTPCodeTemplate(notification.EmailSystem),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = nm.Send(notification.OTPCodeNotice, notification.NotificationData{
//	    To:   "you@example.com",
//	    Data: map[string]string{"Name": "Ada", "Code": "123456", "ExpiresIn": "10 minutes"},
//	})
//
// Without an SMTP server, register a LogNotifier under LogSystem and the
// rendered text body is written to the logger instead.
package notification
