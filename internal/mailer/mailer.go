package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Notifier delivers action-item notifications. Services hold the interface so
// tests can swap in fakes.
type Notifier interface {
	SendActionNotification(email, userName, description string) error
}

type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

func New(host string, port int, user, pass, from string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, user, pass),
		from:   from,
	}
}

func (m *Mailer) SendActionNotification(email, userName, description string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", "New Action Item Assigned")
	msg.SetBody("text/plain", fmt.Sprintf(
		"Hello %s,\n\nYou have been assigned a new action item:\n\n%s\n\nKind Regards,\nAgileFlow Team",
		userName, description,
	))
	return m.dialer.DialAndSend(msg)
}
