package notify

import (
	"context"
	"fmt"
	"net/smtp"
)

// EmailNotifier sends notifications over SMTP with plain auth.
type EmailNotifier struct {
	host string
	port string
	from string
	auth smtp.Auth
}

// NewEmailNotifier configures a sender.
func NewEmailNotifier(host, port, mail, password string) *EmailNotifier {
	return &EmailNotifier{
		host: host,
		port: port,
		from: mail,
		auth: smtp.PlainAuth("", mail, password, host),
	}
}

// Send delivers one email.
func (e *EmailNotifier) Send(ctx context.Context, n Notification) error {
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s", n.To, n.Subject, n.Body))
	if err := smtp.SendMail(e.host+":"+e.port, e.auth, e.from, []string{n.To}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", n.To, err)
	}
	return nil
}
