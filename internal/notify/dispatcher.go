package notify

import (
	"context"

	"github.com/rs/zerolog"

	"miraattend/internal/queue"
	"miraattend/internal/users"
)

// TextSender sends a short text message to a phone number.
type TextSender interface {
	SendMessage(ctx context.Context, phoneNumber, message string) error
}

// Dispatcher fans a committed-attendance event out to every channel the
// subject has verified. Delivery failures are logged and swallowed; a missed
// notification never invalidates the mark.
type Dispatcher struct {
	directory users.Directory
	email     Notifier
	texts     TextSender
	logger    zerolog.Logger
}

// NewDispatcher wires a dispatcher. email and texts may each be nil when the
// channel is not configured.
func NewDispatcher(directory users.Directory, email Notifier, texts TextSender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{directory: directory, email: email, texts: texts, logger: logger}
}

// DispatchMarked delivers the notifications for one event. Guardian and self
// emails go only to verified addresses; the text message needs a phone number
// on file.
func (d *Dispatcher) DispatchMarked(ctx context.Context, evt queue.AttendanceMarked) {
	user, err := d.directory.ByID(ctx, evt.UserID)
	if err != nil {
		d.logger.Error().Err(err).Str("user_id", evt.UserID).Msg("notification subject lookup failed")
		return
	}

	body := MarkedBody(evt)
	if d.email != nil {
		if user.ParentEmail != "" && user.ParentEmailVerified {
			d.send(ctx, Notification{To: user.ParentEmail, Subject: GuardianSubject(user.Name), Body: body})
		}
		if user.Email != "" && user.EmailVerified {
			d.send(ctx, Notification{To: user.Email, Subject: SelfSubject, Body: body})
		}
	}

	if d.texts != nil && user.PhoneNumber != "" {
		if err := d.texts.SendMessage(ctx, user.PhoneNumber, MarkedText(evt)); err != nil {
			d.logger.Error().Err(err).Str("user_id", evt.UserID).Msg("whatsapp notification failed")
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, n Notification) {
	if err := d.email.Send(ctx, n); err != nil {
		d.logger.Error().Err(err).Str("to", n.To).Msg("email notification failed")
	}
}
