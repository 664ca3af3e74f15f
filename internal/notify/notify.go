package notify

import (
	"context"
	"fmt"

	"miraattend/internal/queue"
)

// Notification is one outbound email.
type Notification struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers a notification over one channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MarkedBody renders the attendance email sent to both the student and the
// guardian.
func MarkedBody(evt queue.AttendanceMarked) string {
	status := evt.LocationStatus
	if status == "" {
		status = "N/A"
	}
	return fmt.Sprintf(
		"Dear Parent/Student,\n\nThis is to inform you that attendance for %s (PIN: %s) has been marked as PRESENT.\n\nTimestamp: %s\nLocation Status: %s (%s)\n\nRegards,\nMira Attendance System",
		evt.Name, evt.PIN, evt.Time, status, evt.LocationCoordinates,
	)
}

// MarkedText renders the short WhatsApp message.
func MarkedText(evt queue.AttendanceMarked) string {
	status := evt.LocationStatus
	if status == "" {
		status = "N/A"
	}
	msg := fmt.Sprintf("Attendance for %s (PIN: %s) has been marked PRESENT at %s. Location: %s", evt.Name, evt.PIN, evt.Time, status)
	if evt.LocationCoordinates != "" {
		msg += fmt.Sprintf(" (%s)", evt.LocationCoordinates)
	}
	return msg + "."
}

// GuardianSubject is the subject line for guardian emails.
func GuardianSubject(name string) string {
	return fmt.Sprintf("Attendance Marked for %s", name)
}

// SelfSubject is the subject line for the student's own email.
const SelfSubject = "Your Attendance has been Marked"
