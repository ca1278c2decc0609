// Package notify delivers run completion notifications
package notify

import (
	"fmt"

	"github.com/patchstorm/patchstorm/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
	PRURL   string // Optional PR URL
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// RunCompleted builds the notification for a run whose jobs have all
// reached a terminal state
func RunCompleted(runID string, counts map[domain.JobStatus]int, total int) Notification {
	failed := counts[domain.JobFailed]
	succeeded := counts[domain.JobSucceeded]
	noChanges := counts[domain.JobNoChanges]

	n := Notification{
		Title: "Run completed",
		RunID: runID,
		Message: fmt.Sprintf("%d jobs: %d published, %d no changes, %d failed",
			total, succeeded, noChanges, failed),
	}
	switch {
	case failed == 0:
		n.Type = NotifySuccess
	case failed < total:
		n.Type = NotifyWarning
	default:
		n.Type = NotifyError
	}
	return n
}
