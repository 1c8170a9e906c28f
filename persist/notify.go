package persist

import "github.com/rs/zerolog"

// Level classifies a user-facing notification.
type Level int

const (
	LevelSuccess Level = iota
	LevelError
)

// Notification is a user-facing save outcome. Sticky notifications stay on
// screen until dismissed; non-sticky ones auto-dismiss.
type Notification struct {
	Level   Level
	Message string
	Sticky  bool
}

// Notifier receives user-facing save notifications.
type Notifier interface {
	Notify(n Notification)
}

// Status feeds the external save-status indicator.
type Status string

const (
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// StatusSink receives save-status transitions.
type StatusSink interface {
	SetSaveStatus(s Status)
}

// LogNotifier is the headless fallback: notifications and status changes go
// to the log.
type LogNotifier struct {
	Log zerolog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	ev := l.Log.Info()
	if n.Level == LevelError {
		ev = l.Log.Error()
	}
	ev.Bool("sticky", n.Sticky).Msg(n.Message)
}

func (l LogNotifier) SetSaveStatus(s Status) {
	l.Log.Debug().Str("status", string(s)).Msg("save status")
}
