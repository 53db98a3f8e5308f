package board

import log "github.com/sirupsen/logrus"

// Level tells a notification's outcome.
type Level int

const (
	LevelSuccess Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "success"
}

// Notice is a transient, user-visible outcome of a board operation.
type Notice struct {
	Level   Level
	Message string
	Err     error
}

// Notifier receives one Notice per finished operation.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type logNotifier struct {
	log *log.Logger
}

func (l logNotifier) Notify(n Notice) {
	entry := l.log.WithField("notice", n.Level.String())
	if n.Err != nil {
		entry.WithError(n.Err).Warn(n.Message)
		return
	}
	entry.Info(n.Message)
}
