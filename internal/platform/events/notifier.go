package events

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// Level is the severity of a user-facing notice.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Toast is the payload of a TypeToast event.
type Toast struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier publishes toasts on TopicToast.
type Notifier struct {
	pub    Publisher
	logger zerolog.Logger
}

func NewNotifier(pub Publisher, logger zerolog.Logger) *Notifier {
	return &Notifier{pub: pub, logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, level Level, message string) {
	if n == nil || n.pub == nil {
		return
	}
	data, _ := json.Marshal(Toast{Level: level, Message: message})
	if err := n.pub.Publish(ctx, Event{Type: TypeToast, Topic: TopicToast, Data: data}); err != nil {
		n.logger.Warn().Err(err).Msg("failed to publish notice")
	}
}

func (n *Notifier) Success(ctx context.Context, message string) { n.Notify(ctx, LevelSuccess, message) }
func (n *Notifier) Info(ctx context.Context, message string)    { n.Notify(ctx, LevelInfo, message) }
func (n *Notifier) Warn(ctx context.Context, message string)    { n.Notify(ctx, LevelWarning, message) }
func (n *Notifier) Error(ctx context.Context, message string)   { n.Notify(ctx, LevelError, message) }

// DecodeToast extracts the toast payload of ev.
func DecodeToast(ev Event) (Toast, error) {
	var t Toast
	err := json.Unmarshal(ev.Data, &t)
	return t, err
}
