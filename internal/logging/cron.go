package logging

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to cron.Logger. cron's Info output is chatty
// (every wake-up and run), so it is demoted to debug.
type cronLogger struct {
	logger *slog.Logger
}

// CronLogger returns a cron.Logger that writes through l.
func CronLogger(l *slog.Logger) cron.Logger {
	return cronLogger{logger: OrDiscard(l)}
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
