package notify

import (
	"context"

	logx "prestic/pkg/logx"
)

// LogSink writes notifications to the service log. It doubles as the
// always-available fallback transport.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, m Message) error {
	_ = ctx
	if m.Failure {
		s.log.Error(m.Subject, logx.String("profile", m.Profile), logx.String("detail", m.Body))
	} else {
		s.log.Info(m.Subject, logx.String("profile", m.Profile), logx.String("detail", m.Body))
	}
	return nil
}
