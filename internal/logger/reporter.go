package logger

import (
	"go.uber.org/zap"

	"github.com/Faultbox/dmiscope/internal/report"
)

// NewReporter writes report records to l. Configuration problems are
// logged as errors, per-file failures as warnings.
func NewReporter(l *zap.Logger) report.Reporter {
	return report.Func(func(r report.Record) {
		fields := []zap.Field{
			zap.String("kind", string(r.Kind)),
			zap.String("path", r.Path),
		}
		if r.Key != "" {
			fields = append(fields, zap.String("key", r.Key))
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}

		if r.Kind == report.KindConfig {
			l.Error(r.Message, fields...)
			return
		}
		l.Warn(r.Message, fields...)
	})
}
