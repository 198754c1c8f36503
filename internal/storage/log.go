package storage

import "go.uber.org/zap"

// LogWriter is a fallback AuditWriter for local development.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(rec *AuditRecord) {
	w.logger.Info("audit_record",
		zap.String("id", rec.ID),
		zap.String("run_id", rec.RunID),
		zap.String("agent", rec.Agent),
		zap.String("tool", rec.Tool),
		zap.String("subject", rec.Subject),
		zap.String("decision", rec.Decision),
		zap.String("rule", rec.Rule),
		zap.String("reason", rec.Reason),
		zap.String("stage", rec.Stage),
		zap.Float32("latency_ms", rec.LatencyMs),
	)
}

func (w *LogWriter) Close() {}
