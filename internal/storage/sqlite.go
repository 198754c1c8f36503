package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	timestamp  INTEGER NOT NULL,
	agent      TEXT NOT NULL,
	tool       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	decision   TEXT NOT NULL,
	rule       TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	stage      TEXT NOT NULL,
	latency_ms REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS audit_records_run ON audit_records(run_id);
CREATE INDEX IF NOT EXISTS audit_records_ts ON audit_records(timestamp);
`

// SQLiteStore is a local audit log. It writes like ClickHouseWriter (buffered,
// one flushing goroutine) and reads back through ListRecords.
type SQLiteStore struct {
	*batcher
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens (creating if needed) the audit database at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenSQLite: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	s.batcher = newBatcher(s.insert, logger)
	return s, nil
}

// Close drains pending records and closes the database.
func (s *SQLiteStore) Close() {
	s.batcher.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("sqlite close failed", zap.Error(err))
	}
}

func (s *SQLiteStore) insert(records []*AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("sqlite begin failed", zap.Error(err))
		return
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO audit_records (
			id, run_id, timestamp, agent, tool, subject,
			decision, rule, reason, stage, latency_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		s.logger.Error("sqlite prepare failed", zap.Error(err))
		return
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.RunID, r.Timestamp.UnixNano(), r.Agent, r.Tool, r.Subject,
			r.Decision, r.Rule, r.Reason, r.Stage, r.LatencyMs,
		); err != nil {
			s.logger.Error("sqlite insert record failed",
				zap.String("id", r.ID),
				zap.Error(err),
			)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite commit failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// ListRecords returns paginated, filtered audit records and the total count.
func (s *SQLiteStore) ListRecords(ctx context.Context, params ListParams) ([]AuditRecord, int, error) {
	params = params.normalize()
	conditions := []string{"1 = 1"}
	var args []any

	if params.RunID != nil {
		conditions = append(conditions, "run_id = ?")
		args = append(args, *params.RunID)
	}
	if params.Agent != nil {
		conditions = append(conditions, "agent = ?")
		args = append(args, *params.Agent)
	}
	if params.Decision != nil {
		conditions = append(conditions, "decision = ?")
		args = append(args, *params.Decision)
	}
	if params.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, params.Since.UnixNano())
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM audit_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListRecords count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, timestamp, agent, tool, subject, decision, rule, reason, stage, latency_ms "+
			"FROM audit_records WHERE "+where+
			" ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		append(args, params.PageSize, params.offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListRecords query: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var ts int64
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &ts, &rec.Agent, &rec.Tool, &rec.Subject,
			&rec.Decision, &rec.Rule, &rec.Reason, &rec.Stage, &rec.LatencyMs,
		); err != nil {
			return nil, 0, fmt.Errorf("ListRecords scan: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		records = append(records, rec)
	}
	return records, total, rows.Err()
}
