package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

func openClickHouse(dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}
	return conn, nil
}

// ClickHouseWriter writes audit records to ClickHouse asynchronously.
// Write() is non-blocking; records are batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	*batcher
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouseWriter creates a ClickHouseWriter and starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := openClickHouse(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	w := &ClickHouseWriter{conn: conn, logger: logger}
	w.batcher = newBatcher(w.insert, logger)
	return w, nil
}

func (w *ClickHouseWriter) insert(records []*AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO audit_records (
			id, run_id, timestamp, agent, tool, subject,
			decision, rule, reason, stage, latency_ms
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		if err := batch.Append(
			r.ID, r.RunID, r.Timestamp, r.Agent, r.Tool, r.Subject,
			r.Decision, r.Rule, r.Reason, r.Stage, r.LatencyMs,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("id", r.ID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

// ClickHouseReader provides read access to the audit_records table.
type ClickHouseReader struct {
	conn driver.Conn
}

// NewClickHouseReader opens a ClickHouse connection for read queries.
func NewClickHouseReader(dsn string) (*ClickHouseReader, error) {
	conn, err := openClickHouse(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseReader: %w", err)
	}
	return &ClickHouseReader{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (r *ClickHouseReader) Close() error {
	return r.conn.Close()
}

// ListRecords returns paginated, filtered audit records and the total count.
func (r *ClickHouseReader) ListRecords(ctx context.Context, params ListParams) ([]AuditRecord, int, error) {
	params = params.normalize()
	conditions := []string{"1 = 1"}
	var args []any

	if params.RunID != nil {
		conditions = append(conditions, "run_id = @run_id")
		args = append(args, clickhouse.Named("run_id", *params.RunID))
	}
	if params.Agent != nil {
		conditions = append(conditions, "agent = @agent")
		args = append(args, clickhouse.Named("agent", *params.Agent))
	}
	if params.Decision != nil {
		conditions = append(conditions, "decision = @decision")
		args = append(args, clickhouse.Named("decision", *params.Decision))
	}
	if params.Since != nil {
		conditions = append(conditions, "timestamp >= @since")
		args = append(args, clickhouse.Named("since", *params.Since))
	}
	where := strings.Join(conditions, " AND ")

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM audit_records WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListRecords count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT id, run_id, timestamp, agent, tool, subject, decision, rule, reason, stage, latency_ms "+
			"FROM audit_records WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(params.offset())),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListRecords query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunID, &rec.Timestamp, &rec.Agent, &rec.Tool, &rec.Subject,
			&rec.Decision, &rec.Rule, &rec.Reason, &rec.Stage, &rec.LatencyMs,
		); err != nil {
			return nil, 0, fmt.Errorf("ListRecords scan: %w", err)
		}
		records = append(records, rec)
	}
	return records, int(total), rows.Err()
}
