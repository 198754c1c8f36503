package storage

import (
	"context"
	"time"

	"github.com/triage-ai/agentgate/internal/metrics"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// batcher buffers records and hands them to flush from a single goroutine.
// Write is non-blocking: records are dropped when the buffer is full.
type batcher struct {
	buffer  chan *AuditRecord
	done    chan struct{}
	flushed chan struct{}
	flush   func([]*AuditRecord)
	logger  *zap.Logger
}

func newBatcher(flush func([]*AuditRecord), logger *zap.Logger) *batcher {
	b := &batcher{
		buffer:  make(chan *AuditRecord, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		flush:   flush,
		logger:  logger,
	}
	go b.flushLoop()
	return b
}

func (b *batcher) Write(rec *AuditRecord) {
	select {
	case b.buffer <- rec:
	default:
		metrics.Record().AuditDropped()
		b.logger.Warn("audit buffer full, dropping record",
			zap.String("id", rec.ID),
			zap.String("run_id", rec.RunID),
		)
	}
}

// Close signals the flush loop to drain remaining records and waits for it.
func (b *batcher) Close() {
	close(b.done)
	<-b.flushed
}

func (b *batcher) flushLoop() {
	defer close(b.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*AuditRecord, 0, flushBatch)

	for {
		select {
		case rec := <-b.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-b.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-b.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				b.flush(batch)
			}
			return
		}
	}
}
