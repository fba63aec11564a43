package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rightly/dsar-gateway/internal/models"
	"go.uber.org/zap"
)

const (
	requestLogBatchSize     = 100
	requestLogFlushInterval = 5 * time.Second
)

// RequestLogSink persists a batch of audit entries
type RequestLogSink interface {
	CreateBatch(ctx context.Context, logs []models.RequestLog) error
}

// RequestLogger queues audit entries and writes them in batches from a
// single background worker.
type RequestLogger struct {
	sink     RequestLogSink
	resolver ClientIPResolver
	log      *zap.Logger
	entries  chan models.RequestLog
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewRequestLogger(sink RequestLogSink, resolver ClientIPResolver, log *zap.Logger, bufferSize int) *RequestLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	rl := &RequestLogger{
		sink:     sink,
		resolver: resolver,
		log:      log,
		entries:  make(chan models.RequestLog, bufferSize),
		done:     make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.run()

	return rl
}

func (rl *RequestLogger) run() {
	defer rl.wg.Done()

	batch := make([]models.RequestLog, 0, requestLogBatchSize)
	ticker := time.NewTicker(requestLogFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		rl.insertBatch(batch)
		batch = make([]models.RequestLog, 0, requestLogBatchSize)
	}

	for {
		select {
		case entry := <-rl.entries:
			batch = append(batch, entry)

			// Insert when batch is full
			if len(batch) >= requestLogBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-rl.done:
			// Drain whatever is still queued
			for {
				select {
				case entry := <-rl.entries:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (rl *RequestLogger) insertBatch(logs []models.RequestLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rl.sink.CreateBatch(ctx, logs); err != nil {
		// Log error but dont block
		rl.log.Error("failed to insert request logs", zap.Int("count", len(logs)), zap.Error(err))
	}
}

// Stop flushes pending entries and waits for the worker
func (rl *RequestLogger) Stop() {
	rl.once.Do(func() {
		close(rl.done)
		rl.wg.Wait()
	})
}

// Middleware records every request after it completes
func (rl *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := models.RequestLog{
			Timestamp:      start.UTC(),
			RequestID:      GetRequestID(c),
			Route:          c.GetString(RouteKey),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      rl.resolver.ClientIP(c.Request),
			UserAgent:      c.Request.UserAgent(),
		}

		// Channel full: skip logging to avoid blocking
		select {
		case rl.entries <- entry:
		default:
			rl.log.Warn("request log queue full, dropping entry", zap.String("request_id", entry.RequestID))
		}
	}
}
