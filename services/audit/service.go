package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/repositories"
	"github.com/upb/tier-router/services/routing"
	"go.uber.org/zap"
)

// AttemptAuditor persists routed-call attempts asynchronously. It is a
// routing.Observer, so the router never waits on the database.
type AttemptAuditor struct {
	repo        repositories.AttemptRepository
	logger      *zap.Logger
	recordChan  chan *models.AttemptRecord
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	dropped     int
	mu          sync.Mutex
}

// Config holds configuration for the AttemptAuditor
type Config struct {
	BufferSize  int // Size of the record buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAttemptAuditor creates a new AttemptAuditor instance
func NewAttemptAuditor(repo repositories.AttemptRepository, logger *zap.Logger, config Config) *AttemptAuditor {
	return &AttemptAuditor{
		repo:        repo,
		logger:      logger,
		recordChan:  make(chan *models.AttemptRecord, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (a *AttemptAuditor) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("attempt auditor already started")
	}

	for i := 0; i < a.workerCount; i++ {
		a.wg.Add(1)
		go a.worker(i)
	}

	a.started = true
	a.logger.Info("started attempt auditor",
		zap.Int("worker_count", a.workerCount),
		zap.Int("buffer_size", a.bufferSize))

	return nil
}

// Stop stops accepting records and waits for the queued ones to be written
func (a *AttemptAuditor) Stop(timeout time.Duration) error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return fmt.Errorf("attempt auditor not running")
	}
	a.stopped = true
	pending := len(a.recordChan)
	close(a.recordChan)
	a.mu.Unlock()

	a.logger.Info("stopping attempt auditor", zap.Int("pending_records", pending))

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("attempt auditor stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("attempt auditor stop timeout after %v", timeout)
	}
}

// Record queues a record without blocking. A full buffer drops the record.
func (a *AttemptAuditor) Record(record *models.AttemptRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started || a.stopped {
		return fmt.Errorf("attempt auditor not running")
	}

	select {
	case a.recordChan <- record:
		return nil
	default:
		a.dropped++
		a.logger.Warn("attempt record buffer full, dropping record",
			zap.String("call_id", record.CallID.String()),
			zap.String("model", record.Model))
		return fmt.Errorf("attempt record buffer full")
	}
}

// OnAttempt implements routing.Observer
func (a *AttemptAuditor) OnAttempt(_ context.Context, event routing.AttemptEvent) {
	// Errors are already logged by Record
	_ = a.Record(RecordFromEvent(event))
}

// RecordFromEvent converts an attempt event into its persisted form
func RecordFromEvent(event routing.AttemptEvent) *models.AttemptRecord {
	res := event.Result

	outcome := models.AttemptOutcomeFailed
	switch {
	case res.Succeeded():
		outcome = models.AttemptOutcomeSuccess
	case res.RateLimited():
		outcome = models.AttemptOutcomeRateLimited
	}

	rec := models.NewAttemptRecord(event.CallID, event.Sequence, res.Model, outcome)
	if !event.Time.IsZero() {
		rec.CreatedAt = event.Time.UTC()
	}
	rec.LatencyMs = int(res.Latency.Milliseconds())

	if res.Response != nil {
		rec.PromptTokens = res.Response.Usage.PromptTokens
		rec.CompletionTokens = res.Response.Usage.CompletionTokens
	}
	if res.Err != nil {
		rec.ErrorKind = string(res.Err.Kind)
		rec.ErrorMessage = res.Err.Error()
		rec.StatusCode = res.Err.StatusCode
	}

	return rec
}

// worker processes records from the channel
func (a *AttemptAuditor) worker(id int) {
	defer a.wg.Done()

	a.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for record := range a.recordChan {
		if err := a.persist(record); err != nil {
			a.logger.Error("failed to persist attempt",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("call_id", record.CallID.String()),
				zap.String("model", record.Model))
		}
	}

	a.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (a *AttemptAuditor) persist(record *models.AttemptRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.repo.Insert(ctx, record); err != nil {
		return fmt.Errorf("failed to insert attempt record: %w", err)
	}
	return nil
}

// GetStats returns statistics about the auditor
func (a *AttemptAuditor) GetStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		BufferSize:     a.bufferSize,
		PendingRecords: len(a.recordChan),
		WorkerCount:    a.workerCount,
		Dropped:        a.dropped,
		Started:        a.started && !a.stopped,
	}
}

// Stats represents auditor statistics
type Stats struct {
	BufferSize     int
	PendingRecords int
	WorkerCount    int
	Dropped        int
	Started        bool
}
