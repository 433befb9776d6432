package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appshell/appshell/internal/domain/audit"
)

// AuditService provides async audit logging with a buffered channel and background worker.
// Dispatches are audited without blocking the pipeline.
type AuditService struct {
	store         audit.AuditStore
	auditChan     chan audit.AuditRecord
	wg            sync.WaitGroup
	logger        *slog.Logger
	observer      AuditObserver
	batchSize     int
	flushInterval time.Duration

	// closeMu guards auditChan against sends after Stop closed it.
	closeMu sync.RWMutex
	closed  bool

	channelSize int           // capacity, for monitoring
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	warningThreshold int          // percentage (0-100)
	lastWarning      atomic.Int64 // unix nanos of the last depth warning

	adaptiveFlushThreshold int // depth % that triggers faster flushing
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size <= 0 {
			return
		}
		s.auditChan = make(chan audit.AuditRecord, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = clampPercent(percent)
	}
}

// WithAdaptiveFlushThreshold sets the channel depth % that triggers faster flushing.
// Above it the flush interval drops to a quarter. 0 disables adaptive flushing.
func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.adaptiveFlushThreshold = clampPercent(percent)
	}
}

// WithAuditObserver reports dropped records to o.
func WithAuditObserver(o AuditObserver) AuditOption {
	return func(s *AuditService) {
		if o != nil {
			s.observer = o
		}
	}
}

func clampPercent(p int) int {
	return max(0, min(p, 100))
}

// NewAuditService creates a new AuditService with the given store and options.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	defaultChannelSize := 1000
	s := &AuditService{
		store:                  store,
		auditChan:              make(chan audit.AuditRecord, defaultChannelSize),
		logger:                 logger,
		observer:               nopObserver{},
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the background worker that batches and writes audit records.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record hands a record to the background worker. It never fails: when the
// buffer stays full for longer than the send timeout, the record is dropped
// and counted. Records sent after Stop are dropped too.
func (s *AuditService) Record(record audit.AuditRecord) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		s.recordDrop(record)
		return
	}

	if s.warningThreshold > 0 {
		depth := len(s.auditChan)
		threshold := s.channelSize * s.warningThreshold / 100
		if depth >= threshold {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.auditChan <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.auditChan <- record:
	case <-timer.C:
		s.recordDrop(record)
	}
}

func (s *AuditService) recordDrop(record audit.AuditRecord) {
	drops := s.dropCount.Add(1)
	s.observer.ObserveAuditDrop()
	s.logger.Warn("audit record dropped",
		"action", record.ActionID,
		"request_id", record.RequestID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs a capacity warning at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns total dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns current channel usage.
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns channel buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop signals the worker to stop and waits for it to finish.
// Pending records are flushed before returning. Stop is idempotent.
func (s *AuditService) Stop() {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.auditChan)
	}
	s.closeMu.Unlock()
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	// Writes outlive cancellation; ctx only ends the batching loop.
	writeCtx := context.WithoutCancel(ctx)
	batch := make([]audit.AuditRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	fastMode := false

	for {
		select {
		case record, ok := <-s.auditChan:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, record)

			depthPercent := len(s.auditChan) * 100 / s.channelSize
			pressured := s.adaptiveFlushThreshold > 0 && depthPercent >= s.adaptiveFlushThreshold

			if len(batch) >= s.batchSize || pressured {
				s.flush(writeCtx, batch)
				batch = batch[:0]
			}

			if s.adaptiveFlushThreshold > 0 {
				switch {
				case pressured && !fastMode:
					ticker.Reset(s.flushInterval / 4)
					fastMode = true
					s.logger.Debug("audit adaptive flush: entering fast mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval/4,
					)
				case !pressured && fastMode:
					ticker.Reset(s.flushInterval)
					fastMode = false
					s.logger.Debug("audit adaptive flush: returning to normal mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval,
					)
				}
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(writeCtx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			s.drain(batch)
			return
		}
	}
}

// drain keeps consuming after the worker context is cancelled until Stop
// closes the channel, so records from dispatches still in flight are written.
func (s *AuditService) drain(batch []audit.AuditRecord) {
	for record := range s.auditChan {
		batch = append(batch, record)
		if len(batch) >= s.batchSize {
			s.finalFlush(batch)
			batch = batch[:0]
		}
	}
	s.finalFlush(batch)
}

// finalFlush writes batch with a bounded deadline independent of the worker context.
func (s *AuditService) finalFlush(batch []audit.AuditRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
}

// flush writes a batch of records to the store.
// Errors are logged but not propagated; audit must never fail a dispatch.
func (s *AuditService) flush(ctx context.Context, batch []audit.AuditRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
