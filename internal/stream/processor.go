// Package stream implements the priority-aware transaction stream
// processor: an elastic worker pool that scores transactions via an
// injected scoring function and fans results out to registered handlers.
package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
	"github.com/gyaneshwarpardhi/sentinel/internal/transaction"
)

// Scorer is the injected fraud-scoring collaborator. The processor only
// contracts on its input/output shape and that it may fail.
type Scorer interface {
	Score(ctx context.Context, tx *transaction.Transaction) (*transaction.Result, error)
}

// ResultHandler receives every successful result, in registration order.
type ResultHandler func(tx *transaction.Transaction, res *transaction.Result)

// ErrorHandler receives scoring failures.
type ErrorHandler func(tx *transaction.Transaction, err error)

// Processor ingests transactions and runs them through the worker pool.
type Processor struct {
	conf       config.StreamConf
	classifier *transaction.Classifier
	scorer     Scorer
	queues     *priorityQueues

	mu             sync.Mutex
	resultHandlers []ResultHandler
	errorHandlers  []ErrorHandler
	batches        map[string][]*transaction.Transaction
	samples        []sample

	workers       atomic.Int32
	pendingRetire atomic.Int32
	processed     atomic.Int64
	errorCount    atomic.Int64
	inFlight      atomic.Int64
	accepting     atomic.Bool

	retireCh chan struct{}
	stopCh   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc

	trail *audit.Trail
	log   *zap.Logger
	wg    sync.WaitGroup
}

type sample struct {
	at time.Time
	d  time.Duration
}

// New builds a Processor; the classification thresholds come from config.
func New(conf config.StreamConf, scorer Scorer, trail *audit.Trail, log *zap.Logger) (*Processor, error) {
	critical, err := decimal.NewFromString(conf.CriticalAmount)
	if err != nil {
		return nil, fmt.Errorf("stream: critical_amount: %w", err)
	}
	high, err := decimal.NewFromString(conf.HighAmount)
	if err != nil {
		return nil, fmt.Errorf("stream: high_amount: %w", err)
	}
	low, err := decimal.NewFromString(conf.LowAmount)
	if err != nil {
		return nil, fmt.Errorf("stream: low_amount: %w", err)
	}
	return &Processor{
		conf: conf,
		classifier: &transaction.Classifier{
			CriticalAmount: critical,
			HighAmount:     high,
			LowAmount:      low,
			HomeCurrency:   conf.HomeCurrency,
			HomeCountry:    conf.HomeCountry,
		},
		scorer:   scorer,
		queues:   newPriorityQueues(conf.QueueCapacity),
		batches:  make(map[string][]*transaction.Transaction),
		retireCh: make(chan struct{}, conf.MaxWorkers),
		stopCh:   make(chan struct{}),
		trail:    trail,
		log:      log,
	}, nil
}

// RegisterResultHandler appends a handler; delivery follows registration order.
func (p *Processor) RegisterResultHandler(h ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultHandlers = append(p.resultHandlers, h)
}

// RegisterErrorHandler appends a scoring-failure handler.
func (p *Processor) RegisterErrorHandler(h ErrorHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorHandlers = append(p.errorHandlers, h)
}

// Submit classifies the transaction and enqueues it into its tier.
// Returns false on backpressure; the caller decides whether to retry,
// drop, or escalate.
func (p *Processor) Submit(tx *transaction.Transaction) bool {
	if !p.accepting.Load() {
		return false
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	pri := p.classifier.Classify(tx)
	if !p.queues.submit(tx, pri) {
		metrics.TransactionsDropped.WithLabelValues(pri.String()).Inc()
		return false
	}
	metrics.TransactionsSubmitted.WithLabelValues(pri.String()).Inc()
	p.auditReceived(tx, pri)
	return true
}

// SubmitBatch submits many transactions and stages the batch for later
// replay. Returns the batch ID and how many were accepted.
func (p *Processor) SubmitBatch(txs []*transaction.Transaction) (string, int) {
	batchID := uuid.New().String()
	staged := make([]*transaction.Transaction, len(txs))
	copy(staged, txs)
	p.mu.Lock()
	p.batches[batchID] = staged
	p.mu.Unlock()

	accepted := 0
	for _, tx := range txs {
		if p.Submit(tx) {
			accepted++
		}
	}
	return batchID, accepted
}

// ReplayBatch re-submits a staged batch.
func (p *Processor) ReplayBatch(batchID string) (int, error) {
	p.mu.Lock()
	staged, ok := p.batches[batchID]
	p.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("stream: unknown batch %q", batchID)
	}
	accepted := 0
	for _, tx := range staged {
		if p.Submit(tx) {
			accepted++
		}
	}
	return accepted, nil
}

// Start brings up MinWorkers workers and the scaling loop.
func (p *Processor) Start() {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.accepting.Store(true)
	for i := 0; i < p.conf.MinWorkers; i++ {
		p.spawnWorker()
	}
	p.wg.Add(1)
	go p.scaleLoop()
	p.log.Info("stream processor started",
		zap.Int("min_workers", p.conf.MinWorkers),
		zap.Int("max_workers", p.conf.MaxWorkers))
}

// Stop stops accepting submissions, drains every tier, and joins all
// workers before returning. In-flight transactions complete; nothing is
// silently discarded.
func (p *Processor) Stop() {
	p.accepting.Store(false)
	for p.queues.totalDepth() > 0 || p.inFlight.Load() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
	close(p.stopCh)
	p.wg.Wait()
	p.cancel()
	p.log.Info("stream processor stopped", zap.Int64("processed", p.processed.Load()))
}

func (p *Processor) spawnWorker() {
	p.workers.Add(1)
	metrics.WorkerCount.Set(float64(p.workers.Load()))
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.workers.Add(-1)
			metrics.WorkerCount.Set(float64(p.workers.Load()))
		}()
		p.runWorker()
	}()
}

// runWorker polls the sub-queues in strict priority order, never starting
// a lower-tier item while a higher tier is non-empty.
func (p *Processor) runWorker() {
	for {
		select {
		case <-p.retireCh:
			p.pendingRetire.Add(-1)
			return
		default:
		}
		tx, ok := p.queues.pop(p.stopCh, p.retireCh)
		if !ok {
			select {
			case <-p.stopCh:
			default:
				p.pendingRetire.Add(-1) // woken by a retire signal
			}
			return
		}
		p.process(tx)
	}
}

// process invokes the scoring function with panic containment: a failing
// scorer is routed to error handlers and never terminates the worker.
func (p *Processor) process(tx *transaction.Transaction) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	start := time.Now()
	res, err := p.score(tx)
	elapsed := time.Since(start)

	if err != nil {
		p.errorCount.Add(1)
		metrics.ScoringErrors.Inc()
		p.log.Warn("scoring failed", zap.String("transaction_id", tx.ID), zap.Error(err))
		p.auditError(tx, err)
		p.mu.Lock()
		handlers := make([]ErrorHandler, len(p.errorHandlers))
		copy(handlers, p.errorHandlers)
		p.mu.Unlock()
		for _, h := range handlers {
			h(tx, err)
		}
		return
	}

	res.TransactionID = tx.ID
	res.ProcessingTime = elapsed
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}

	p.processed.Add(1)
	metrics.TransactionsProcessed.WithLabelValues(string(res.Decision)).Inc()
	metrics.ScoringDuration.Observe(float64(elapsed.Milliseconds()))
	p.recordSample(elapsed)
	p.auditDecision(tx, res)

	p.mu.Lock()
	handlers := make([]ResultHandler, len(p.resultHandlers))
	copy(handlers, p.resultHandlers)
	p.mu.Unlock()
	for _, h := range handlers {
		h(tx, res)
	}
}

func (p *Processor) score(tx *transaction.Transaction) (res *transaction.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("stream: scorer panicked: %v", rec)
		}
	}()
	return p.scorer.Score(p.ctx, tx)
}

// scaleLoop is the single scaling-decision routine: it compares queued
// items per worker against the configured thresholds and adds or retires
// one worker per tick, always clamped to [MinWorkers, MaxWorkers].
func (p *Processor) scaleLoop() {
	defer p.wg.Done()
	interval := time.Duration(p.conf.ScaleIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.scaleOnce()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Processor) scaleOnce() {
	depth := p.queues.totalDepth()
	for i := transaction.Priority(0); i < transaction.NumPriorities; i++ {
		metrics.QueueDepth.WithLabelValues(i.String()).Set(float64(p.queues.depth(i)))
	}

	workers := int(p.workers.Load())
	pending := int(p.pendingRetire.Load())
	effective := workers - pending
	if effective < 1 {
		return
	}
	utilization := float64(depth) / float64(effective)

	switch {
	case utilization > p.conf.ScaleUpThreshold && effective < p.conf.MaxWorkers:
		p.spawnWorker()
		p.log.Info("scaled up", zap.Int("workers", effective+1), zap.Int("queue_depth", depth))
	case utilization < p.conf.ScaleDownThreshold && effective > p.conf.MinWorkers:
		select {
		case p.retireCh <- struct{}{}:
			p.pendingRetire.Add(1)
			p.log.Info("scaling down", zap.Int("workers", effective-1), zap.Int("queue_depth", depth))
		default:
		}
	}
}

func (p *Processor) recordSample(d time.Duration) {
	window := time.Duration(p.conf.MetricsWindowSec) * time.Second
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, sample{at: now, d: d})
	cutoff := now.Add(-window)
	trimmed := p.samples[:0]
	for _, s := range p.samples {
		if s.at.After(cutoff) {
			trimmed = append(trimmed, s)
		}
	}
	p.samples = trimmed
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	Processed          int64          `json:"processed"`
	TransactionsPerSec float64        `json:"transactions_per_sec"`
	AvgLatencyMs       float64        `json:"avg_latency_ms"`
	P95LatencyMs       float64        `json:"p95_latency_ms"`
	ErrorCount         int64          `json:"error_count"`
	ErrorRate          float64        `json:"error_rate"`
	QueueDepths        map[string]int `json:"queue_depths"`
	Workers            int            `json:"workers"`
}

// Metrics returns current processor statistics. TPS and latency are
// computed over the sliding metrics window.
func (p *Processor) Metrics() Stats {
	p.mu.Lock()
	samples := make([]sample, len(p.samples))
	copy(samples, p.samples)
	p.mu.Unlock()

	stats := Stats{
		Processed:  p.processed.Load(),
		ErrorCount: p.errorCount.Load(),
		Workers:    int(p.workers.Load()),
		QueueDepths: map[string]int{
			transaction.PriorityCritical.String(): p.queues.depth(transaction.PriorityCritical),
			transaction.PriorityHigh.String():     p.queues.depth(transaction.PriorityHigh),
			transaction.PriorityNormal.String():   p.queues.depth(transaction.PriorityNormal),
			transaction.PriorityLow.String():      p.queues.depth(transaction.PriorityLow),
		},
	}
	if total := stats.Processed + stats.ErrorCount; total > 0 {
		stats.ErrorRate = float64(stats.ErrorCount) / float64(total)
	}
	if len(samples) == 0 {
		return stats
	}

	window := float64(p.conf.MetricsWindowSec)
	stats.TransactionsPerSec = float64(len(samples)) / window

	var sum time.Duration
	sorted := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		sum += s.d
		sorted = append(sorted, s.d)
	}
	stats.AvgLatencyMs = float64(sum.Milliseconds()) / float64(len(samples))
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	stats.P95LatencyMs = float64(sorted[idx].Milliseconds())
	return stats
}

func (p *Processor) auditReceived(tx *transaction.Transaction, pri transaction.Priority) {
	if p.trail == nil {
		return
	}
	if _, err := p.trail.LogEvent(audit.Record{
		EventType:     "transaction_received",
		Severity:      "LOW",
		Action:        "queued transaction " + tx.ID,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Details: map[string]interface{}{
			"priority": pri.String(),
			"amount":   tx.Amount.String(),
			"currency": tx.Currency,
			"merchant": tx.Merchant,
		},
	}); err != nil {
		p.log.Error("audit write failed", zap.Error(err))
	}
}

func (p *Processor) auditDecision(tx *transaction.Transaction, res *transaction.Result) {
	if p.trail == nil {
		return
	}
	confidence := res.Confidence
	if _, err := p.trail.LogEvent(audit.Record{
		EventType:     "decision",
		Severity:      decisionSeverity(res.Decision),
		Action:        fmt.Sprintf("scored transaction %s: %s", tx.ID, res.Decision),
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Decision:      string(res.Decision),
		Confidence:    &confidence,
		Evidence:      res.FraudIndicators,
		Details: map[string]interface{}{
			"risk_score":         res.RiskScore,
			"processing_time_ms": res.ProcessingTime.Milliseconds(),
		},
	}); err != nil {
		p.log.Error("audit write failed", zap.Error(err))
	}
}

func (p *Processor) auditError(tx *transaction.Transaction, scoreErr error) {
	if p.trail == nil {
		return
	}
	if _, err := p.trail.LogEvent(audit.Record{
		EventType:     "system_error",
		Severity:      "HIGH",
		Action:        "scoring failed for transaction " + tx.ID,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Details:       map[string]interface{}{"error": scoreErr.Error()},
	}); err != nil {
		p.log.Error("audit write failed", zap.Error(err))
	}
}

func decisionSeverity(d transaction.Decision) string {
	switch d {
	case transaction.DecisionDecline:
		return "HIGH"
	case transaction.DecisionFlag:
		return "MEDIUM"
	}
	return "LOW"
}
