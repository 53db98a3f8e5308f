package api

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// PoolConfig sizes the event publishing pool.
type PoolConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration

	// RetryInitial and RetryMax bound the exponential backoff between
	// attempts. RetryLimit caps attempts per event; zero retries forever.
	RetryInitial time.Duration
	RetryMax     time.Duration
	RetryLimit   int

	// WALDir holds the log of undelivered events. Empty disables it.
	WALDir          string
	WALCompactBytes int64
}

// PoolConfigFromEnv reads the EVENT_* variables, falling back to defaults
// for unset or invalid values.
func PoolConfigFromEnv() PoolConfig {
	walDir := filepath.Join(os.TempDir(), "taskboard-events")
	if v, ok := os.LookupEnv("EVENT_WAL_DIR"); ok {
		walDir = v
	}
	return PoolConfig{
		Workers:         envInt("EVENT_WORKERS", 8),
		Buffer:          envInt("EVENT_BUFFER", 1024),
		Timeout:         envDur("EVENT_TIMEOUT", 30*time.Second),
		HandoffTimeout:  envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		RetryInitial:    envDur("EVENT_RETRY_INITIAL", 250*time.Millisecond),
		RetryMax:        envDur("EVENT_RETRY_MAX", 30*time.Second),
		RetryLimit:      envInt("EVENT_RETRY_LIMIT", 10),
		WALDir:          walDir,
		WALCompactBytes: int64(envInt("EVENT_WAL_COMPACT_KB", 1024)) * 1024,
	}
}

// EventPublisher hands task events to a fixed set of workers that forward
// them to the sink. When the buffer stays full past the handoff timeout the
// event is published inline. Failed deliveries are retried with backoff and,
// when a WAL directory is configured, survive a restart. Publishing failures
// are logged, never returned to the request.
type EventPublisher struct {
	sink EventSink
	log  *log.Logger
	cfg  PoolConfig
	wal  *eventWAL

	jobs    chan *walRecord
	stop    chan struct{}
	wg      sync.WaitGroup
	retryWG sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	ackMu   sync.Mutex
	acked   map[uint64]struct{}
	nextAck uint64
}

// NewEventPublisher starts cfg.Workers goroutines publishing to sink. Events
// left in the WAL by a previous run are queued again.
func NewEventPublisher(sink EventSink, logger *log.Logger, cfg PoolConfig) (*EventPublisher, error) {
	if sink == nil {
		panic("api.NewEventPublisher: sink is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}

	p := &EventPublisher{
		sink:  sink,
		log:   logger,
		cfg:   cfg,
		jobs:  make(chan *walRecord, cfg.Buffer),
		stop:  make(chan struct{}),
		acked: make(map[uint64]struct{}),
	}

	var pending []*walRecord
	if cfg.WALDir != "" {
		w, recovered, err := openEventWAL(cfg.WALDir, cfg.WALCompactBytes, logger)
		if err != nil {
			return nil, err
		}
		p.wal, pending = w, recovered
		p.nextAck = w.committedOffset
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if len(pending) > 0 {
		sort.Slice(pending, func(i, j int) bool { return pending[i].Offset < pending[j].Offset })
		logger.WithField("events", len(pending)).Info("replaying undelivered events")
		p.retryWG.Add(1)
		go p.replay(pending)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, timeout: %v, handoff: %v, wal: %q", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.HandoffTimeout, cfg.WALDir)
	return p, nil
}

func (p *EventPublisher) replay(pending []*walRecord) {
	defer p.retryWG.Done()
	for _, rec := range pending {
		select {
		case p.jobs <- rec:
		case <-p.stop:
			return
		}
	}
}

func (p *EventPublisher) worker(id int) {
	defer p.wg.Done()
	for rec := range p.jobs {
		p.deliver(rec, id)
	}
}

func (p *EventPublisher) deliver(rec *walRecord, worker int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	err := p.sink.PublishEvent(ctx, rec.Event)
	cancel()
	if err == nil {
		p.markDelivered(rec)
		return
	}

	rec.Attempt++
	rec.LastErr = err.Error()
	entry := p.log.WithFields(log.Fields{
		"event_type": rec.Event.Type,
		"task_id":    rec.Event.TaskID,
		"user":       rec.Event.UserID,
		"worker":     worker,
		"attempt":    rec.Attempt,
	}).WithError(err)
	if p.cfg.RetryLimit > 0 && rec.Attempt >= p.cfg.RetryLimit {
		entry.Error("publish event failed; giving up")
		p.markDelivered(rec)
		return
	}
	entry.Error("publish event failed")
	p.scheduleRetry(rec)
}

// markDelivered acknowledges rec and advances the WAL checkpoint over every
// contiguous acknowledged offset.
func (p *EventPublisher) markDelivered(rec *walRecord) {
	if p.wal == nil || rec.Offset == 0 {
		return
	}
	var commit uint64
	p.ackMu.Lock()
	p.acked[rec.Offset] = struct{}{}
	for {
		next := p.nextAck + 1
		if _, ok := p.acked[next]; !ok {
			break
		}
		delete(p.acked, next)
		p.nextAck = next
		commit = next
	}
	p.ackMu.Unlock()

	if commit > 0 {
		if err := p.wal.commit(commit); err != nil {
			p.log.WithError(err).Error("failed to commit event wal")
		}
	}
}

// scheduleRetry requeues rec after its backoff. Once the publisher is
// closed the record stays in the WAL for the next run.
func (p *EventPublisher) scheduleRetry(rec *walRecord) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	delay := exponentialBackoff(rec.Attempt, p.cfg.RetryInitial, p.cfg.RetryMax)
	p.retryWG.Add(1)
	go func() {
		defer p.retryWG.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case p.jobs <- rec:
			case <-p.stop:
			}
		case <-p.stop:
		}
	}()
}

// Publish queues ev for delivery.
func (p *EventPublisher) Publish(ev domain.TaskEvent) {
	rec := &walRecord{Event: ev, Timestamp: time.Now().UTC()}
	if p.wal != nil {
		if err := p.wal.append(rec); err != nil {
			rec.Offset = 0
			p.log.WithField("event_type", ev.Type).WithError(err).Warn("event wal append failed; delivering without it")
		}
	}
	if p.tryEnqueue(rec) {
		return
	}
	p.log.WithField("event_type", ev.Type).Warn("event buffer saturated; publishing inline")
	p.deliver(rec, -1)
}

func (p *EventPublisher) tryEnqueue(rec *walRecord) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.jobs <- rec:
		return true
	default:
	}

	if p.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(p.cfg.HandoffTimeout)
	defer timer.Stop()

	select {
	case p.jobs <- rec:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops accepting events, drops pending retries and waits for queued
// events to be published. Undelivered events remain in the WAL.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	p.retryWG.Wait()
	close(p.jobs)
	p.wg.Wait()
	if p.wal != nil {
		if err := p.wal.close(); err != nil {
			p.log.WithError(err).Warn("close event wal")
		}
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if attempt <= 1 {
		return initial
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
