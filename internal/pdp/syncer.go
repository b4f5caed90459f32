package pdp

/*
Syncer — фоновая доставка регистраций (пользователи, ресурсы) во внешний PDP.

- Non-blocking: RegisterIdentity/RegisterResource только кладут задачу в буферизованный канал.
  Переполнение — сброс нагрузки с записью в лог и метрику, основная операция не страдает.
- Reliability: каждая задача проходит rate limiter и ретраи с экспоненциальным бэкоффом
  (Retry-After от PDP уважается). После исчерпания попыток задача уходит в dead-letter.
- Drain Pattern: Stop закрывает вход и ждет, пока воркеры вычитают остаток канала.
*/

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrQueueUnavailable = errors.New("pdp: sync queue is full or stopped")

// Registrar — то, что умеет регистрировать сущности в PDP (реализует *Client).
type Registrar interface {
	RegisterIdentity(ctx context.Context, id domain.Identity) error
	RegisterResource(ctx context.Context, ref domain.ResourceRef) error
}

// DeadLetterSink хранит задачи, которые не удалось доставить.
type DeadLetterSink interface {
	Push(ctx context.Context, task Task) error
	Pop(ctx context.Context) (Task, bool, error)
}

// ReplayLocker не дает нескольким инстансам разбирать dead-letter одновременно.
type ReplayLocker interface {
	TryLock(ctx context.Context, ttl time.Duration) (bool, error)
}

type TaskKind string

const (
	TaskIdentity TaskKind = "identity"
	TaskResource TaskKind = "resource"
)

type Task struct {
	Kind       TaskKind            `json:"kind"`
	Identity   *domain.Identity    `json:"identity,omitempty"`
	Resource   *domain.ResourceRef `json:"resource,omitempty"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
	LastError  string              `json:"last_error,omitempty"`
}

func (t Task) key() string {
	switch {
	case t.Identity != nil:
		return t.Identity.ID
	case t.Resource != nil:
		return t.Resource.Type + ":" + t.Resource.ID
	}
	return ""
}

type Syncer struct {
	ch       chan Task
	reg      Registrar
	dlq      DeadLetterSink
	limiter  *rate.Limiter
	attempts uint
	workers  int
	metrics  *infra.Metrics
	logger   *zap.Logger

	// mu защищает closed и закрытие канала от гонки с отправкой
	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncer. dlq может быть nil — тогда недоставленные задачи только логируются.
func NewSyncer(reg Registrar, dlq DeadLetterSink, cfg infra.SyncConfig, metrics *infra.Metrics, logger *zap.Logger) *Syncer {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 100
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		ch:       make(chan Task, queue),
		reg:      reg,
		dlq:      dlq,
		limiter:  rate.NewLimiter(limit, burst),
		attempts: attempts,
		workers:  workers,
		metrics:  metrics,
		logger:   logger.With(zap.String("mod", "pdp-sync")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Syncer) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop «запирает» вход в канал и ждет, пока воркеры всё допишут.
// Если ctx истек раньше — оставшиеся ретраи прерываются, задачи уходят в dead-letter.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.logger.Info("stopping pdp syncer: draining queue...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.logger.Info("pdp syncer stopped gracefully")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("pdp syncer: forced stop: %w", ctx.Err())
	}
}

// RegisterIdentity ставит регистрацию пользователя в очередь. Никогда не блокирует.
func (s *Syncer) RegisterIdentity(id domain.Identity) bool {
	return s.enqueue(Task{Kind: TaskIdentity, Identity: &id})
}

// RegisterResource ставит регистрацию ресурса в очередь. Никогда не блокирует.
func (s *Syncer) RegisterResource(ref domain.ResourceRef) bool {
	return s.enqueue(Task{Kind: TaskResource, Resource: &ref})
}

func (s *Syncer) enqueue(t Task) bool {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.metrics.SyncFailures.WithLabelValues(string(t.Kind), "stopped").Inc()
		s.logger.Warn("pdp sync task dropped: syncer is stopping",
			zap.String("kind", string(t.Kind)), zap.String("key", t.key()))
		return false
	}

	// используем стратегию Load Shedding (сброс нагрузки)
	select {
	case s.ch <- t:
		s.metrics.SyncQueueFill.Set(float64(len(s.ch)))
		return true
	default:
		s.metrics.SyncFailures.WithLabelValues(string(t.Kind), "overflow").Inc()
		s.logger.Error("pdp_sync_buffer_overflow",
			zap.String("kind", string(t.Kind)), zap.String("key", t.key()))
		return false
	}
}

// Replay возвращает задачи из dead-letter обратно в очередь. Останавливается,
// когда dead-letter пуст или очередь заполнена.
func (s *Syncer) Replay(ctx context.Context) (int, error) {
	if s.dlq == nil {
		return 0, nil
	}
	n := 0
	for {
		t, ok, err := s.dlq.Pop(ctx)
		if err != nil {
			return n, fmt.Errorf("pdp syncer: replay: %w", err)
		}
		if !ok {
			return n, nil
		}
		if !s.enqueue(t) {
			// Возвращаем обратно, чтобы не потерять
			if err := s.dlq.Push(ctx, t); err != nil {
				return n, fmt.Errorf("pdp syncer: replay push back: %w", err)
			}
			return n, ErrQueueUnavailable
		}
		n++
	}
}

// ReplayEvery периодически возвращает dead-letter в очередь, пока не отменен ctx.
// lock может быть nil (один инстанс).
func (s *Syncer) ReplayEvery(ctx context.Context, interval time.Duration, lock ReplayLocker) {
	if interval <= 0 || s.dlq == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if lock != nil {
			// TTL короче тика: к следующему тику ключ гарантированно истек
			ok, err := lock.TryLock(ctx, replayLockTTL(interval))
			if err != nil {
				s.logger.Warn("dead-letter replay lock failed", zap.Error(err))
				continue
			}
			if !ok {
				continue // другой инстанс уже разбирает
			}
		}

		n, err := s.Replay(ctx)
		switch {
		case errors.Is(err, ErrQueueUnavailable):
			s.logger.Warn("dead-letter replay paused: queue unavailable", zap.Int("replayed", n))
		case err != nil:
			s.logger.Error("dead-letter replay failed", zap.Int("replayed", n), zap.Error(err))
		case n > 0:
			s.logger.Info("dead-letter replayed", zap.Int("replayed", n))
		}
	}
}

func replayLockTTL(interval time.Duration) time.Duration {
	if ttl := interval / 2; ttl > 0 {
		return ttl
	}
	return interval
}

func (s *Syncer) worker() {
	defer s.wg.Done()
	for t := range s.ch {
		s.metrics.SyncQueueFill.Set(float64(len(s.ch)))
		s.process(t)
	}
}

func (s *Syncer) process(t Task) {
	r := retry.New(
		retry.Context(s.ctx),
		retry.Attempts(s.attempts),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// PDP сам сказал, сколько ждать
			var tErr *ThrottleError
			if errors.As(err, &tErr) {
				return tErr.RetryAfter
			}
			return retry.BackOffDelay(n, err, config)
		}),
	)

	err := r.Do(func() error {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		return s.deliver(t)
	})
	if err == nil {
		s.logger.Debug("pdp sync delivered", zap.String("kind", string(t.Kind)), zap.String("key", t.key()))
		return
	}

	s.metrics.SyncFailures.WithLabelValues(string(t.Kind), "exhausted").Inc()
	s.logger.Error("pdp sync failed, moving to dead-letter",
		zap.String("kind", string(t.Kind)),
		zap.String("key", t.key()),
		zap.Error(err))
	t.LastError = err.Error()
	s.deadLetter(t)
}

func (s *Syncer) deliver(t Task) error {
	switch t.Kind {
	case TaskIdentity:
		if t.Identity == nil {
			return errors.New("identity task without identity")
		}
		return s.reg.RegisterIdentity(s.ctx, *t.Identity)
	case TaskResource:
		if t.Resource == nil {
			return errors.New("resource task without resource")
		}
		return s.reg.RegisterResource(s.ctx, *t.Resource)
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

func (s *Syncer) deadLetter(t Task) {
	if s.dlq == nil {
		return
	}
	// Используем Background, так как контекст воркера может быть уже отменен
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.dlq.Push(ctx, t); err != nil {
		s.metrics.SyncFailures.WithLabelValues(string(t.Kind), "dead_letter").Inc()
		s.logger.Error("pdp sync task lost: dead-letter push failed",
			zap.String("kind", string(t.Kind)),
			zap.String("key", t.key()),
			zap.Error(err))
	}
}
