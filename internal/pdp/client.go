package pdp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/infra"
	"github.com/xela07ax/medrecord-gateway/internal/policy"
	"go.uber.org/zap"
)

// maxBodySize ограничивает чтение ответа PDP.
const maxBodySize = 1 << 20

// StateListener получает переходы Circuit Breaker (health, метрики).
type StateListener func(name string, from, to gobreaker.State)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithStateListener(l StateListener) Option {
	return func(c *Client) { c.listeners = append(c.listeners, l) }
}

// Client — адаптер к внешнему Policy Decision Point. Создается явно и внедряется,
// глобального синглтона нет. Реализует policy.Decider.
type Client struct {
	endpoint string
	apiURL   string
	apiKey   string
	timeout  time.Duration

	http      *http.Client
	roles     *policy.RoleMap
	cb        *gobreaker.CircuitBreaker
	listeners []StateListener
	metrics   *infra.Metrics
	logger    *zap.Logger
}

func NewClient(cfg infra.PDPConfig, roles *policy.RoleMap, metrics *infra.Metrics, logger *zap.Logger, opts ...Option) *Client {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	c := &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiURL:   strings.TrimRight(cfg.APIURL, "/"),
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		http:     &http.Client{},
		roles:    roles,
		metrics:  metrics,
		logger:   logger.Named("pdp"),
	}
	for _, opt := range opts {
		opt(c)
	}

	threshold := cfg.CBConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	// Настройка предохранителя: пока он открыт, решения сразу уходят в локальный fallback
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pdp",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.CBEnabled && counts.ConsecutiveFailures >= threshold
		},
		// Отмена входящего запроса — не вина PDP
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: c.onStateChange,
	})
	c.metrics.CircuitBreakerState.WithLabelValues("pdp").Set(0)
	return c
}

func (c *Client) Name() string { return "pdp" }

// State — текущее состояние предохранителя.
func (c *Client) State() gobreaker.State { return c.cb.State() }

func (c *Client) onStateChange(name string, from, to gobreaker.State) {
	c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	c.logger.Warn("circuit breaker state changed",
		zap.String("name", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()))
	for _, l := range c.listeners {
		l(name, from, to)
	}
}

// Decide реализует policy.Decider: любой сбой превращается в DecisionIndeterminate.
func (c *Client) Decide(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) domain.Decision {
	allowed, err := c.Check(ctx, id, action, ref)
	if err != nil {
		return domain.DecisionIndeterminate
	}
	return domain.DecisionOf(allowed)
}

// Check — одна попытка с таймаутом. Ошибка всегда оборачивает ErrIndeterminate,
// чтобы оркестратор отличал "PDP сказал нет" от "PDP не ответил".
func (c *Client) Check(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) (bool, error) {
	user, err := toSubject(id, c.roles)
	if err != nil {
		return false, c.indeterminate(err, id, action, ref)
	}

	payload, err := json.Marshal(checkRequest{
		User:     user,
		Action:   string(action),
		Resource: toObject(ref),
		Context:  map[string]any{},
	})
	if err != nil {
		return false, c.indeterminate(err, id, action, ref)
	}

	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.doCheck(ctx, payload)
	})
	if err != nil {
		return false, c.indeterminate(err, id, action, ref)
	}

	allowed := res.(bool)
	if allowed {
		c.metrics.PDPOutcomes.WithLabelValues("allow").Inc()
	} else {
		c.metrics.PDPOutcomes.WithLabelValues("deny").Inc()
	}
	return allowed, nil
}

func (c *Client) doCheck(ctx context.Context, payload []byte) (bool, error) {
	start := time.Now()
	defer func() { c.metrics.PDPDuration.Observe(time.Since(start).Seconds()) }()

	body, err := c.post(ctx, c.endpoint+"/allowed", "check", payload)
	if err != nil {
		return false, err
	}

	var resp checkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Allow == nil {
		return false, fmt.Errorf("%w: missing allow field", ErrMalformedResponse)
	}
	return *resp.Allow, nil
}

// RegisterIdentity синхронизирует пользователя в PDP. Вызывается из Syncer, не из горячего пути.
func (c *Client) RegisterIdentity(ctx context.Context, id domain.Identity) error {
	req, err := toUserRequest(id, c.roles)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.sync(ctx, c.apiURL+"/users", "register_identity", payload)
}

// RegisterResource сообщает PDP атрибуты нового ресурса.
func (c *Client) RegisterResource(ctx context.Context, ref domain.ResourceRef) error {
	if ref.ID == "" {
		return fmt.Errorf("pdp: resource %q has no key", ref.Type)
	}
	payload, err := json.Marshal(toResourceInstance(ref))
	if err != nil {
		return err
	}
	return c.sync(ctx, c.apiURL+"/resource_instances", "register_resource", payload)
}

func (c *Client) sync(ctx context.Context, url, op string, payload []byte) error {
	_, err := c.post(ctx, url, op, payload)
	var se *StatusError
	// Уже зарегистрирован — для идемпотентной синхронизации это успех
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return nil
	}
	return err
}

// post выполняет POST c таймаутом c.timeout поверх контекста запроса:
// отмена входящего запроса сразу обрывает исходящий вызов.
func (c *Client) post(ctx context.Context, url, op string, payload []byte) ([]byte, error) {
	tCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(tCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pdp: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, op, c.timeout)
		default:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, statusError(op, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s body after %v", ErrTimeout, op, c.timeout)
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return body, nil
}

func (c *Client) indeterminate(err error, id domain.Identity, action domain.Action, ref domain.ResourceRef) error {
	outcome := outcomeOf(err)
	c.metrics.PDPOutcomes.WithLabelValues(outcome).Inc()
	c.logger.Warn("pdp check could not determine, falling back",
		zap.String("outcome", outcome),
		zap.String("user_id", id.ID),
		zap.String("action", string(action)),
		zap.String("resource_type", ref.Type),
		zap.String("resource_id", ref.ID),
		zap.Error(err))
	return fmt.Errorf("%w: %w", ErrIndeterminate, err)
}

func outcomeOf(err error) string {
	var se *StatusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrUnmappedRole):
		return "unmapped_role"
	case errors.As(err, &se):
		return "bad_status"
	default:
		return "unavailable"
	}
}
