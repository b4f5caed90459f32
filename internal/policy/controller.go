package policy

import (
	"context"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/infra"
	"go.uber.org/zap"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newDecisionID — монотонный ULID: решения внутри одной миллисекунды сортируются по порядку выдачи.
func newDecisionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// SourceNone — ни одно звено не дало allow и ни одно не дало определенного deny.
const SourceNone = "none"

// Step — ответ одного звена цепочки.
type Step struct {
	Decider  string
	Decision domain.Decision
}

// Verdict — итог проверки доступа. Не кэшируется и не сохраняется.
type Verdict struct {
	ID       string // ULID для корреляции в логах
	Decision domain.Decision
	Source   string
	Trail    []Step
}

func (v Verdict) Allowed() bool { return v.Decision == domain.DecisionAllow }

func (v Verdict) trail() string {
	parts := make([]string, 0, len(v.Trail))
	for _, s := range v.Trail {
		parts = append(parts, s.Decider+"="+s.Decision.String())
	}
	return strings.Join(parts, ",")
}

// Controller — цепочка ответственности над Decider-ами.
// Allow любого звена финален. Deny и Indeterminate передают ход следующему звену.
// Если allow так и не прозвучал — итоговый deny (в т.ч. когда все звенья не смогли ответить).
type Controller struct {
	chain   []Decider
	metrics *infra.Metrics
	logger  *zap.Logger
}

func NewController(logger *zap.Logger, metrics *infra.Metrics, chain ...Decider) *Controller {
	if metrics == nil {
		metrics = infra.NewMetrics(nil)
	}
	return &Controller{
		chain:   chain,
		metrics: metrics,
		logger:  logger.Named("access"),
	}
}

// Decide прогоняет запрос по цепочке. Каждый вызов считает решение заново.
func (c *Controller) Decide(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) Verdict {
	v := Verdict{
		ID:       newDecisionID(),
		Decision: domain.DecisionDeny,
		Source:   SourceNone,
		Trail:    make([]Step, 0, len(c.chain)),
	}

	for _, d := range c.chain {
		res := d.Decide(ctx, id, action, ref)
		v.Trail = append(v.Trail, Step{Decider: d.Name(), Decision: res})

		if res == domain.DecisionAllow {
			v.Decision = domain.DecisionAllow
			v.Source = d.Name()
			break
		}
		if res == domain.DecisionDeny {
			v.Source = d.Name()
		}
	}

	c.metrics.Decisions.WithLabelValues(v.Source, v.Decision.String()).Inc()

	fields := []zap.Field{
		zap.String("decision_id", v.ID),
		zap.String("decision", v.Decision.String()),
		zap.String("source", v.Source),
		zap.String("trail", v.trail()),
		zap.String("user_id", id.ID),
		zap.String("role", string(id.Role)),
		zap.String("action", string(action)),
		zap.String("resource_type", ref.Type),
		zap.String("resource_id", ref.ID),
	}
	if v.Allowed() {
		c.logger.Debug("access granted", fields...)
	} else {
		c.logger.Info("access denied", fields...)
	}
	return v
}

// Check — булев фасад для обработчиков.
func (c *Controller) Check(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) bool {
	return c.Decide(ctx, id, action, ref).Allowed()
}
