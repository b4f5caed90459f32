package policy

import (
	"context"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
)

// Decider — одно звено цепочки авторизации (удаленный PDP, локальные правила).
// Ошибок не возвращает: "не смог ответить" выражается через DecisionIndeterminate.
type Decider interface {
	Name() string
	Decide(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) domain.Decision
}

// DeciderFunc позволяет собрать Decider из функции (тесты, временные звенья).
type DeciderFunc struct {
	Label string
	Fn    func(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) domain.Decision
}

func (f DeciderFunc) Name() string { return f.Label }

func (f DeciderFunc) Decide(ctx context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) domain.Decision {
	return f.Fn(ctx, id, action, ref)
}
