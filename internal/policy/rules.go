package policy

import (
	"context"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
)

// Request — всё, что нужно локальному evaluator-у. Никакого I/O и скрытого состояния.
type Request struct {
	Role         domain.Role
	ResourceType string
	Action       domain.Action
	Attributes   map[string]string
	Actor        string // отображаемое имя действующего пользователя
}

// rule решает для одной пары (роль, действие).
type rule func(req Request) bool

func allow(Request) bool { return true }

// ownedBy разрешает, только если атрибут ресурса совпадает с именем актора.
// Нет атрибута (или пустой актор) — запрет.
func ownedBy(attr string) rule {
	return func(req Request) bool {
		v, ok := req.Attributes[attr]
		if !ok || v == "" || req.Actor == "" {
			return false
		}
		return v == req.Actor
	}
}

// Таблица правил: тип ресурса -> "role:action" -> правило.
// Отсутствие ключа — Default Deny (Zero Trust). Новый тип ресурса = новая таблица здесь.
var rules = map[string]map[string]rule{
	domain.ResourceMedicalRecord: {
		key(domain.RoleAdministrator, domain.ActionCreate): allow,
		key(domain.RoleAdministrator, domain.ActionRead):   allow,
		key(domain.RoleAdministrator, domain.ActionUpdate): allow,
		key(domain.RoleAdministrator, domain.ActionDelete): allow,

		key(domain.RolePractitioner, domain.ActionRead):   allow,
		key(domain.RolePractitioner, domain.ActionUpdate): ownedBy(domain.AttrAssignedPractitioner),

		key(domain.RoleSubject, domain.ActionRead): ownedBy(domain.AttrAssociatedSubject),
	},
}

func key(role domain.Role, action domain.Action) string {
	return string(role) + ":" + string(action)
}

// Evaluate — локальная (fallback) модель доступа. Чистая функция, безопасна для конкурентного вызова.
func Evaluate(req Request) bool {
	table, ok := rules[req.ResourceType]
	if !ok {
		return false
	}
	r, ok := table[key(req.Role, req.Action)]
	if !ok {
		return false
	}
	return r(req)
}

// LocalDecider — адаптер Evaluate к интерфейсу Decider. Всегда дает определенный ответ.
type LocalDecider struct{}

func (LocalDecider) Name() string { return "local" }

func (LocalDecider) Decide(_ context.Context, id domain.Identity, action domain.Action, ref domain.ResourceRef) domain.Decision {
	return domain.DecisionOf(Evaluate(Request{
		Role:         id.Role,
		ResourceType: ref.Type,
		Action:       action,
		Attributes:   ref.Attributes,
		Actor:        id.Name,
	}))
}
