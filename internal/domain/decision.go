package domain

// Decision — результат одного звена цепочки авторизации.
// Нулевое значение — Indeterminate: "не смог определить" не равно "запрещено".
type Decision int

const (
	DecisionIndeterminate Decision = iota
	DecisionAllow
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "indeterminate"
	}
}

// DecisionOf переводит булев ответ в Decision.
func DecisionOf(allowed bool) Decision {
	if allowed {
		return DecisionAllow
	}
	return DecisionDeny
}
