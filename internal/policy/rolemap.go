package policy

import (
	"fmt"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
)

// RoleMap — двусторонняя таблица между внутренними ролями и словарем внешнего PDP.
// Строится и валидируется один раз при старте, дальше только читается.
type RoleMap struct {
	toExternal map[domain.Role]string
	toInternal map[string]domain.Role
}

// DefaultRoles — словарь PDP по умолчанию.
var DefaultRoles = map[string]string{
	string(domain.RoleAdministrator): "admin",
	string(domain.RolePractitioner):  "doctor",
	string(domain.RoleSubject):       "patient",
}

// NewRoleMap требует биекцию: каждая внутренняя роль отображена ровно в одно непустое
// внешнее имя, внешние имена не повторяются, лишних ключей нет.
func NewRoleMap(table map[string]string) (*RoleMap, error) {
	m := &RoleMap{
		toExternal: make(map[domain.Role]string, len(table)),
		toInternal: make(map[string]domain.Role, len(table)),
	}

	for in, ext := range table {
		role, err := domain.ParseRole(in)
		if err != nil {
			return nil, fmt.Errorf("role map: %w", err)
		}
		if ext == "" {
			return nil, fmt.Errorf("role map: empty external name for %q", role)
		}
		if prev, dup := m.toInternal[ext]; dup {
			return nil, fmt.Errorf("role map: external role %q mapped from both %q and %q", ext, prev, role)
		}
		m.toExternal[role] = ext
		m.toInternal[ext] = role
	}

	for _, role := range domain.Roles() {
		if _, ok := m.toExternal[role]; !ok {
			return nil, fmt.Errorf("role map: no external name for %q", role)
		}
	}
	return m, nil
}

// External переводит внутреннюю роль в словарь PDP.
func (m *RoleMap) External(role domain.Role) (string, bool) {
	ext, ok := m.toExternal[role]
	return ext, ok
}

// Internal переводит роль из словаря PDP во внутреннюю.
func (m *RoleMap) Internal(ext string) (domain.Role, bool) {
	role, ok := m.toInternal[ext]
	return role, ok
}
