package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Role — закрытый набор ролей платформы. Других значений не существует:
// всё, что не распознано ParseRole, считается ошибкой провижининга.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RolePractitioner  Role = "practitioner"
	RoleSubject       Role = "subject"
)

// Roles возвращает все допустимые роли в фиксированном порядке.
func Roles() []Role {
	return []Role{RoleAdministrator, RolePractitioner, RoleSubject}
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RolePractitioner, RoleSubject:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

// Identity — снимок пользователя, который живет в сессионном токене.
// После выдачи не меняется (кроме внешнего административного процесса).
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// SplitName делит отображаемое имя по первому пробельному символу:
// первое слово — имя, остаток без изменений — фамилия.
// "Dr. Sarah Johnson" -> ("Dr.", "Sarah Johnson").
func (i Identity) SplitName() (first, last string) {
	name := strings.TrimLeftFunc(i.Name, unicode.IsSpace)
	idx := strings.IndexFunc(name, unicode.IsSpace)
	if idx < 0 {
		return name, ""
	}
	_, size := utf8.DecodeRuneInString(name[idx:])
	return name[:idx], name[idx+size:]
}
