package pdp

import (
	"fmt"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/policy"
)

const defaultTenant = "default"

// subject — пользователь в формате PDP.
type subject struct {
	Key        string            `json:"key"`
	FirstName  string            `json:"firstName"`
	LastName   string            `json:"lastName"`
	Email      string            `json:"email"`
	Roles      []string          `json:"roles"`
	Attributes map[string]string `json:"attributes"`
}

// object — ресурс в формате PDP.
type object struct {
	Type       string            `json:"type"`
	Key        string            `json:"key,omitempty"`
	Tenant     string            `json:"tenant,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type checkRequest struct {
	User     subject        `json:"user"`
	Action   string         `json:"action"`
	Resource object         `json:"resource"`
	Context  map[string]any `json:"context"`
}

// checkResponse: allow обязателен, его отсутствие — битый ответ.
type checkResponse struct {
	Allow *bool `json:"allow"`
}

type roleAssignment struct {
	Role   string `json:"role"`
	Tenant string `json:"tenant"`
}

type userRequest struct {
	Key             string            `json:"key"`
	Email           string            `json:"email"`
	FirstName       string            `json:"first_name"`
	LastName        string            `json:"last_name"`
	Attributes      map[string]string `json:"attributes"`
	RoleAssignments []roleAssignment  `json:"role_assignments"`
}

type resourceInstanceRequest struct {
	Key        string            `json:"key"`
	Resource   string            `json:"resource"`
	Tenant     string            `json:"tenant"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func toSubject(id domain.Identity, roles *policy.RoleMap) (subject, error) {
	ext, ok := roles.External(id.Role)
	if !ok {
		return subject{}, fmt.Errorf("%w: %q", ErrUnmappedRole, id.Role)
	}
	first, last := id.SplitName()
	return subject{
		Key:        id.ID,
		FirstName:  first,
		LastName:   last,
		Email:      id.Email,
		Roles:      []string{ext},
		Attributes: map[string]string{"role": ext},
	}, nil
}

func toObject(ref domain.ResourceRef) object {
	return object{
		Type:       ref.Type,
		Key:        ref.ID,
		Attributes: ref.Attributes,
	}
}

func toUserRequest(id domain.Identity, roles *policy.RoleMap) (userRequest, error) {
	s, err := toSubject(id, roles)
	if err != nil {
		return userRequest{}, err
	}
	return userRequest{
		Key:             s.Key,
		Email:           s.Email,
		FirstName:       s.FirstName,
		LastName:        s.LastName,
		Attributes:      s.Attributes,
		RoleAssignments: []roleAssignment{{Role: s.Roles[0], Tenant: defaultTenant}},
	}, nil
}

func toResourceInstance(ref domain.ResourceRef) resourceInstanceRequest {
	return resourceInstanceRequest{
		Key:        ref.ID,
		Resource:   ref.Type,
		Tenant:     defaultTenant,
		Attributes: ref.Attributes,
	}
}
