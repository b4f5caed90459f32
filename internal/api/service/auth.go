package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"github.com/xela07ax/medrecord-gateway/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateUser(ctx context.Context, u *domain.User) error
	CountUsers(ctx context.Context) (int, error)
}

// IdentitySync — фоновая регистрация пользователей в PDP (pdp.Syncer).
type IdentitySync interface {
	RegisterIdentity(id domain.Identity) bool
}

type AuthService struct {
	users  UserStore
	sync   IdentitySync
	cost   int
	logger *zap.Logger
}

func NewAuthService(users UserStore, sync IdentitySync, bcryptCost int, logger *zap.Logger) *AuthService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{users: users, sync: sync, cost: bcryptCost, logger: logger.Named("auth")}
}

// Login проверяет пару логин/пароль. Не уточняет, что именно неверно.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.User, error) {
	// 1. Источник правды — Postgres
	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	// 2. Проверка пароля (bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Роль в БД могла быть испорчена вручную — такой сессии не выдаем
	if !user.Role.Valid() {
		s.logger.Error("user has unknown role", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
		return nil, fmt.Errorf("login: %w: %q", domain.ErrUnknownRole, user.Role)
	}
	return user, nil
}

// NewUser — данные для провижининга пользователя.
type NewUser struct {
	Username string
	Password string
	Name     string
	Email    string
	Role     domain.Role
}

// Provision хэширует пароль, сохраняет пользователя и ставит его регистрацию в PDP в очередь.
// Сбой регистрации в PDP провижининг не откатывает.
func (s *AuthService) Provision(ctx context.Context, nu NewUser) (*domain.User, error) {
	if !nu.Role.Valid() {
		return nil, fmt.Errorf("provision %s: %w: %q", nu.Username, domain.ErrUnknownRole, nu.Role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("provision %s: hash password: %w", nu.Username, err)
	}

	u := &domain.User{
		Username:     nu.Username,
		PasswordHash: string(hash),
		Name:         nu.Name,
		Email:        nu.Email,
		Role:         nu.Role,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("provision %s: %w", nu.Username, err)
	}

	s.sync.RegisterIdentity(u.Identity())
	s.logger.Info("user provisioned", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}
