package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
)

// ValidityWindow — фиксированный срок жизни сессии.
const ValidityWindow = 7 * 24 * time.Hour

const issuer = "medrec-gateway"

// devSecret используется только вне production, если ключ не задан (см. infra.Config.Validate).
const devSecret = "medrec-development-only-secret"

// Виды отказа верификации. Для вызывающего кода все они означают "сессии нет".
var (
	ErrTokenMalformed = errors.New("auth: malformed token")
	ErrTokenSignature = errors.New("auth: token signature mismatch")
	ErrTokenExpired   = errors.New("auth: token expired")
)

// Codec подписывает и проверяет сессионные токены симметричным ключом (HS256).
type Codec struct {
	secret []byte
	now    func() time.Time
}

type CodecOption func(*Codec)

// WithClock подменяет часы (для тестов истечения срока).
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec создает кодек. Пустой secret допустим только для development:
// обязательность ключа в production проверяет конфиг при старте.
func NewCodec(secret string, opts ...CodecOption) *Codec {
	if secret == "" {
		secret = devSecret
	}
	c := &Codec{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UsesDevSecret сообщает, что кодек работает на встроенном dev-ключе.
func (c *Codec) UsesDevSecret() bool {
	return string(c.secret) == devSecret
}

// Issue выпускает токен со снимком identity и сроком now + ValidityWindow.
func (c *Codec) Issue(id domain.Identity) (string, time.Time, error) {
	if id.ID == "" || !id.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: cannot issue token for identity %q with role %q", id.ID, id.Role)
	}

	issuedAt := c.now()
	expiresAt := issuedAt.Add(ValidityWindow)
	claims := &domain.SessionClaims{
		User: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify проверяет подпись и срок, возвращает identity или один из видов отказа.
func (c *Codec) Verify(tokenStr string) (domain.Identity, error) {
	claims := &domain.SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenSignature, err)
		default:
			return domain.Identity{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}

	id := claims.User
	if id.ID == "" || id.ID != claims.Subject || !id.Role.Valid() {
		return domain.Identity{}, fmt.Errorf("%w: invalid identity claims", ErrTokenMalformed)
	}
	return id, nil
}
