package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"go.uber.org/zap"
)

const DefaultCookieName = "session_token"

// SessionManager держит сессию вызывающего в cookie. Никакого общего состояния между
// запросами: каждая операция трогает только cookie своего запроса.
type SessionManager struct {
	codec      *Codec
	cookieName string
	secure     bool
	logger     *zap.Logger
}

func NewSessionManager(codec *Codec, cookieName string, secure bool, logger *zap.Logger) *SessionManager {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &SessionManager{
		codec:      codec,
		cookieName: cookieName,
		secure:     secure,
		logger:     logger.Named("session"),
	}
}

// Establish выпускает токен и кладет его в http-only cookie на весь ValidityWindow.
func (m *SessionManager) Establish(w http.ResponseWriter, id domain.Identity) (string, error) {
	token, expiresAt, err := m.codec.Issue(id)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ValidityWindow.Seconds()),
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Resolve возвращает identity из cookie, а если ее нет или она невалидна, из Bearer-заголовка.
// Причину отказа наружу не отдаем, только в debug-лог.
func (m *SessionManager) Resolve(r *http.Request) (domain.Identity, bool) {
	for _, src := range []struct{ name, token string }{
		{"cookie", m.cookieToken(r)},
		{"bearer", bearerToken(r)},
	} {
		if src.token == "" {
			continue
		}
		id, err := m.codec.Verify(src.token)
		if err != nil {
			m.logger.Debug("session rejected", zap.String("source", src.name), zap.String("kind", failureKind(err)))
			continue
		}
		return id, true
	}
	return domain.Identity{}, false
}

// Terminate удаляет cookie. Повторный вызов без сессии — не ошибка.
func (m *SessionManager) Terminate(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *SessionManager) cookieToken(r *http.Request) string {
	if c, err := r.Cookie(m.cookieName); err == nil {
		return c.Value
	}
	return ""
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenSignature):
		return "signature"
	default:
		return "malformed"
	}
}
