package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/medrecord-gateway/internal/domain"
	"go.uber.org/zap"
)

func newTestSessions(secure bool) *SessionManager {
	return NewSessionManager(NewCodec("test-secret"), "", secure, zap.NewNop())
}

func TestSessionEstablishSetsCookie(t *testing.T) {
	sm := newTestSessions(true)
	w := httptest.NewRecorder()

	token, err := sm.Establish(w, drJohnson)
	require.NoError(t, err)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, DefaultCookieName, c.Name)
	assert.Equal(t, token, c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), c.MaxAge)
}

func TestSessionCookieNotSecureOutsideProduction(t *testing.T) {
	w := httptest.NewRecorder()
	_, err := newTestSessions(false).Establish(w, drJohnson)
	require.NoError(t, err)
	assert.False(t, w.Result().Cookies()[0].Secure)
}

func TestSessionResolve(t *testing.T) {
	sm := newTestSessions(false)

	t.Run("cookie", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, err := sm.Establish(w, drJohnson)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(w.Result().Cookies()[0])

		id, ok := sm.Resolve(req)
		assert.True(t, ok)
		assert.Equal(t, drJohnson, id)
	})

	t.Run("bearer header", func(t *testing.T) {
		token, _, err := sm.codec.Issue(drJohnson)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		id, ok := sm.Resolve(req)
		assert.True(t, ok)
		assert.Equal(t, drJohnson.ID, id.ID)
	})

	t.Run("no session", func(t *testing.T) {
		_, ok := sm.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.False(t, ok)
	})

	t.Run("garbage cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "garbage"})
		id, ok := sm.Resolve(req)
		assert.False(t, ok)
		assert.Equal(t, domain.Identity{}, id)
	})

	t.Run("stale cookie falls back to bearer", func(t *testing.T) {
		stale := NewCodec("test-secret", WithClock(func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }))
		expired, _, err := stale.Issue(drJohnson)
		require.NoError(t, err)
		token, _, err := sm.codec.Issue(drJohnson)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: expired})
		req.Header.Set("Authorization", "Bearer "+token)

		id, ok := sm.Resolve(req)
		assert.True(t, ok)
		assert.Equal(t, drJohnson.ID, id.ID)
	})

	t.Run("valid cookie wins over bad bearer", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, err := sm.Establish(w, drJohnson)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(w.Result().Cookies()[0])
		req.Header.Set("Authorization", "Bearer garbage")

		_, ok := sm.Resolve(req)
		assert.True(t, ok)
	})

	t.Run("foreign key", func(t *testing.T) {
		token, _, err := NewCodec("other-secret").Issue(drJohnson)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
		_, ok := sm.Resolve(req)
		assert.False(t, ok)
	})
}

func TestSessionTerminateIsIdempotent(t *testing.T) {
	sm := newTestSessions(false)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		assert.NotPanics(t, func() { sm.Terminate(w) })

		cookies := w.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, DefaultCookieName, cookies[0].Name)
		assert.Empty(t, cookies[0].Value)
		assert.Less(t, cookies[0].MaxAge, 0)
	}
}

func TestMiddlewareAndRequireIdentity(t *testing.T) {
	sm := newTestSessions(false)
	var seen domain.Identity
	h := sm.Middleware(RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	login := httptest.NewRecorder()
	_, err := sm.Establish(login, drJohnson)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(login.Result().Cookies()[0])
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, drJohnson, seen)
}
