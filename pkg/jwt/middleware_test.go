package jwt_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/jwt"
)

func TestMiddleware_ValidToken(t *testing.T) {
	t.Parallel()

	svc, err := jwt.NewFromString("test-signing-key-of-adequate-len")
	require.NoError(t, err)

	token, err := svc.Generate(jwt.StandardClaims{
		Subject:   "user-7",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	var gotSubject string
	handler := jwt.Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = jwt.SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", gotSubject)
}

func TestMiddleware_MissingToken(t *testing.T) {
	t.Parallel()

	svc, err := jwt.NewFromString("test-signing-key-of-adequate-len")
	require.NoError(t, err)

	handler := jwt.Middleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_SkipFunc(t *testing.T) {
	t.Parallel()

	svc, err := jwt.NewFromString("test-signing-key-of-adequate-len")
	require.NoError(t, err)

	handler := jwt.MiddlewareWithConfig(jwt.MiddlewareConfig{
		Service: svc,
		Skip:    func(r *http.Request) bool { return r.URL.Path == "/health" },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
