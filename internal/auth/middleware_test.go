package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, secret string, method jwt.SigningMethod, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Email: "dev@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func setupRouter(v *Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", v.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetString(UserIDKey), "email": c.GetString(UserEmailKey)})
	})
	return r
}

func doGet(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareValidToken(t *testing.T) {
	r := setupRouter(NewVerifier(testSecret))
	token := sign(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(time.Hour))

	w := doGet(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userId":"user-42","email":"dev@example.com"}`, w.Body.String())
}

func TestMiddlewareRejects(t *testing.T) {
	r := setupRouter(NewVerifier(testSecret))

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "token abc",
		"garbage":        "Bearer not-a-jwt",
		"wrong secret":   "Bearer " + sign(t, "other", jwt.SigningMethodHS256, time.Now().Add(time.Hour)),
		"expired":        "Bearer " + sign(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(-time.Minute)),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			w := doGet(r, header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestMiddlewarePassthroughWithoutSecret(t *testing.T) {
	v := NewVerifier("")
	assert.False(t, v.Enabled())

	w := doGet(setupRouter(v), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticateQueryToken(t *testing.T) {
	v := NewVerifier(testSecret)
	token := sign(t, testSecret, jwt.SigningMethodHS512, time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/ws?botId=a&token="+token, nil)
	_, err := v.Authenticate(req, false)
	assert.ErrorIs(t, err, ErrMissingToken)

	p, err := v.Authenticate(req, true)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.UserID)
}
