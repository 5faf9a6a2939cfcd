package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys set on authenticated requests.
const (
	UserIDKey    = "userId"
	UserEmailKey = "userEmail"
)

var (
	ErrMissingToken = errors.New("unauthorized: missing token")
	ErrInvalidToken = errors.New("unauthorized: invalid token")
)

// Principal is the caller identified by a session token.
type Principal struct {
	UserID string
	Email  string
}

// Claims of the session tokens issued by the website backend.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed session tokens. With an empty secret every
// request passes as an anonymous principal.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether tokens are actually verified.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify parses a raw token string, checking signature and expiry.
func (v *Verifier) Verify(raw string) (*Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, ErrInvalidToken
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email}, nil
}

// Authenticate extracts and verifies the bearer token of r. When allowQuery
// is set the token may also come from the "token" query parameter, which is
// the only option browsers have for WebSocket handshakes.
func (v *Verifier) Authenticate(r *http.Request, allowQuery bool) (*Principal, error) {
	if !v.Enabled() {
		return &Principal{}, nil
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok && allowQuery {
		raw = r.URL.Query().Get("token")
		ok = raw != ""
	}
	if !ok {
		return nil, ErrMissingToken
	}
	return v.Verify(raw)
}

// Middleware guards a route group.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := v.Authenticate(c.Request, false)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": capitalize(err.Error())})
			return
		}
		if p.UserID != "" {
			c.Set(UserIDKey, p.UserID)
			c.Set(UserEmailKey, p.Email)
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
