package api

import (
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// OriginPolicy allows a fixed list of origins plus every host under Suffix.
type OriginPolicy struct {
	Origins []string
	Suffix  string
}

func (p OriginPolicy) Allow(origin string) bool {
	for _, o := range p.Origins {
		if o == origin {
			return true
		}
	}
	if p.Suffix == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	suffix := p.Suffix
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return strings.HasSuffix(u.Hostname(), suffix)
}

// corsMiddleware answers preflights and rejects disallowed browser origins
// with a bare 403.
func corsMiddleware(allow func(string) bool) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  allow,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
