package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

var (
	// Core settings (environment)
	DataRoot       string   // data root directory
	HTTPPort       string   // listening port
	JWTSecret      string   // session token signing secret, empty disables auth
	RequireAuth    bool     // refuse to start without JWTSecret
	AllowedOrigins []string // exact CORS origins
	OriginSuffix   string   // wildcard hosting-platform suffix, e.g. .lovable.app
	TrustedProxies []string // reverse proxies allowed to set X-Forwarded-For
	LogLevel       string
)

// Derived paths (under DataRoot)
var (
	BotsDir     string // $DATA_ROOT/bots/
	LogFile     string // $DATA_ROOT/log/bothost.log
	CertsDir    string // $DATA_ROOT/certs/
	CertFile    string // $DATA_ROOT/certs/cert.pem
	KeyFile     string // $DATA_ROOT/certs/key.pem
	HTTPSConfig string // $DATA_ROOT/https.yaml
	HostConfig  string // $DATA_ROOT/host.yaml
	DBFile      string // $DATA_ROOT/bothost.db
)

var defaultOrigins = "http://localhost:3000,http://localhost:5173,http://localhost:8080"

func init() {
	Load()
}

// Load reads the process environment, after merging a .env file from the
// working directory if there is one. Variables already set win over the file.
func Load() {
	_ = godotenv.Load()

	DataRoot = getEnv("BOTHOST_DATA_ROOT", "data")
	HTTPPort = getEnv("PORT", "8000")
	JWTSecret = getEnv("JWT_SECRET", os.Getenv("SUPABASE_JWT_SECRET"))
	RequireAuth = strings.EqualFold(getEnv("BOTHOST_REQUIRE_AUTH", "false"), "true")
	AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", defaultOrigins))
	OriginSuffix = getEnv("ALLOWED_ORIGIN_SUFFIX", ".lovable.app")
	TrustedProxies = splitList(getEnv("TRUSTED_PROXIES", ""))
	LogLevel = getEnv("BOTHOST_LOG_LEVEL", "info")

	BotsDir = filepath.Join(DataRoot, "bots")
	LogFile = filepath.Join(DataRoot, "log", "bothost.log")
	CertsDir = filepath.Join(DataRoot, "certs")
	CertFile = filepath.Join(CertsDir, "cert.pem")
	KeyFile = filepath.Join(CertsDir, "key.pem")
	HTTPSConfig = filepath.Join(DataRoot, "https.yaml")
	HostConfig = filepath.Join(DataRoot, "host.yaml")
	DBFile = filepath.Join(DataRoot, "bothost.db")
}

// Validate reports configuration that must stop the host from starting.
func Validate() error {
	if RequireAuth && JWTSecret == "" {
		return fmt.Errorf("BOTHOST_REQUIRE_AUTH is set but neither JWT_SECRET nor SUPABASE_JWT_SECRET is configured")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
