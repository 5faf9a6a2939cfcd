package https

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultDirectory = "https://acme-v02.api.letsencrypt.org/directory"

// Config is the https.yaml file.
type Config struct {
	Mode string     `yaml:"mode"` // http / https
	ACME ACMEConfig `yaml:"acme"`
}

// ACMEConfig controls automatic certificates. With ACME disabled, https mode
// serves the static cert.pem / key.pem from the certs directory.
type ACMEConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Domain            string        `yaml:"domain"`
	Challenge         string        `yaml:"challenge"` // http-01 / dns-01
	HTTP              HTTPChallenge `yaml:"http"`
	DNS               DNSChallenge  `yaml:"dns"`
	Directories       []string      `yaml:"directories"`
	RetryCount        int           `yaml:"retry_count"`
	RetryDelaySeconds int           `yaml:"retry_delay_seconds"`
	RenewBeforeDays   int           `yaml:"renew_before_days"`
	Email             string        `yaml:"email"`
}

type HTTPChallenge struct {
	Port int `yaml:"port"`
}

type DNSChallenge struct {
	Provider    string            `yaml:"provider"`
	Credentials map[string]string `yaml:"credentials"`
}

func DefaultConfig() *Config {
	return &Config{
		Mode: "http",
		ACME: ACMEConfig{
			Enabled:           false,
			Challenge:         "http-01",
			HTTP:              HTTPChallenge{Port: 80},
			DNS:               DNSChallenge{Provider: "cloudflare", Credentials: map[string]string{}},
			Directories:       []string{defaultDirectory},
			RetryCount:        3,
			RetryDelaySeconds: 5,
			RenewBeforeDays:   30,
		},
	}
}

// LoadConfig reads path. A missing file is created with the defaults so
// operators have something to edit.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := DefaultConfig()
		if err := saveDefault(path, cfg); err != nil {
			return cfg, fmt.Errorf("failed to write default %s: %w", path, err)
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "http"
	}
	if c.ACME.Challenge == "" {
		c.ACME.Challenge = "http-01"
	}
	if c.ACME.HTTP.Port == 0 {
		c.ACME.HTTP.Port = 80
	}
	if c.ACME.RetryCount == 0 {
		c.ACME.RetryCount = 3
	}
	if c.ACME.RetryDelaySeconds == 0 {
		c.ACME.RetryDelaySeconds = 5
	}
	if c.ACME.RenewBeforeDays == 0 {
		c.ACME.RenewBeforeDays = 30
	}
	if len(c.ACME.Directories) == 0 {
		c.ACME.Directories = []string{defaultDirectory}
	}
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "http", "https":
	default:
		return fmt.Errorf("https.yaml: unknown mode %q (http or https)", c.Mode)
	}
	switch c.ACME.Challenge {
	case "http-01", "dns-01":
	default:
		return fmt.Errorf("https.yaml: unknown challenge %q (http-01 or dns-01)", c.ACME.Challenge)
	}
	return nil
}

// IsHTTPS reports whether the listener should serve TLS.
func (c *Config) IsHTTPS() bool {
	return c.Mode == "https"
}

// NeedAutoCert reports whether certificates come from ACME.
func (c *Config) NeedAutoCert() bool {
	return c.IsHTTPS() && c.ACME.Enabled && c.ACME.Domain != ""
}

func saveDefault(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	header := []byte(`# bothost TLS settings, read at startup.
# mode: https with acme.enabled false serves certs/cert.pem and certs/key.pem.

`)
	return os.WriteFile(path, append(header, data...), 0644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
