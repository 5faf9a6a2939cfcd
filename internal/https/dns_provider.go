package https

import (
	"fmt"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/providers/dns/alidns"
	"github.com/go-acme/lego/v4/providers/dns/cloudflare"
	"github.com/go-acme/lego/v4/providers/dns/tencentcloud"
)

// NewDNSProvider builds the dns-01 provider named in acme.dns.provider.
func NewDNSProvider(cfg *Config) (challenge.Provider, error) {
	creds := cfg.ACME.DNS.Credentials

	switch cfg.ACME.DNS.Provider {
	case "cloudflare", "":
		return newCloudflareProvider(creds)
	case "alidns", "aliyun":
		return newAliDNSProvider(creds)
	case "tencentcloud", "dnspod", "tencent":
		return newTencentCloudProvider(creds)
	default:
		return nil, fmt.Errorf("unsupported DNS provider: %s, supported: cloudflare, alidns, tencentcloud", cfg.ACME.DNS.Provider)
	}
}

func newCloudflareProvider(creds map[string]string) (challenge.Provider, error) {
	token := getCredValue(creds, "api_token", "apitoken")
	if token == "" {
		return nil, fmt.Errorf("cloudflare requires api_token")
	}

	config := cloudflare.NewDefaultConfig()
	config.AuthToken = token
	if zone := getCredValue(creds, "zone_token"); zone != "" {
		config.ZoneToken = zone
	}
	return cloudflare.NewDNSProviderConfig(config)
}

func newAliDNSProvider(creds map[string]string) (challenge.Provider, error) {
	keyID := getCredValue(creds, "access_key_id", "accesskeyid")
	keySecret := getCredValue(creds, "access_key_secret", "accesskeysecret")
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("alidns requires access_key_id and access_key_secret")
	}

	config := alidns.NewDefaultConfig()
	config.APIKey = keyID
	config.SecretKey = keySecret
	return alidns.NewDNSProviderConfig(config)
}

// Tencent Cloud API credentials (SecretId/SecretKey), not the legacy DNSPod token API.
func newTencentCloudProvider(creds map[string]string) (challenge.Provider, error) {
	secretID := getCredValue(creds, "secret_id", "secretid", "dnspod_id")
	secretKey := getCredValue(creds, "secret_key", "secretkey", "dnspod_token")
	if secretID == "" || secretKey == "" {
		return nil, fmt.Errorf("tencentcloud requires secret_id and secret_key")
	}

	config := tencentcloud.NewDefaultConfig()
	config.SecretID = secretID
	config.SecretKey = secretKey
	return tencentcloud.NewDNSProviderConfig(config)
}

// getCredValue returns the first non-empty value among keys.
func getCredValue(creds map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := creds[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
