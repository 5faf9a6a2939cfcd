package https

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
	"github.com/sirupsen/logrus"
)

// ACMEUser is the persisted ACME account.
type ACMEUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	KeyPEM       string                 `json:"key_pem"`
	key          crypto.PrivateKey
}

func (u *ACMEUser) GetEmail() string                        { return u.Email }
func (u *ACMEUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *ACMEUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// ACMEClient obtains dns-01 certificates with lego.
type ACMEClient struct {
	cfg      *Config
	certsDir string
	certFile string
	keyFile  string
	log      logrus.FieldLogger
}

func NewACMEClient(cfg *Config, certsDir, certFile, keyFile string, log logrus.FieldLogger) *ACMEClient {
	return &ACMEClient{
		cfg:      cfg,
		certsDir: certsDir,
		certFile: certFile,
		keyFile:  keyFile,
		log:      log,
	}
}

func (c *ACMEClient) ObtainCertificate() error {
	acme := c.cfg.ACME

	// Fail on provider credentials before touching the CA.
	dnsProvider, err := NewDNSProvider(c.cfg)
	if err != nil {
		return fmt.Errorf("failed to create DNS provider: %w", err)
	}

	user, err := c.loadOrCreateUser()
	if err != nil {
		return fmt.Errorf("failed to load/create user: %w", err)
	}

	caURL := defaultDirectory
	if len(acme.Directories) > 0 {
		caURL = acme.Directories[0]
	}

	legoCfg := lego.NewConfig(user)
	legoCfg.CADirURL = caURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return fmt.Errorf("failed to create lego client: %w", err)
	}
	if err := client.Challenge.SetDNS01Provider(dnsProvider); err != nil {
		return fmt.Errorf("failed to set DNS provider: %w", err)
	}

	if user.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return fmt.Errorf("failed to register: %w", err)
		}
		user.Registration = reg
		if err := c.saveUser(user); err != nil {
			c.log.WithError(err).Warn("failed to save ACME account")
		}
	}

	c.log.WithFields(logrus.Fields{"domain": acme.Domain, "ca": caURL}).Info("requesting certificate")
	request := certificate.ObtainRequest{
		Domains: []string{acme.Domain},
		Bundle:  true,
	}

	retryCount := max(acme.RetryCount, 1)
	retryDelay := time.Duration(acme.RetryDelaySeconds) * time.Second

	var cert *certificate.Resource
	for i := 0; i < retryCount; i++ {
		cert, err = client.Certificate.Obtain(request)
		if err == nil {
			break
		}
		c.log.WithError(err).WithField("attempt", fmt.Sprintf("%d/%d", i+1, retryCount)).Warn("certificate request failed")
		if i < retryCount-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to obtain certificate after %d attempts: %w", retryCount, err)
	}

	if err := c.saveCertificate(cert); err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	c.log.WithField("domain", acme.Domain).Info("certificate obtained")
	return nil
}

func (c *ACMEClient) userFile() string {
	return filepath.Join(c.certsDir, "acme_user.json")
}

func (c *ACMEClient) loadOrCreateUser() (*ACMEUser, error) {
	if data, err := os.ReadFile(c.userFile()); err == nil {
		var user ACMEUser
		if err := json.Unmarshal(data, &user); err == nil {
			if block, _ := pem.Decode([]byte(user.KeyPEM)); block != nil {
				if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
					user.key = key
					return &user, nil
				}
			}
		}
	}

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return &ACMEUser{
		Email:  c.cfg.ACME.Email,
		KeyPEM: string(keyPEM),
		key:    privateKey,
	}, nil
}

func (c *ACMEClient) saveUser(user *ACMEUser) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.userFile(), data, 0600)
}

func (c *ACMEClient) saveCertificate(cert *certificate.Resource) error {
	if err := os.WriteFile(c.certFile, cert.Certificate, 0644); err != nil {
		return err
	}
	return os.WriteFile(c.keyFile, cert.PrivateKey, 0600)
}
