package https

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/acme/autocert"
)

var (
	ErrACMEDisabled = errors.New("ACME not enabled")
	ErrAutoRenewed  = errors.New("HTTP-01 renewal is handled automatically by autocert")
	ErrNoCert       = errors.New("certificate file not found")
)

// CertInfo describes the certificate on disk.
type CertInfo struct {
	Domains       []string `json:"domains"`
	Issuer        string   `json:"issuer"`
	NotBefore     string   `json:"notBefore"`
	NotAfter      string   `json:"notAfter"`
	RemainingDays int      `json:"remainingDays"`
	NeedsRenewal  bool     `json:"needsRenewal"`
}

// Manager loads, obtains and renews the listener certificate.
type Manager struct {
	cfg      *Config
	certFile string
	keyFile  string
	certsDir string
	log      logrus.FieldLogger

	mu   sync.RWMutex
	cert *tls.Certificate

	autocertManager *autocert.Manager
	obtain          func() error
}

func NewManager(cfg *Config, certsDir, certFile, keyFile string, log logrus.FieldLogger) *Manager {
	m := &Manager{
		cfg:      cfg,
		certFile: certFile,
		keyFile:  keyFile,
		certsDir: certsDir,
		log:      log.WithField("component", "https"),
	}
	m.obtain = func() error {
		return NewACMEClient(cfg, certsDir, certFile, keyFile, m.log).ObtainCertificate()
	}
	return m
}

// Setup returns the TLS config for the listener, or nil in http mode.
func (m *Manager) Setup() (*tls.Config, error) {
	if !m.cfg.IsHTTPS() {
		m.log.Info("mode: http")
		return nil, nil
	}

	if err := os.MkdirAll(m.certsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create certs dir: %w", err)
	}

	if m.certValid() {
		m.log.WithField("cert", m.certFile).Info("using existing certificate")
		return m.loadCertConfig()
	}

	if !m.cfg.ACME.Enabled {
		return nil, fmt.Errorf("https enabled but %s is missing or invalid and ACME is disabled", m.certFile)
	}
	if m.cfg.ACME.Domain == "" {
		return nil, fmt.Errorf("https enabled but no certificate and acme.domain not set")
	}

	switch m.cfg.ACME.Challenge {
	case "http-01":
		return m.setupHTTP01()
	case "dns-01":
		return m.setupDNS01()
	default:
		return nil, fmt.Errorf("unknown challenge type: %s", m.cfg.ACME.Challenge)
	}
}

func (m *Manager) setupHTTP01() (*tls.Config, error) {
	acme := m.cfg.ACME
	m.log.WithField("domain", acme.Domain).Info("setting up http-01 challenge")

	m.autocertManager = &autocert.Manager{
		Prompt:      autocert.AcceptTOS,
		HostPolicy:  autocert.HostWhitelist(acme.Domain),
		Cache:       autocert.DirCache(m.certsDir),
		Email:       acme.Email,
		RenewBefore: time.Duration(acme.RenewBeforeDays) * 24 * time.Hour,
	}

	go func() {
		addr := fmt.Sprintf(":%d", acme.HTTP.Port)
		m.log.WithField("addr", addr).Info("starting http-01 challenge listener")
		srv := &http.Server{
			Addr:              addr,
			Handler:           m.autocertManager.HTTPHandler(nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			m.log.WithError(err).Error("http-01 listener stopped")
		}
	}()

	return m.autocertManager.TLSConfig(), nil
}

func (m *Manager) setupDNS01() (*tls.Config, error) {
	m.log.WithField("domain", m.cfg.ACME.Domain).Info("setting up dns-01 challenge")
	if err := m.obtain(); err != nil {
		return nil, fmt.Errorf("failed to obtain certificate: %w", err)
	}
	return m.loadCertConfig()
}

// certValid reports whether the certificate on disk can be served now. A
// certificate inside the renewal window is still served while a renewal
// runs in the background.
func (m *Manager) certValid() bool {
	if !fileExists(m.certFile) || !fileExists(m.keyFile) {
		return false
	}

	cert, err := m.parseCertFile()
	if err != nil {
		m.log.WithError(err).Warn("failed to parse certificate")
		return false
	}
	if time.Now().After(cert.NotAfter) {
		m.log.Warn("certificate has expired")
		return false
	}

	acme := m.cfg.ACME
	if acme.Enabled && acme.Domain != "" && !certMatchesDomain(cert, acme.Domain) {
		m.log.WithFields(logrus.Fields{"cert": cert.DNSNames, "domain": acme.Domain}).Warn("certificate domain mismatch")
		return false
	}

	if acme.Enabled && time.Until(cert.NotAfter) < m.renewBefore() {
		m.log.WithField("days", int(time.Until(cert.NotAfter).Hours()/24)).Info("certificate inside renewal window")
		go m.doRenew(true)
	}
	return true
}

func (m *Manager) renewBefore() time.Duration {
	return time.Duration(m.cfg.ACME.RenewBeforeDays) * 24 * time.Hour
}

func (m *Manager) parseCertFile() (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(m.certFile)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM")
	}
	return x509.ParseCertificate(block.Bytes)
}

func certMatchesDomain(cert *x509.Certificate, domain string) bool {
	if cert.Subject.CommonName == domain {
		return true
	}
	for _, san := range cert.DNSNames {
		if san == domain {
			return true
		}
	}
	return false
}

// ForceRenew archives the current certificate and obtains a new one.
// It returns the archive directory, empty when there was nothing to archive.
func (m *Manager) ForceRenew() (string, error) {
	if !m.cfg.ACME.Enabled {
		return "", ErrACMEDisabled
	}
	switch m.cfg.ACME.Challenge {
	case "dns-01":
	case "http-01":
		return "", ErrAutoRenewed
	default:
		return "", fmt.Errorf("unknown challenge type: %s", m.cfg.ACME.Challenge)
	}

	archiveDir, err := m.archiveCurrent()
	if err != nil {
		m.log.WithError(err).Warn("failed to archive current certificate")
	}
	if err := m.obtain(); err != nil {
		return "", err
	}
	if err := m.reload(); err != nil {
		return "", err
	}
	m.log.Info("certificate force renewed")
	return archiveDir, nil
}

func (m *Manager) doRenew(withBackup bool) {
	acme := m.cfg.ACME
	if !acme.Enabled || acme.Domain == "" {
		return
	}
	if acme.Challenge != "dns-01" {
		// autocert renews http-01 certificates itself
		return
	}

	m.log.Info("starting certificate renewal")
	if withBackup {
		if dir, err := m.archiveCurrent(); err != nil {
			m.log.WithError(err).Warn("failed to archive current certificate")
		} else if dir != "" {
			m.log.WithField("dir", dir).Info("archived current certificate")
		}
	}

	if err := m.obtain(); err != nil {
		m.log.WithError(err).Error("renewal failed")
		return
	}
	if err := m.reload(); err != nil {
		m.log.WithError(err).Error("failed to reload renewed certificate")
		return
	}
	m.log.Info("certificate renewed")
}

func (m *Manager) archiveCurrent() (string, error) {
	if !fileExists(m.certFile) {
		return "", nil
	}

	archiveDir := filepath.Join(m.certsDir, "archive", time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return "", err
	}
	if err := copyFile(m.certFile, filepath.Join(archiveDir, "cert.pem")); err != nil {
		return "", err
	}
	if err := copyFile(m.keyFile, filepath.Join(archiveDir, "key.pem")); err != nil {
		return "", err
	}
	return archiveDir, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}

// CertInfo reads the certificate on disk.
func (m *Manager) CertInfo() (*CertInfo, error) {
	if !fileExists(m.certFile) {
		return nil, ErrNoCert
	}
	cert, err := m.parseCertFile()
	if err != nil {
		return nil, err
	}

	remaining := time.Until(cert.NotAfter)
	return &CertInfo{
		Domains:       cert.DNSNames,
		Issuer:        cert.Issuer.CommonName,
		NotBefore:     cert.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:      cert.NotAfter.UTC().Format(time.RFC3339),
		RemainingDays: int(remaining.Hours() / 24),
		NeedsRenewal:  remaining < m.renewBefore(),
	}, nil
}

func (m *Manager) loadCertConfig() (*tls.Config, error) {
	if err := m.reload(); err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: m.getCertificate,
		MinVersion:     tls.VersionTLS12,
	}, nil
}

func (m *Manager) reload() error {
	cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cert = &cert
	m.mu.Unlock()
	return nil
}

func (m *Manager) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cert == nil {
		return nil, fmt.Errorf("no certificate loaded")
	}
	return m.cert, nil
}

// Run reloads the certificate when the file changes and renews it when it
// enters the renewal window. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context, watchInterval, renewInterval time.Duration) {
	if !m.cfg.IsHTTPS() || m.autocertManager != nil {
		return
	}

	watch := time.NewTicker(watchInterval)
	defer watch.Stop()
	renew := time.NewTicker(renewInterval)
	defer renew.Stop()

	var lastMod time.Time
	if info, err := os.Stat(m.certFile); err == nil {
		lastMod = info.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-watch.C:
			info, err := os.Stat(m.certFile)
			if err != nil || !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			if err := m.reload(); err != nil {
				m.log.WithError(err).Warn("failed to reload certificate")
				continue
			}
			m.log.Info("certificate reloaded")
		case <-renew.C:
			if m.needsRenewal() {
				m.doRenew(false)
			}
		}
	}
}

func (m *Manager) needsRenewal() bool {
	if !m.cfg.ACME.Enabled {
		return false
	}
	if !fileExists(m.certFile) {
		return true
	}
	cert, err := m.parseCertFile()
	if err != nil {
		m.log.WithError(err).Warn("failed to parse certificate")
		return true
	}
	remaining := time.Until(cert.NotAfter)
	if remaining <= 0 || remaining < m.renewBefore() {
		m.log.WithField("days", int(remaining.Hours()/24)).Info("certificate needs renewal")
		return true
	}
	return false
}
