package tlsconfig

import (
	"crypto/tls"
	"testing"
)

func TestApplyVersionProfile(t *testing.T) {
	cfg := &tls.Config{}
	ApplyVersionProfile(cfg, ProfileSecure)
	if cfg.MinVersion != VersionTLS12 || cfg.MaxVersion != VersionTLS13 {
		t.Errorf("got Min=%#x Max=%#x, want TLS1.2/TLS1.3", cfg.MinVersion, cfg.MaxVersion)
	}
}

func TestApplyCipherSuites(t *testing.T) {
	cfg := &tls.Config{}
	ApplyCipherSuites(cfg, VersionTLS13)
	if cfg.CipherSuites != nil {
		t.Error("expected no explicit cipher suites for a TLS 1.3-only config")
	}

	ApplyCipherSuites(cfg, VersionTLS12)
	if len(cfg.CipherSuites) != len(CipherSuitesTLS12Secure) {
		t.Errorf("got %d cipher suites, want the TLS 1.2 secure set", len(cfg.CipherSuites))
	}

	ApplyCipherSuites(cfg, VersionTLS10)
	if len(cfg.CipherSuites) != len(CipherSuitesTLS12Compatible) {
		t.Errorf("got %d cipher suites, want the TLS 1.0-compatible set", len(cfg.CipherSuites))
	}
}
