package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/authgrid/authgrid/internal/config"
)

func generateKeyPair(t *testing.T) (string, string) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	return base64.StdEncoding.EncodeToString(privPEM),
		base64.StdEncoding.EncodeToString(pubPEM)
}

func TestProvider_NotConfigured(t *testing.T) {
	p := NewProvider(&config.OAuthConfig{KeyID: "k1"})

	if p.Configured() {
		t.Error("Configured() should be false without keys")
	}

	if _, err := p.PrivateKey(); !errors.Is(err, ErrKeysNotConfigured) {
		t.Errorf("PrivateKey() error = %v, want ErrKeysNotConfigured", err)
	}
	if _, err := p.JWK(); !errors.Is(err, ErrKeysNotConfigured) {
		t.Errorf("JWK() error = %v, want ErrKeysNotConfigured", err)
	}
}

func TestProvider_LoadsKeyPair(t *testing.T) {
	privB64, pubB64 := generateKeyPair(t)
	p := NewProvider(&config.OAuthConfig{
		KeyID:            "authgrid-key-1",
		PrivateKeyBase64: privB64,
		PublicKeyBase64:  pubB64,
	})

	if !p.Configured() {
		t.Fatal("Configured() should be true")
	}

	priv, err := p.PrivateKey()
	if err != nil {
		t.Fatalf("PrivateKey() error = %v", err)
	}
	pub, err := p.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}

	if priv.PublicKey.N.Cmp(pub.N) != 0 {
		t.Error("public key does not match private key")
	}
}

func TestProvider_DerivesPublicFromPrivate(t *testing.T) {
	privB64, _ := generateKeyPair(t)
	p := NewProvider(&config.OAuthConfig{
		KeyID:            "k1",
		PrivateKeyBase64: privB64,
	})

	pub, err := p.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if pub == nil {
		t.Fatal("PublicKey() returned nil")
	}
}

func TestProvider_JWK(t *testing.T) {
	privB64, pubB64 := generateKeyPair(t)
	p := NewProvider(&config.OAuthConfig{
		KeyID:            "authgrid-key-1",
		PrivateKeyBase64: privB64,
		PublicKeyBase64:  pubB64,
	})

	jwk, err := p.JWK()
	if err != nil {
		t.Fatalf("JWK() error = %v", err)
	}

	if jwk.Kty != "RSA" {
		t.Errorf("Kty = %q, want RSA", jwk.Kty)
	}
	if jwk.Kid != "authgrid-key-1" {
		t.Errorf("Kid = %q, want authgrid-key-1", jwk.Kid)
	}
	if jwk.Use != "sig" {
		t.Errorf("Use = %q, want sig", jwk.Use)
	}
	if jwk.Alg != "RS256" {
		t.Errorf("Alg = %q, want RS256", jwk.Alg)
	}
	if jwk.N == "" || jwk.E == "" {
		t.Error("JWK modulus and exponent must be set")
	}
	if _, err := base64.RawURLEncoding.DecodeString(jwk.N); err != nil {
		t.Errorf("N is not base64url: %v", err)
	}
}

func TestProvider_InvalidKeyMaterial(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"not PEM", base64.StdEncoding.EncodeToString([]byte("plain text"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(&config.OAuthConfig{
				KeyID:            "k1",
				PrivateKeyBase64: tt.key,
			})
			if _, err := p.PrivateKey(); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
