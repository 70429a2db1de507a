package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/authgrid/authgrid/internal/config"
)

// ErrKeysNotConfigured is returned when no signing keypair has been
// provided. The server still starts in this state; token issuance and
// JWKS report the condition instead.
var ErrKeysNotConfigured = errors.New("signing keys not configured")

// JWK is the public signing key in JSON Web Key form (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Provider parses the configured RSA keypair on first use and caches it.
// Keys arrive as base64-encoded PEM so they fit in environment variables.
type Provider struct {
	cfg *config.OAuthConfig

	once sync.Once
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
	err  error
}

func NewProvider(cfg *config.OAuthConfig) *Provider {
	return &Provider{cfg: cfg}
}

// Configured reports whether a private key has been supplied. It does not
// validate the key material; PrivateKey does that.
func (p *Provider) Configured() bool {
	return p.cfg.PrivateKeyBase64 != ""
}

func (p *Provider) KeyID() string {
	return p.cfg.KeyID
}

// PrivateKey returns the parsed signing key, or ErrKeysNotConfigured when
// none was supplied.
func (p *Provider) PrivateKey() (*rsa.PrivateKey, error) {
	p.load()
	if p.err != nil {
		return nil, p.err
	}
	return p.priv, nil
}

// PublicKey returns the verification key. When no public key was supplied
// separately it is derived from the private key.
func (p *Provider) PublicKey() (*rsa.PublicKey, error) {
	p.load()
	if p.err != nil {
		return nil, p.err
	}
	return p.pub, nil
}

// JWK returns the public key in JWKS form for the discovery endpoint.
func (p *Provider) JWK() (*JWK, error) {
	pub, err := p.PublicKey()
	if err != nil {
		return nil, err
	}

	return &JWK{
		Kty: "RSA",
		Kid: p.cfg.KeyID,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}, nil
}

func (p *Provider) load() {
	p.once.Do(func() {
		if p.cfg.PrivateKeyBase64 == "" {
			p.err = ErrKeysNotConfigured
			return
		}

		priv, err := parsePrivateKey(p.cfg.PrivateKeyBase64)
		if err != nil {
			p.err = fmt.Errorf("parse private key: %w", err)
			return
		}
		p.priv = priv

		if p.cfg.PublicKeyBase64 != "" {
			pub, err := parsePublicKey(p.cfg.PublicKeyBase64)
			if err != nil {
				p.err = fmt.Errorf("parse public key: %w", err)
				return
			}
			p.pub = pub
		} else {
			p.pub = &priv.PublicKey
		}
	})
}

// parsePrivateKey decodes base64-wrapped PEM and accepts both PKCS#1 and
// PKCS#8 encodings.
func parsePrivateKey(encoded string) (*rsa.PrivateKey, error) {
	block, err := decodePEM(encoded)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key: %T", parsed)
	}
	return key, nil
}

func parsePublicKey(encoded string) (*rsa.PublicKey, error) {
	block, err := decodePEM(encoded)
	if err != nil {
		return nil, err
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key: %T", parsed)
	}
	return key, nil
}

func decodePEM(encoded string) (*pem.Block, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	return block, nil
}
