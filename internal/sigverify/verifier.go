// Package sigverify implements signature verification for fetched OCI
// artifacts. It covers the manual trust-root path (PEM public keys and
// certificates) in full; Fulcio-issued certificate verification is not
// implemented: with AllowFulcio and no keys or certificates configured,
// Verify returns a SignatureError rather than faking success, since the
// certificate-transparency log client it requires is outside this
// repository's dependency surface (see DESIGN.md).
package sigverify

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/microsoft/wassette/internal/wassetteerr"
)

// Config controls whether and how signatures are verified.
type Config struct {
	Enforce      bool
	TrustedKeys  []string // PEM-encoded public keys
	TrustedCerts []string // paths to PEM-encoded certificates
	AllowFulcio  bool
}

// TrustRoot holds the parsed trust material used to verify a signature.
type TrustRoot struct {
	publicKeys []crypto.PublicKey
	certs      []*x509.Certificate
}

// Verifier verifies detached signatures over fetched artifact bytes against
// a configured trust root. An empty trust set with enforcement enabled is a
// configuration error, not an allow (per SPEC_FULL.md §9).
type Verifier struct {
	cfg       Config
	trustRoot *TrustRoot
}

// New constructs a Verifier, building the trust root eagerly when
// enforcement is enabled so that misconfiguration fails fast at startup
// rather than on the first load.
func New(cfg Config) (*Verifier, error) {
	v := &Verifier{cfg: cfg}
	if !cfg.Enforce {
		return v, nil
	}
	root, err := buildTrustRoot(cfg)
	if err != nil {
		return nil, wassetteerr.Wrap(wassetteerr.SignatureError, "build trust root", err)
	}
	v.trustRoot = root
	return v, nil
}

func buildTrustRoot(cfg Config) (*TrustRoot, error) {
	root := &TrustRoot{}

	for _, keyPEM := range cfg.TrustedKeys {
		block, _ := pem.Decode([]byte(keyPEM))
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM public key")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse trusted public key: %w", err)
		}
		switch pub.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
		default:
			return nil, fmt.Errorf("unsupported public key type %T", pub)
		}
		root.publicKeys = append(root.publicKeys, pub)
	}

	for _, certPath := range cfg.TrustedCerts {
		b, err := os.ReadFile(certPath)
		if err != nil {
			return nil, fmt.Errorf("read certificate %q: %w", certPath, err)
		}
		block, _ := pem.Decode(b)
		if block == nil {
			return nil, fmt.Errorf("decode certificate %q", certPath)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate %q: %w", certPath, err)
		}
		root.certs = append(root.certs, cert)
	}

	if !cfg.AllowFulcio && len(root.publicKeys) == 0 && len(root.certs) == 0 {
		return nil, fmt.Errorf("no trust roots configured and Fulcio is disabled: configure trusted keys/certificates or enable Fulcio")
	}

	return root, nil
}

// Signature is a detached signature over artifact bytes, identified by the
// trust material that should validate it.
type Signature struct {
	Bytes []byte
	Hash  crypto.Hash
}

// Verify checks sig against artifact using the configured trust root. When
// enforcement is disabled, Verify is a no-op success, matching the
// reference implementation's "enforce=false short-circuits" behavior.
func (v *Verifier) Verify(artifact []byte, sig Signature) error {
	if !v.cfg.Enforce {
		return nil
	}
	if v.trustRoot == nil {
		return wassetteerr.New(wassetteerr.SignatureError, "signature verification enabled with no trust root")
	}
	keys := append([]crypto.PublicKey{}, v.trustRoot.publicKeys...)
	for _, cert := range v.trustRoot.certs {
		keys = append(keys, cert.PublicKey)
	}
	if len(keys) == 0 {
		if v.cfg.AllowFulcio {
			return wassetteerr.New(wassetteerr.SignatureError, "Fulcio-issued certificate verification requires a certificate-transparency log client not wired into this build")
		}
		return wassetteerr.New(wassetteerr.SignatureError, "no public keys or certificates configured for manual trust root verification")
	}

	h := sig.Hash
	if h == 0 {
		h = crypto.SHA256
	}
	digest := hashBytes(h, artifact)

	var lastErr error
	for _, pub := range keys {
		if err := verifyWithKey(pub, digest, sig.Bytes, h); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return wassetteerr.Wrap(wassetteerr.SignatureError, "no trusted key validated the signature", lastErr)
}

func verifyWithKey(pub crypto.PublicKey, digest, sig []byte, h crypto.Hash) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(key, h, digest, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return fmt.Errorf("ecdsa signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}

func hashBytes(h crypto.Hash, data []byte) []byte {
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil)
}
