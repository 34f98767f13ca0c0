package signature

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/oshokin/client-launcher/internal/domain/failure"
)

// embeddedAnchor is the certificate of the manifest publisher shipped with the launcher.
//
//go:embed trust-anchor.pem
var embeddedAnchor []byte

// armoredPublicKeyHeader starts an armored OpenPGP public keyring.
const armoredPublicKeyHeader = "-----BEGIN PGP PUBLIC KEY BLOCK-----"

var (
	// errEmptyAnchor is returned when no trust anchor bytes are available.
	errEmptyAnchor = errors.New("trust anchor is empty")
	// errUnsupportedKey is returned for public key types without a verification scheme.
	errUnsupportedKey = errors.New("unsupported trust anchor key type")
	// errUnrecognizedAnchor is returned when the bytes are neither PEM nor OpenPGP.
	errUnrecognizedAnchor = errors.New("unrecognized trust anchor format")
	// errEmptyKeyring is returned for OpenPGP keyrings without entities.
	errEmptyKeyring = errors.New("keyring is empty")
)

// Embedded returns a copy of the trust anchor compiled into the binary.
func Embedded() []byte {
	return bytes.Clone(embeddedAnchor)
}

// LoadTrustAnchor parses data into a Verifier.
// Every failure is a failure.ErrSignatureInvalid so callers cannot proceed by default.
func LoadTrustAnchor(data []byte) (Verifier, error) {
	verifier, err := loadTrustAnchor(bytes.TrimSpace(data))
	if err != nil {
		return nil, failure.Signature("load trust anchor", err)
	}

	return verifier, nil
}

//nolint:ireturn // The concrete verifier depends on the anchor format.
func loadTrustAnchor(data []byte) (Verifier, error) {
	if len(data) == 0 {
		return nil, errEmptyAnchor
	}

	if bytes.Contains(data, []byte(armoredPublicKeyHeader)) {
		keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read armored keyring: %w", err)
		}

		return newPGPVerifier(keyring)
	}

	if block, _ := pem.Decode(data); block != nil {
		return fromPEM(block)
	}

	// Try reading as non-armored keyring.
	keyring, err := openpgp.ReadKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnrecognizedAnchor, err)
	}

	return newPGPVerifier(keyring)
}

//nolint:ireturn // The concrete verifier depends on the key type.
func fromPEM(block *pem.Block) (Verifier, error) {
	var (
		publicKey any
		err       error
	)

	switch block.Type {
	case "CERTIFICATE":
		var certificate *x509.Certificate

		certificate, err = x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}

		publicKey = certificate.PublicKey
	case "PUBLIC KEY":
		publicKey, err = x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
	case "RSA PUBLIC KEY":
		publicKey, err = x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse rsa public key: %w", err)
		}
	default:
		return nil, fmt.Errorf("pem block %q: %w", block.Type, errUnrecognizedAnchor)
	}

	switch key := publicKey.(type) {
	case *rsa.PublicKey:
		return &rsaVerifier{key: key}, nil
	case *ecdsa.PublicKey:
		return &ecdsaVerifier{key: key}, nil
	case ed25519.PublicKey:
		return ed25519Verifier(key), nil
	default:
		return nil, fmt.Errorf("%T: %w", publicKey, errUnsupportedKey)
	}
}

func newPGPVerifier(keyring openpgp.EntityList) (*pgpVerifier, error) {
	if len(keyring) == 0 {
		return nil, errEmptyKeyring
	}

	return &pgpVerifier{keyring: keyring}, nil
}
