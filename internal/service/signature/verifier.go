package signature

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/oshokin/client-launcher/internal/domain/failure"
)

// Verifier checks a detached signature over an exact byte sequence.
type Verifier interface {
	// Verify returns nil only if signature is valid for message.
	Verify(message, signature []byte) error
}

var (
	// errNoAnchor is returned by Check when no verifier is available.
	errNoAnchor = errors.New("no trust anchor loaded")
	// errEmptySignature is returned when the detached signature has no bytes.
	errEmptySignature = errors.New("signature is empty")
	// errMismatch is returned when the signature does not cover the message.
	errMismatch = errors.New("signature does not match manifest")
)

// Check verifies signature over message with anchor, failing closed.
// Any problem, including a nil anchor, is a failure.ErrSignatureInvalid.
func Check(anchor Verifier, message, signature []byte) error {
	const op = "verify manifest signature"

	if anchor == nil {
		return failure.Signature(op, errNoAnchor)
	}

	if len(signature) == 0 {
		return failure.Signature(op, errEmptySignature)
	}

	if err := anchor.Verify(message, signature); err != nil {
		return failure.Signature(op, err)
	}

	return nil
}

// rsaVerifier implements SHA256withRSA (PKCS#1 v1.5).
type rsaVerifier struct {
	key *rsa.PublicKey
}

func (v *rsaVerifier) Verify(message, signature []byte) error {
	digest := sha256.Sum256(message)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("%w: %w", errMismatch, err)
	}

	return nil
}

// ecdsaVerifier implements SHA256withECDSA with ASN.1 encoded signatures.
type ecdsaVerifier struct {
	key *ecdsa.PublicKey
}

func (v *ecdsaVerifier) Verify(message, signature []byte) error {
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(v.key, digest[:], signature) {
		return errMismatch
	}

	return nil
}

// ed25519Verifier implements pure Ed25519.
type ed25519Verifier ed25519.PublicKey

func (v ed25519Verifier) Verify(message, signature []byte) error {
	if !ed25519.Verify(ed25519.PublicKey(v), message, signature) {
		return errMismatch
	}

	return nil
}

// pgpVerifier checks OpenPGP detached signatures, armored or binary.
type pgpVerifier struct {
	keyring openpgp.EntityList
}

func (v *pgpVerifier) Verify(message, signature []byte) error {
	// Verify signature (try armored first).
	_, err := openpgp.CheckArmoredDetachedSignature(v.keyring, bytes.NewReader(message), bytes.NewReader(signature), nil)
	if err != nil {
		// Try non-armored signature.
		_, err = openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(message), bytes.NewReader(signature), nil)
	}

	if err != nil {
		return fmt.Errorf("%w: %w", errMismatch, err)
	}

	return nil
}
