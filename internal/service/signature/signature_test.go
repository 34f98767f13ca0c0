package signature

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/client-launcher/internal/domain/failure"
)

var manifestBytes = []byte("hashAlgorithm: sha256\nartifacts:\n  - name: client.jar\n")

// keyPair is a trust anchor with the signing key that matches it.
type keyPair struct {
	anchor  []byte
	private []byte
}

func rsaCertificatePair(t *testing.T) keyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test manifest signing"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	return keyPair{
		anchor:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		private: pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
	}
}

func pkixPair(t *testing.T, public, private any) keyPair {
	t.Helper()

	publicDER, err := x509.MarshalPKIXPublicKey(public)
	require.NoError(t, err)

	privateDER, err := x509.MarshalPKCS8PrivateKey(private)
	require.NoError(t, err)

	return keyPair{
		anchor:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER}),
		private: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER}),
	}
}

func pgpPair(t *testing.T) keyPair {
	t.Helper()

	entity, err := openpgp.NewEntity("Test Publisher", "", "publisher@example.com", nil)
	require.NoError(t, err)

	var public, private bytes.Buffer

	w, err := armor.Encode(&public, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	w, err = armor.Encode(&private, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())

	return keyPair{anchor: public.Bytes(), private: private.Bytes()}
}

func allPairs(t *testing.T) map[string]keyPair {
	t.Helper()

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	edPublic, edPrivate, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return map[string]keyPair{
		"rsa certificate": rsaCertificatePair(t),
		"ecdsa":           pkixPair(t, &ecKey.PublicKey, ecKey),
		"ed25519":         pkixPair(t, edPublic, edPrivate),
		"openpgp":         pgpPair(t),
	}
}

// TestCheck_ValidSignature verifies that a signature made with the matching key
// is accepted for every supported anchor format.
func TestCheck_ValidSignature(t *testing.T) {
	t.Parallel()

	for name, pair := range allPairs(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			signer, err := LoadSigningKey(pair.private)
			require.NoError(t, err)

			sig, err := signer.Sign(manifestBytes)
			require.NoError(t, err)

			anchor, err := LoadTrustAnchor(pair.anchor)
			require.NoError(t, err)
			require.NoError(t, Check(anchor, manifestBytes, sig))
		})
	}
}

// TestCheck_TamperedManifest ensures a single flipped byte in the manifest is rejected.
func TestCheck_TamperedManifest(t *testing.T) {
	t.Parallel()

	for name, pair := range allPairs(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			signer, err := LoadSigningKey(pair.private)
			require.NoError(t, err)

			sig, err := signer.Sign(manifestBytes)
			require.NoError(t, err)

			tampered := bytes.Clone(manifestBytes)
			tampered[0] ^= 0x01

			anchor, err := LoadTrustAnchor(pair.anchor)
			require.NoError(t, err)
			require.ErrorIs(t, Check(anchor, tampered, sig), failure.ErrSignatureInvalid)
		})
	}
}

// TestCheck_ForeignKey ensures a signature from a key other than the anchor is rejected.
func TestCheck_ForeignKey(t *testing.T) {
	t.Parallel()

	trusted := rsaCertificatePair(t)
	foreign := rsaCertificatePair(t)

	signer, err := LoadSigningKey(foreign.private)
	require.NoError(t, err)

	sig, err := signer.Sign(manifestBytes)
	require.NoError(t, err)

	anchor, err := LoadTrustAnchor(trusted.anchor)
	require.NoError(t, err)
	require.ErrorIs(t, Check(anchor, manifestBytes, sig), failure.ErrSignatureInvalid)
}

// TestCheck_FailsClosed covers a missing anchor, an empty signature and garbage.
func TestCheck_FailsClosed(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, Check(nil, manifestBytes, []byte("sig")), failure.ErrSignatureInvalid)

	anchor, err := LoadTrustAnchor(rsaCertificatePair(t).anchor)
	require.NoError(t, err)
	require.ErrorIs(t, Check(anchor, manifestBytes, nil), failure.ErrSignatureInvalid)
	require.ErrorIs(t, Check(anchor, manifestBytes, []byte("not a signature")), failure.ErrSignatureInvalid)
}

// TestLoadTrustAnchor_Invalid ensures unreadable anchors are signature failures.
func TestLoadTrustAnchor_Invalid(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{
		nil,
		[]byte("   "),
		[]byte("definitely not a key"),
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("junk")}),
		pem.EncodeToMemory(&pem.Block{Type: "OPENSSH PRIVATE KEY", Bytes: []byte("junk")}),
	} {
		_, err := LoadTrustAnchor(data)
		require.ErrorIs(t, err, failure.ErrSignatureInvalid)
	}
}

// TestEmbedded_Loads makes sure the shipped anchor parses and is returned as a copy.
func TestEmbedded_Loads(t *testing.T) {
	t.Parallel()

	data := Embedded()
	_, err := LoadTrustAnchor(data)
	require.NoError(t, err)

	data[0] = 'X'
	require.NotEqual(t, data[0], Embedded()[0])
}

// TestLoadSigningKey_Invalid covers unusable signing keys.
func TestLoadSigningKey_Invalid(t *testing.T) {
	t.Parallel()

	_, err := LoadSigningKey([]byte("nope"))
	require.ErrorIs(t, err, ErrInvalidSigningKey)

	_, err = LoadSigningKey(rsaCertificatePair(t).anchor)
	require.ErrorIs(t, err, ErrInvalidSigningKey)
}
