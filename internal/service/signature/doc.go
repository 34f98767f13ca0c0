// Package signature verifies detached manifest signatures against the trust
// anchor embedded in the launcher binary.
//
// A trust anchor is either an X.509 certificate or public key in PEM form
// (RSA with PKCS#1 v1.5 over SHA-256, ECDSA over SHA-256, or Ed25519) or an
// OpenPGP public keyring, armored or binary. Verification is fail-closed:
// any inability to perform the check is reported as failure.ErrSignatureInvalid.
package signature
