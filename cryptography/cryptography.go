// Package cryptography implements the primitives the watchtower client
// needs: secp256k1 keypair generation, compact recoverable ECDSA signatures
// over tower wire messages, authenticated encryption of penalty
// transactions keyed by the commitment txid, and locator derivation.
package cryptography

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/chacha20poly1305"
)

// LocatorSize is the length, in bytes, of a locator: the first 16 bytes of
// a commitment transaction id.
const LocatorSize = 16

// SignatureSize is the length, in bytes, of a compact recoverable ECDSA
// signature as used on the wire.
const SignatureSize = 65

// ErrDecryptionFailed is returned when a ciphertext fails authentication,
// either because it was tampered with or because it was encrypted under a
// different commitment txid.
var ErrDecryptionFailed = errors.New("cryptography: decryption failed")

// GenKeypair generates a fresh secp256k1 keypair. The returned public key is
// serialized in compressed (33-byte) form, matching the UserId/TowerId wire
// representation.
func GenKeypair() (*secp256k1.PrivateKey, [33]byte, error) {
	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, [33]byte{}, fmt.Errorf("generate keypair: %w", err)
	}

	var pk [33]byte
	copy(pk[:], sk.PubKey().SerializeCompressed())
	return sk, pk, nil
}

// Sign produces a 65-byte compact recoverable ECDSA signature over msg.
func Sign(msg []byte, sk *secp256k1.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig := ecdsa.SignCompact(sk, digest[:], true)
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("cryptography: unexpected signature length %d", len(sig))
	}
	return sig, nil
}

// Recover recovers the compressed public key that produced sig over msg.
func Recover(msg, sig []byte) ([33]byte, error) {
	if len(sig) != SignatureSize {
		return [33]byte{}, fmt.Errorf("cryptography: signature must be %d bytes, got %d",
			SignatureSize, len(sig))
	}

	digest := sha256.Sum256(msg)
	pk, _, err := ecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return [33]byte{}, fmt.Errorf("recover pubkey: %w", err)
	}

	var out [33]byte
	copy(out[:], pk.SerializeCompressed())
	return out, nil
}

// deriveKey derives a one-time ChaCha20-Poly1305 key from a commitment
// txid. Because the key is unique per txid, a fixed all-zero nonce does not
// weaken the scheme: the (key, nonce) pair is never reused.
func deriveKey(commitmentTxid [32]byte) []byte {
	key := sha256.Sum256(commitmentTxid[:])
	return key[:]
}

// Encrypt encrypts a penalty transaction under a key derived from the
// commitment txid that will trigger its publication.
func Encrypt(penaltyTx []byte, commitmentTxid [32]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(deriveKey(commitmentTxid))
	if err != nil {
		return nil, fmt.Errorf("cryptography: init AEAD: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	return aead.Seal(nil, nonce, penaltyTx, nil), nil
}

// Decrypt reverses Encrypt. It fails if blob was not produced by Encrypt
// under this exact commitmentTxid.
func Decrypt(blob []byte, commitmentTxid [32]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(deriveKey(commitmentTxid))
	if err != nil {
		return nil, fmt.Errorf("cryptography: init AEAD: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	penaltyTx, err := aead.Open(nil, nonce, blob, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return penaltyTx, nil
}

// Locator derives the 16-byte handle used to address an appointment without
// revealing the commitment it belongs to.
func Locator(commitmentTxid [32]byte) [LocatorSize]byte {
	var loc [LocatorSize]byte
	copy(loc[:], commitmentTxid[:LocatorSize])
	return loc
}
