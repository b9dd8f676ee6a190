package cryptography

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randTxid(t *testing.T) [32]byte {
	t.Helper()
	var txid [32]byte
	if _, err := rand.Read(txid[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return txid
}

func TestSignRecoverRoundTrip(t *testing.T) {
	sk, pk, err := GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}

	msg := []byte("appointment bytes to sign")
	sig, err := Sign(msg, sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != SignatureSize {
		t.Fatalf("expected %d byte signature, got %d", SignatureSize, len(sig))
	}

	recovered, err := Recover(msg, sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered != pk {
		t.Fatalf("recovered key does not match signer")
	}
}

func TestRecoverWrongMessageMismatches(t *testing.T) {
	sk, pk, err := GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}

	sig, err := Sign([]byte("original"), sk)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	recovered, err := Recover([]byte("tampered"), sig)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if recovered == pk {
		t.Fatalf("recovery should not match signer for a tampered message")
	}
}

func TestEncryptDecryptIdentity(t *testing.T) {
	txid := randTxid(t)
	penaltyTx := []byte("a raw penalty transaction")

	blob, err := Encrypt(penaltyTx, txid)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	decrypted, err := Decrypt(blob, txid)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, penaltyTx) {
		t.Fatalf("round-tripped plaintext mismatch")
	}
}

func TestDecryptWrongTxidFails(t *testing.T) {
	txid := randTxid(t)
	wrongTxid := randTxid(t)

	blob, err := Encrypt([]byte("a raw penalty transaction"), txid)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := Decrypt(blob, wrongTxid); err == nil {
		t.Fatalf("expected decryption to fail under the wrong txid")
	}
}

func TestLocatorDeterministic(t *testing.T) {
	txid := randTxid(t)

	l1 := Locator(txid)
	l2 := Locator(txid)
	if l1 != l2 {
		t.Fatalf("locator is not deterministic for the same txid")
	}
	if !bytes.Equal(l1[:], txid[:LocatorSize]) {
		t.Fatalf("locator is not the txid prefix")
	}
}

func TestLocatorDiffersForDistinctTxids(t *testing.T) {
	txidA := randTxid(t)
	txidB := randTxid(t)

	if Locator(txidA) == Locator(txidB) {
		t.Fatalf("locators for distinct txids collided (statistically implausible)")
	}
}
