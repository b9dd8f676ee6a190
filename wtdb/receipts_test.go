package wtdb

import (
	"testing"

	"github.com/decred/dcrwtclient/cryptography"
)

func TestRegistrationReceiptVerify(t *testing.T) {
	towerSK, towerPK, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}
	_, userPK, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}

	receipt := RegistrationReceipt{
		UserID:             ID(userPK),
		AvailableSlots:     100,
		SubscriptionStart:  10,
		SubscriptionExpiry: 4320,
	}
	sig, err := cryptography.Sign(receipt.toBytes(), towerSK)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	receipt.Signature = sig

	if !receipt.Verify(ID(towerPK)) {
		t.Fatalf("expected receipt to verify against the signing tower")
	}

	_, otherPK, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}
	if receipt.Verify(ID(otherPK)) {
		t.Fatalf("receipt should not verify against an unrelated tower id")
	}
}

func TestAppointmentReceiptVerifyAndMisbehavior(t *testing.T) {
	towerSK, towerPK, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}
	impostorSK, impostorPK, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}

	var loc Locator
	copy(loc[:], []byte("0123456789abcdef"))

	receipt := AppointmentReceipt{
		Locator:       loc,
		UserSignature: []byte("fake-user-sig"),
		StartBlock:    123,
	}

	honestSig, err := cryptography.Sign(receipt.toBytes(), towerSK)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	receipt.TowerSignature = honestSig
	if !receipt.Verify(ID(towerPK)) {
		t.Fatalf("expected receipt signed by the tower to verify")
	}

	impostorSig, err := cryptography.Sign(receipt.toBytes(), impostorSK)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	receipt.TowerSignature = impostorSig
	if receipt.Verify(ID(towerPK)) {
		t.Fatalf("receipt signed by an impostor must not verify against the advertised tower")
	}

	recovered, err := receipt.RecoveredSigner()
	if err != nil {
		t.Fatalf("RecoveredSigner: %v", err)
	}
	if recovered != ID(impostorPK) {
		t.Fatalf("recovered signer should be the impostor")
	}
}
