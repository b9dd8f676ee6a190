package wtdb

import (
	"github.com/decred/dcrwtclient/cryptography"
)

// RegistrationReceipt is the tower's signed acknowledgement of a
// registration request.
type RegistrationReceipt struct {
	UserID             ID
	AvailableSlots     uint32
	SubscriptionStart  uint32
	SubscriptionExpiry uint32
	Signature          []byte
}

// toBytes returns the canonical byte layout a registration receipt is
// signed over: user_id ‖ available_slots_be ‖ subscription_start_be ‖
// subscription_expiry_be.
func (r RegistrationReceipt) toBytes() []byte {
	buf := make([]byte, 0, IDSize+12)
	buf = append(buf, r.UserID[:]...)
	buf = appendUint32BE(buf, r.AvailableSlots)
	buf = appendUint32BE(buf, r.SubscriptionStart)
	buf = appendUint32BE(buf, r.SubscriptionExpiry)
	return buf
}

// Verify recovers the signer from the receipt's canonical byte layout and
// compares it against the tower's advertised identity.
func (r RegistrationReceipt) Verify(expectedTowerID ID) bool {
	recovered, err := cryptography.Recover(r.toBytes(), r.Signature)
	if err != nil {
		return false
	}
	return ID(recovered) == expectedTowerID
}

// AppointmentReceipt is the tower's signed acknowledgement that it accepted
// an appointment for the current subscription period.
type AppointmentReceipt struct {
	Locator       Locator
	UserSignature []byte
	StartBlock    uint32
	TowerSignature []byte
}

// toBytes returns the canonical byte layout an appointment receipt is
// signed over: locator ‖ user_signature ‖ start_block_be.
func (r AppointmentReceipt) toBytes() []byte {
	buf := make([]byte, 0, len(r.Locator)+len(r.UserSignature)+4)
	buf = append(buf, r.Locator[:]...)
	buf = append(buf, r.UserSignature...)
	buf = appendUint32BE(buf, r.StartBlock)
	return buf
}

// Verify recovers the signer from the receipt's canonical byte layout and
// compares it against the tower's advertised identity.
func (r AppointmentReceipt) Verify(expectedTowerID ID) bool {
	recovered, err := cryptography.Recover(r.toBytes(), r.TowerSignature)
	if err != nil {
		return false
	}
	return ID(recovered) == expectedTowerID
}

// RecoveredSigner returns the public key that actually produced
// TowerSignature, regardless of whether it matches the advertised tower.
// Used to build a MisbehaviorProof when Verify fails.
func (r AppointmentReceipt) RecoveredSigner() (ID, error) {
	recovered, err := cryptography.Recover(r.toBytes(), r.TowerSignature)
	if err != nil {
		return ID{}, err
	}
	return ID(recovered), nil
}

// MisbehaviorProof is the evidence that a tower signed an appointment
// receipt that does not recover to the public key it advertises.
type MisbehaviorProof struct {
	Locator             Locator
	AppointmentReceipt  AppointmentReceipt
	RecoveredTowerID    ID
}
