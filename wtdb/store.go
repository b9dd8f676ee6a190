package wtdb

import "github.com/decred/dcrd/dcrec/secp256k1/v4"

// Store is the logical persistence surface the watchtower client is built
// against (component C). Every operation is atomic and durable on success;
// spec.md §4.3 names the operations, leaving the backing engine
// unspecified ("watchtowers_db.sql3, or equivalent").
type Store interface {
	// LoadClientKey loads the client's persisted secret key, or returns
	// ErrNoClientKey if one has never been stored.
	LoadClientKey() (*secp256k1.PrivateKey, error)

	// StoreClientKey persists the client's secret key. Called exactly
	// once, on first run.
	StoreClientKey(sk *secp256k1.PrivateKey) error

	// StoreTowerRecord upserts a tower's registration. Enforces
	// invariant 4: the new receipt's subscription_expiry and
	// available_slots must each strictly exceed the stored values, or
	// ErrSubscriptionDowngrade is returned and no state is mutated.
	// A first-time registration (no stored record) always succeeds.
	StoreTowerRecord(towerID ID, netAddr string, receipt RegistrationReceipt) error

	// LoadTowerRecord loads the full on-disk view of a tower, including
	// its delivered-appointment signatures and misbehavior proof, if
	// any.
	LoadTowerRecord(towerID ID) (TowerInfo, error)

	// LoadTowers loads every tower's summary. Called once at startup to
	// reconstruct the in-memory registry.
	LoadTowers() (map[ID]*TowerSummary, error)

	// StoreAppointmentReceipt records a tower's acknowledgement of a
	// delivered appointment and the available_slots it reported.
	StoreAppointmentReceipt(towerID ID, locator Locator, availableSlots uint32, receipt AppointmentReceipt) error

	// StorePendingAppointment records an appointment awaiting delivery
	// or retry for a tower. The appointment blob is stored once
	// globally, keyed by locator; this call adds a tower-appointment
	// reference to it.
	StorePendingAppointment(towerID ID, appt Appointment) error

	// DeletePendingAppointment removes a tower's pending-appointment
	// reference. When the last reference to a locator's blob is
	// removed, the blob itself is garbage collected.
	DeletePendingAppointment(towerID ID, locator Locator) error

	// StoreInvalidAppointment records an appointment a tower rejected
	// outright (a non-subscription API error).
	StoreInvalidAppointment(towerID ID, appt Appointment) error

	// StoreMisbehavingProof persists proof that a tower signed a
	// receipt that does not recover to its advertised identity, and
	// flips the tower's persisted status to Misbehaving.
	StoreMisbehavingProof(towerID ID, proof MisbehaviorProof) error

	// LoadAppointmentLocators loads the set of locators a tower has in
	// the given state.
	LoadAppointmentLocators(towerID ID, kind AppointmentStatusKind) ([]Locator, error)

	// RemoveTower deletes all records associated with a tower. Used by
	// abandon_tower.
	RemoveTower(towerID ID) error

	// Close releases the underlying storage handle.
	Close() error
}
