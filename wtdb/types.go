// Package wtdb defines the wire and persisted types the watchtower client
// exchanges with towers and stores on disk, along with the Store interface
// the rest of the client is built against.
package wtdb

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrwtclient/cryptography"
	"github.com/decred/slog"
)

// log is the wtdb subsystem logger. It is a no-op until UseLogger is called
// by the binary wiring the client together.
var log = slog.Disabled

// UseLogger sets the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// IDSize is the length, in bytes, of a UserId/TowerId: a compressed
// secp256k1 public key.
const IDSize = 33

// ToSelfDelaySentinel is the fixed to_self_delay value every appointment
// carries in this release. See spec.md §9 open question: a future release
// may need to parameterize this once the Lightning side of the protocol
// settles.
const ToSelfDelaySentinel = uint32(42)

// ID is a 33-byte compressed secp256k1 public key, used for both UserId and
// TowerId. Equality is by bytes.
type ID [IDSize]byte

// String renders the id as hex, matching how towers are referenced in
// operator commands and logs.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID parses a hex-encoded compressed public key.
func ParseID(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("wtdb: invalid id %q: %w", s, err)
	}
	if len(b) != IDSize {
		return ID{}, fmt.Errorf("wtdb: id must be %d bytes, got %d", IDSize, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// IDFromPubKey derives an ID from a serialized compressed public key.
func IDFromPubKey(pk [33]byte) ID {
	return ID(pk)
}

// Locator is the 16-byte handle an appointment is addressed by.
type Locator [cryptography.LocatorSize]byte

// String renders the locator as hex.
func (l Locator) String() string {
	return hex.EncodeToString(l[:])
}

// NewLocator derives a Locator from a commitment txid.
func NewLocator(commitmentTxid [32]byte) Locator {
	return Locator(cryptography.Locator(commitmentTxid))
}

// Appointment is an instruction to a tower: a locator plus the encrypted
// penalty transaction the tower should broadcast once it observes the
// matching breach on-chain.
type Appointment struct {
	Locator       Locator
	EncryptedBlob []byte
	ToSelfDelay   uint32
}

// ToBytes returns the canonical byte encoding of the appointment, the
// message the client signs to authenticate an add_appointment request.
func (a Appointment) ToBytes() []byte {
	buf := make([]byte, 0, len(a.Locator)+len(a.EncryptedBlob)+4)
	buf = append(buf, a.Locator[:]...)
	buf = append(buf, a.EncryptedBlob...)
	buf = appendUint32BE(buf, a.ToSelfDelay)
	return buf
}

func appendUint32BE(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// TowerStatus is the client's view of a tower's reachability, per
// spec.md §4.4.
type TowerStatus int

const (
	// StatusReachable means appointments are being dispatched normally.
	StatusReachable TowerStatus = iota
	// StatusTemporaryUnreachable means a retrier is actively working
	// through the tower's pending appointments.
	StatusTemporaryUnreachable
	// StatusUnreachable means the retrier gave up after exceeding
	// max_elapsed_time; a manual retry is required.
	StatusUnreachable
	// StatusSubscriptionError means the tower rejected the last call for
	// subscription reasons; a retrier is waiting for the user to
	// re-register.
	StatusSubscriptionError
	// StatusMisbehaving is absorbing: the tower signed a receipt that
	// does not recover to its advertised identity.
	StatusMisbehaving
	// StatusAbandoned is absorbing: the user removed the tower.
	StatusAbandoned
)

func (s TowerStatus) String() string {
	switch s {
	case StatusReachable:
		return "reachable"
	case StatusTemporaryUnreachable:
		return "temporary_unreachable"
	case StatusUnreachable:
		return "unreachable"
	case StatusSubscriptionError:
		return "subscription_error"
	case StatusMisbehaving:
		return "misbehaving"
	case StatusAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// IsReachable reports whether appointments should be dispatched to the
// tower over the network right now.
func (s TowerStatus) IsReachable() bool {
	return s == StatusReachable
}

// IsRetryable reports whether the tower has appointments parked pending a
// retrier pass (temporarily unreachable, unreachable, or subscription
// error) rather than being actively reachable or terminally stopped.
func (s TowerStatus) IsRetryable() bool {
	switch s {
	case StatusTemporaryUnreachable, StatusUnreachable, StatusSubscriptionError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is absorbing.
func (s TowerStatus) IsTerminal() bool {
	return s == StatusMisbehaving || s == StatusAbandoned
}

// TowerSummary is the authoritative in-memory view of a tower kept by the
// registry (component D).
type TowerSummary struct {
	NetAddr             string
	AvailableSlots      uint32
	SubscriptionExpiry  uint32
	Status              TowerStatus
	PendingAppointments map[Locator]struct{}
	InvalidAppointments map[Locator]struct{}

	// Abandoned is the deferred-abandon flag: set when the user asks to
	// abandon a tower that is mid-retry. The retrier checks this between
	// attempts and finalizes the abandonment.
	Abandoned bool
}

// NewTowerSummary builds a freshly registered tower's summary, Reachable
// with empty appointment sets.
func NewTowerSummary(netAddr string, availableSlots, subscriptionExpiry uint32) *TowerSummary {
	return &TowerSummary{
		NetAddr:             netAddr,
		AvailableSlots:      availableSlots,
		SubscriptionExpiry:  subscriptionExpiry,
		Status:              StatusReachable,
		PendingAppointments: make(map[Locator]struct{}),
		InvalidAppointments: make(map[Locator]struct{}),
	}
}

// TowerInfo is the on-disk view of a tower: everything in TowerSummary plus
// the delivered-appointment signatures and an optional misbehavior proof.
type TowerInfo struct {
	NetAddr             string
	AvailableSlots      uint32
	SubscriptionExpiry  uint32
	Status              TowerStatus
	Appointments        map[Locator][]byte // locator -> tower signature
	PendingAppointments []Appointment
	InvalidAppointments []Appointment
	MisbehaviorProof    *MisbehaviorProof

	// RegistrationSignature is the tower's signature over the most recent
	// registration receipt, kept so get_registration_receipt can return
	// the receipt the tower actually signed, not a reconstruction.
	RegistrationSignature []byte
}

// WithStatus returns a copy of info with status replaced. Used to patch the
// in-memory status (the only thing the DB's Reachable/TemporaryUnreachable
// distinction cannot capture) onto the on-disk view.
func (info TowerInfo) WithStatus(status TowerStatus) TowerInfo {
	info.Status = status
	return info
}

// AppointmentStatusKind selects which appointment set to query in
// LoadAppointmentLocators.
type AppointmentStatusKind int

const (
	// Pending selects appointments awaiting delivery or retry.
	Pending AppointmentStatusKind = iota
	// Invalid selects appointments the tower rejected outright.
	Invalid
	// Delivered selects appointments successfully acknowledged.
	Delivered
)

// Secp256k1PrivateKey is re-exported for callers that only import wtdb.
type Secp256k1PrivateKey = secp256k1.PrivateKey
