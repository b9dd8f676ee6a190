// Package wtclient implements the watchtower client's runtime: the
// in-memory tower registry (component D) and the appointment dispatch
// pipeline (component F), built around the Client aggregate that mirrors
// the teacher's pattern of a single mutex-guarded state struct shared by
// the host RPC surface and the retry engine.
package wtclient

import (
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrwtclient/cryptography"
	"github.com/decred/dcrwtclient/internal/wterr"
	"github.com/decred/dcrwtclient/wtdb"
	"github.com/decred/slog"
)

// log is the wtclient subsystem logger. It is a no-op until UseLogger is
// called by the binary wiring the client together.
var log = slog.Disabled

// UseLogger sets the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// TowerSnapshot is the immutable subset of a tower's state needed to drive
// one round of fan-out, taken under the registry lock and then used
// without it, per spec.md §4.6 / §5 and DESIGN NOTES.
type TowerSnapshot struct {
	TowerID wtdb.ID
	NetAddr string
	Status  wtdb.TowerStatus
}

// UnreachableSignal is sent whenever a tower transitions into a state the
// retry engine should act on (TemporaryUnreachable or SubscriptionError).
// It is a multi-producer, single-consumer channel with a large buffer (see
// NewUnreachableSignal): the dispatch path sends through signalUnreachable,
// which never blocks and drops the wakeup if the buffer is full.
type UnreachableSignal chan wtdb.ID

// NewUnreachableSignal allocates an unbounded-in-practice signal channel. A
// large buffer stands in for the "unbounded" MPSC channel spec.md §5
// requires; the retry engine drains it promptly so backpressure should
// never be observed in practice.
func NewUnreachableSignal() UnreachableSignal {
	return make(UnreachableSignal, 4096)
}

// Client is the watchtower client's aggregate runtime state: the user's
// identity, the guarded tower registry, the durable store, and the channel
// used to wake the retry engine.
type Client struct {
	mu sync.Mutex

	towers map[wtdb.ID]*wtdb.TowerSummary

	Store            wtdb.Store
	UserSK           *secp256k1.PrivateKey
	UserID           wtdb.ID
	UnreachableTower UnreachableSignal
}

// New constructs a Client, loading or generating the client's identity and
// reconstructing the in-memory registry from the store per the restart
// invariant (spec.md §3 invariant 5, §8 property 2): towers whose stored
// status is Misbehaving or Abandoned keep it; of the rest, every tower with
// non-empty pending appointments is loaded TemporaryUnreachable and
// re-enqueued to the retrier, and every other tower is loaded Reachable.
func New(store wtdb.Store) (*Client, error) {
	sk, err := store.LoadClientKey()
	if err == wtdb.ErrNoClientKey {
		sk, _, err = cryptography.GenKeypair()
		if err != nil {
			return nil, fmt.Errorf("%w: generate client key: %v", wterr.Fatal, err)
		}
		if err := store.StoreClientKey(sk); err != nil {
			return nil, fmt.Errorf("%w: persist client key: %v", wterr.Fatal, err)
		}
		log.Info("watchtower client keys not found, created a fresh set")
	} else if err != nil {
		return nil, fmt.Errorf("%w: load client key: %v", wterr.Fatal, err)
	}

	var userPK [33]byte
	copy(userPK[:], sk.PubKey().SerializeCompressed())

	towers, err := store.LoadTowers()
	if err != nil {
		return nil, fmt.Errorf("%w: load towers: %v", wterr.Fatal, err)
	}

	signal := NewUnreachableSignal()
	for towerID, summary := range towers {
		// Misbehaving is sticky (spec.md §8 property 3): a tower the
		// store already has flagged must not be reconstructed into
		// any other status on restart.
		if summary.Status.IsTerminal() {
			continue
		}

		if len(summary.PendingAppointments) > 0 {
			summary.Status = wtdb.StatusTemporaryUnreachable
			signal <- towerID
		} else {
			summary.Status = wtdb.StatusReachable
		}
	}

	log.Infof("watchtower client initialized, user id = %s", wtdb.ID(userPK))

	return &Client{
		towers:           towers,
		Store:            store,
		UserSK:           sk,
		UserID:           wtdb.ID(userPK),
		UnreachableTower: signal,
	}, nil
}

// Snapshot copies the current tower list as (tower_id, net_addr, status)
// triples, releasing the registry lock before the caller does any network
// I/O, per spec.md §4.6 step 3 / §5 / §9 DESIGN NOTES.
func (c *Client) Snapshot() []TowerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TowerSnapshot, 0, len(c.towers))
	for id, t := range c.towers {
		out = append(out, TowerSnapshot{TowerID: id, NetAddr: t.NetAddr, Status: t.Status})
	}
	return out
}

// AddUpdateTower upserts a tower's registration, both in memory and in the
// store. Enforces invariant 4 via the store; on success the in-memory
// summary is (re)created Reachable with empty appointment sets, matching
// wt_client.rs::add_update_tower.
func (c *Client) AddUpdateTower(towerID wtdb.ID, netAddr string, receipt wtdb.RegistrationReceipt) error {
	if err := c.Store.StoreTowerRecord(towerID, netAddr, receipt); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.towers[towerID] = wtdb.NewTowerSummary(netAddr, receipt.AvailableSlots, receipt.SubscriptionExpiry)
	return nil
}

// Tower returns a copy of the in-memory summary for towerID.
func (c *Client) Tower(towerID wtdb.ID) (wtdb.TowerSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.towers[towerID]
	if !ok {
		return wtdb.TowerSummary{}, false
	}
	return *t, true
}

// ListTowers returns a snapshot of every tower's in-memory summary, for the
// list_towers operator command.
func (c *Client) ListTowers() map[wtdb.ID]wtdb.TowerSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[wtdb.ID]wtdb.TowerSummary, len(c.towers))
	for id, t := range c.towers {
		out[id] = *t
	}
	return out
}

// SetStatus transitions a tower's in-memory status. No-op (but logged) if
// the tower is unknown, mirroring wt_client.rs::set_tower_status.
func (c *Client) SetStatus(towerID wtdb.ID, status wtdb.TowerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.towers[towerID]
	if !ok {
		log.Errorf("cannot change tower status to %s, unknown tower id %s", status, towerID)
		return
	}
	if t.Status.IsTerminal() {
		// Misbehaving and Abandoned are absorbing: spec.md §4.4 and
		// §8 property 3.
		return
	}
	t.Status = status
}

// signalUnreachable enqueues towerID to the retry engine without blocking,
// per spec.md §5 (the producer must not block under load).
func (c *Client) signalUnreachable(towerID wtdb.ID) {
	select {
	case c.UnreachableTower <- towerID:
	default:
		log.Warnf("unreachable-tower signal channel full, dropping wakeup for %s", towerID)
	}
}

// AddAppointmentReceipt records a tower's acknowledgement of a delivered
// appointment, updating the in-memory available_slots from the tower's
// reply (invariant 2: never computed locally authoritatively).
func (c *Client) AddAppointmentReceipt(towerID wtdb.ID, locator wtdb.Locator, availableSlots uint32, receipt wtdb.AppointmentReceipt) error {
	if err := c.Store.StoreAppointmentReceipt(towerID, locator, availableSlots, receipt); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.towers[towerID]; ok {
		t.AvailableSlots = availableSlots
	}
	return nil
}

// AddPendingAppointment records an appointment awaiting delivery or retry
// and wakes the retry engine for towerID.
func (c *Client) AddPendingAppointment(towerID wtdb.ID, appt wtdb.Appointment) error {
	if err := c.Store.StorePendingAppointment(towerID, appt); err != nil {
		return err
	}

	c.mu.Lock()
	if t, ok := c.towers[towerID]; ok {
		t.PendingAppointments[appt.Locator] = struct{}{}
	}
	c.mu.Unlock()

	c.signalUnreachable(towerID)
	return nil
}

// RemovePendingAppointment moves an appointment out of the pending set,
// both in memory and in the store. Used once an appointment is delivered
// or moved to invalid.
func (c *Client) RemovePendingAppointment(towerID wtdb.ID, locator wtdb.Locator) error {
	if err := c.Store.DeletePendingAppointment(towerID, locator); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.towers[towerID]; ok {
		delete(t.PendingAppointments, locator)
	}
	return nil
}

// AddInvalidAppointment records an appointment a tower rejected outright.
func (c *Client) AddInvalidAppointment(towerID wtdb.ID, appt wtdb.Appointment) error {
	if err := c.Store.StoreInvalidAppointment(towerID, appt); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.towers[towerID]; ok {
		t.InvalidAppointments[appt.Locator] = struct{}{}
	}
	return nil
}

// FlagMisbehavingTower persists a misbehavior proof and transitions the
// tower to the absorbing Misbehaving status.
func (c *Client) FlagMisbehavingTower(towerID wtdb.ID, proof wtdb.MisbehaviorProof) error {
	if err := c.Store.StoreMisbehavingProof(towerID, proof); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.towers[towerID]; ok {
		t.Status = wtdb.StatusMisbehaving
	}
	return nil
}

// FlagDeferredAbandon sets the deferred-abandon bit on a tower that is
// mid-retry, per spec.md §4.4 and the "deferred abandonment" design note.
// The retrier observes this flag between attempts and finalizes removal.
func (c *Client) FlagDeferredAbandon(towerID wtdb.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.towers[towerID]; ok {
		t.Abandoned = true
	}
}

// RemoveTower wipes all records for a tower, in memory and in the store.
func (c *Client) RemoveTower(towerID wtdb.ID) error {
	if err := c.Store.RemoveTower(towerID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.towers, towerID)
	return nil
}
