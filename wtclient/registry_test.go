package wtclient

import (
	"testing"

	"github.com/decred/dcrwtclient/wtdb"
	"github.com/decred/dcrwtclient/wtdb/wtmock"
)

func TestNewReconstructsStatusFromPendingAppointments(t *testing.T) {
	store := wtmock.NewStore()

	seed, err := New(store)
	if err != nil {
		t.Fatalf("New (seed): %v", err)
	}

	withPending := registerTower(t, seed, 100, 4320)
	withoutPending := registerTower(t, seed, 100, 4320)

	appt := wtdb.Appointment{Locator: wtdb.NewLocator(randTxid(t)), EncryptedBlob: []byte("blob")}
	if err := seed.AddPendingAppointment(withPending, appt); err != nil {
		t.Fatalf("AddPendingAppointment: %v", err)
	}

	// Reopen against the same store, simulating a restart.
	c, err := New(store)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}

	pendingSummary, ok := c.Tower(withPending)
	if !ok {
		t.Fatalf("expected tower with pending appointments to survive restart")
	}
	if pendingSummary.Status != wtdb.StatusTemporaryUnreachable {
		t.Fatalf("expected tower with non-empty pending set to load as TemporaryUnreachable, got %s",
			pendingSummary.Status)
	}

	select {
	case id := <-c.UnreachableTower:
		if id != withPending {
			t.Fatalf("expected the pending tower to be re-enqueued to the retrier, got %s", id)
		}
	default:
		t.Fatalf("expected the pending tower to be signaled to the retrier on restart")
	}

	cleanSummary, ok := c.Tower(withoutPending)
	if !ok {
		t.Fatalf("expected tower without pending appointments to survive restart")
	}
	if cleanSummary.Status != wtdb.StatusReachable {
		t.Fatalf("expected tower with an empty pending set to load as Reachable, got %s", cleanSummary.Status)
	}
}

func TestLocatorDisjointAcrossPendingAndInvalid(t *testing.T) {
	c := newTestClient(t)
	towerID := registerTower(t, c, 100, 4320)

	appt := wtdb.Appointment{Locator: wtdb.NewLocator(randTxid(t)), EncryptedBlob: []byte("blob")}

	if err := c.AddPendingAppointment(towerID, appt); err != nil {
		t.Fatalf("AddPendingAppointment: %v", err)
	}
	summary, _ := c.Tower(towerID)
	if _, ok := summary.PendingAppointments[appt.Locator]; !ok {
		t.Fatalf("expected locator in pending set")
	}

	// Move the locator to invalid: record it as invalid, then clear its
	// pending reference. Afterwards it must be in the invalid set only.
	if err := c.AddInvalidAppointment(towerID, appt); err != nil {
		t.Fatalf("AddInvalidAppointment: %v", err)
	}
	if err := c.RemovePendingAppointment(towerID, appt.Locator); err != nil {
		t.Fatalf("RemovePendingAppointment: %v", err)
	}

	summary, _ = c.Tower(towerID)
	_, inPending := summary.PendingAppointments[appt.Locator]
	_, inInvalid := summary.InvalidAppointments[appt.Locator]
	if inPending {
		t.Fatalf("locator should no longer be pending after moving to invalid")
	}
	if !inInvalid {
		t.Fatalf("locator should be present in invalid set")
	}
}
