package wtdb

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/decred/dcrwtclient/cryptography"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenBoltStore(filepath.Join(dir, "watchtowers.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func randID(t *testing.T) ID {
	t.Helper()
	_, pk, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}
	return ID(pk)
}

func TestClientKeyRoundTrip(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.LoadClientKey(); err != ErrNoClientKey {
		t.Fatalf("expected ErrNoClientKey, got %v", err)
	}

	sk, _, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}
	if err := store.StoreClientKey(sk); err != nil {
		t.Fatalf("StoreClientKey: %v", err)
	}

	loaded, err := store.LoadClientKey()
	if err != nil {
		t.Fatalf("LoadClientKey: %v", err)
	}
	loadedBytes := loaded.Serialize()
	skBytes := sk.Serialize()
	if len(loadedBytes) != len(skBytes) {
		t.Fatalf("loaded key length mismatch")
	}
	for i := range skBytes {
		if loadedBytes[i] != skBytes[i] {
			t.Fatalf("loaded key does not match stored key")
		}
	}
}

func TestStoreTowerRecordRejectsDowngrade(t *testing.T) {
	store := openTestStore(t)
	towerID := randID(t)

	first := RegistrationReceipt{AvailableSlots: 100, SubscriptionExpiry: 1000}
	if err := store.StoreTowerRecord(towerID, "tower.example:9814", first); err != nil {
		t.Fatalf("StoreTowerRecord: %v", err)
	}

	downgradeSlots := RegistrationReceipt{AvailableSlots: 100, SubscriptionExpiry: 2000}
	if err := store.StoreTowerRecord(towerID, "tower.example:9814", downgradeSlots); !errors.Is(err, ErrSubscriptionDowngrade) {
		t.Fatalf("expected ErrSubscriptionDowngrade for equal slots, got %v", err)
	}

	downgradeExpiry := RegistrationReceipt{AvailableSlots: 200, SubscriptionExpiry: 1000}
	if err := store.StoreTowerRecord(towerID, "tower.example:9814", downgradeExpiry); !errors.Is(err, ErrSubscriptionDowngrade) {
		t.Fatalf("expected ErrSubscriptionDowngrade for equal expiry, got %v", err)
	}

	info, err := store.LoadTowerRecord(towerID)
	if err != nil {
		t.Fatalf("LoadTowerRecord: %v", err)
	}
	if info.AvailableSlots != 100 || info.SubscriptionExpiry != 1000 {
		t.Fatalf("a rejected downgrade must not mutate stored state, got %+v", info)
	}

	upgrade := RegistrationReceipt{AvailableSlots: 200, SubscriptionExpiry: 2000}
	if err := store.StoreTowerRecord(towerID, "tower.example:9814", upgrade); err != nil {
		t.Fatalf("StoreTowerRecord upgrade: %v", err)
	}
	info, err = store.LoadTowerRecord(towerID)
	if err != nil {
		t.Fatalf("LoadTowerRecord: %v", err)
	}
	if info.AvailableSlots != 200 || info.SubscriptionExpiry != 2000 {
		t.Fatalf("valid upgrade was not persisted, got %+v", info)
	}
}

func TestPendingAppointmentLifecycleAndBlobGC(t *testing.T) {
	store := openTestStore(t)
	towerA := randID(t)
	towerB := randID(t)

	for _, id := range []ID{towerA, towerB} {
		if err := store.StoreTowerRecord(id, "tower.example:9814",
			RegistrationReceipt{AvailableSlots: 100, SubscriptionExpiry: 1000}); err != nil {
			t.Fatalf("StoreTowerRecord: %v", err)
		}
	}

	var loc Locator
	copy(loc[:], []byte("0123456789abcdef"))
	appt := Appointment{Locator: loc, EncryptedBlob: []byte("ciphertext"), ToSelfDelay: ToSelfDelaySentinel}

	if err := store.StorePendingAppointment(towerA, appt); err != nil {
		t.Fatalf("StorePendingAppointment(A): %v", err)
	}
	if err := store.StorePendingAppointment(towerB, appt); err != nil {
		t.Fatalf("StorePendingAppointment(B): %v", err)
	}

	locsA, err := store.LoadAppointmentLocators(towerA, Pending)
	if err != nil {
		t.Fatalf("LoadAppointmentLocators: %v", err)
	}
	if len(locsA) != 1 || locsA[0] != loc {
		t.Fatalf("expected tower A to have one pending locator, got %v", locsA)
	}

	infoA, err := store.LoadTowerRecord(towerA)
	if err != nil {
		t.Fatalf("LoadTowerRecord: %v", err)
	}
	if len(infoA.PendingAppointments) != 1 || string(infoA.PendingAppointments[0].EncryptedBlob) != "ciphertext" {
		t.Fatalf("expected the blob body to be resolvable through tower A, got %+v", infoA.PendingAppointments)
	}

	// Removing tower A's reference must not remove the shared blob while
	// tower B still references it.
	if err := store.DeletePendingAppointment(towerA, loc); err != nil {
		t.Fatalf("DeletePendingAppointment(A): %v", err)
	}
	infoB, err := store.LoadTowerRecord(towerB)
	if err != nil {
		t.Fatalf("LoadTowerRecord(B): %v", err)
	}
	if len(infoB.PendingAppointments) != 1 {
		t.Fatalf("tower B's pending appointment should survive tower A's deletion, got %+v", infoB)
	}

	if err := store.DeletePendingAppointment(towerB, loc); err != nil {
		t.Fatalf("DeletePendingAppointment(B): %v", err)
	}
	infoB, err = store.LoadTowerRecord(towerB)
	if err != nil {
		t.Fatalf("LoadTowerRecord(B) after gc: %v", err)
	}
	if len(infoB.PendingAppointments) != 0 {
		t.Fatalf("expected pending appointments to be empty after last reference removed, got %+v", infoB)
	}
}

func TestMisbehaviorProofPersistsAndFlipsStatus(t *testing.T) {
	store := openTestStore(t)
	towerID := randID(t)

	if err := store.StoreTowerRecord(towerID, "tower.example:9814",
		RegistrationReceipt{AvailableSlots: 100, SubscriptionExpiry: 1000}); err != nil {
		t.Fatalf("StoreTowerRecord: %v", err)
	}

	var loc Locator
	copy(loc[:], []byte("0123456789abcdef"))
	proof := MisbehaviorProof{
		Locator: loc,
		AppointmentReceipt: AppointmentReceipt{
			Locator:        loc,
			UserSignature:  []byte("user-sig"),
			StartBlock:     42,
			TowerSignature: []byte("tower-sig-that-does-not-recover"),
		},
		RecoveredTowerID: randID(t),
	}

	if err := store.StoreMisbehavingProof(towerID, proof); err != nil {
		t.Fatalf("StoreMisbehavingProof: %v", err)
	}

	info, err := store.LoadTowerRecord(towerID)
	if err != nil {
		t.Fatalf("LoadTowerRecord: %v", err)
	}
	if info.Status != StatusMisbehaving {
		t.Fatalf("expected status Misbehaving, got %v", info.Status)
	}
	if info.MisbehaviorProof == nil || info.MisbehaviorProof.RecoveredTowerID != proof.RecoveredTowerID {
		t.Fatalf("expected misbehavior proof to round-trip, got %+v", info.MisbehaviorProof)
	}
}

func TestRemoveTowerWipesAllRecords(t *testing.T) {
	store := openTestStore(t)
	towerID := randID(t)

	if err := store.StoreTowerRecord(towerID, "tower.example:9814",
		RegistrationReceipt{AvailableSlots: 100, SubscriptionExpiry: 1000}); err != nil {
		t.Fatalf("StoreTowerRecord: %v", err)
	}
	var loc Locator
	copy(loc[:], []byte("0123456789abcdef"))
	if err := store.StorePendingAppointment(towerID, Appointment{Locator: loc}); err != nil {
		t.Fatalf("StorePendingAppointment: %v", err)
	}

	if err := store.RemoveTower(towerID); err != nil {
		t.Fatalf("RemoveTower: %v", err)
	}

	if _, err := store.LoadTowerRecord(towerID); err != ErrTowerNotFound {
		t.Fatalf("expected ErrTowerNotFound after removal, got %v", err)
	}

	towers, err := store.LoadTowers()
	if err != nil {
		t.Fatalf("LoadTowers: %v", err)
	}
	if _, ok := towers[towerID]; ok {
		t.Fatalf("removed tower should not appear in LoadTowers")
	}
}
