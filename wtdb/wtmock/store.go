// Package wtmock provides an in-memory wtdb.Store used by the watchtower
// client's tests, modeled on the pack's wtmock.ClientDB in-memory mock
// pattern.
package wtmock

import (
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrwtclient/internal/wterr"
	"github.com/decred/dcrwtclient/wtdb"
)

type towerRecord struct {
	netAddr            string
	availableSlots     uint32
	subscriptionExpiry uint32
	status             wtdb.TowerStatus
	abandoned          bool
	regSignature       []byte
	delivered          map[wtdb.Locator][]byte
	pending            map[wtdb.Locator]wtdb.Appointment
	invalid            map[wtdb.Locator]wtdb.Appointment
	proof              *wtdb.MisbehaviorProof
}

// Store is a mock, in-memory wtdb.Store for testing the watchtower client.
type Store struct {
	mu sync.Mutex

	clientKey *secp256k1.PrivateKey
	towers    map[wtdb.ID]*towerRecord
}

// NewStore initializes an empty mock Store.
func NewStore() *Store {
	return &Store{
		towers: make(map[wtdb.ID]*towerRecord),
	}
}

// LoadClientKey implements wtdb.Store.
func (s *Store) LoadClientKey() (*secp256k1.PrivateKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clientKey == nil {
		return nil, wtdb.ErrNoClientKey
	}
	return s.clientKey, nil
}

// StoreClientKey implements wtdb.Store.
func (s *Store) StoreClientKey(sk *secp256k1.PrivateKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clientKey = sk
	return nil
}

// StoreTowerRecord implements wtdb.Store.
func (s *Store) StoreTowerRecord(towerID wtdb.ID, netAddr string, receipt wtdb.RegistrationReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.towers[towerID]; ok {
		if receipt.SubscriptionExpiry <= existing.subscriptionExpiry ||
			receipt.AvailableSlots <= existing.availableSlots {
			return fmt.Errorf("%w: %w", wterr.Subscription, wtdb.ErrSubscriptionDowngrade)
		}
		existing.netAddr = netAddr
		existing.availableSlots = receipt.AvailableSlots
		existing.subscriptionExpiry = receipt.SubscriptionExpiry
		existing.regSignature = receipt.Signature
		return nil
	}

	s.towers[towerID] = &towerRecord{
		netAddr:            netAddr,
		availableSlots:     receipt.AvailableSlots,
		subscriptionExpiry: receipt.SubscriptionExpiry,
		status:             wtdb.StatusReachable,
		regSignature:       receipt.Signature,
		delivered:          make(map[wtdb.Locator][]byte),
		pending:            make(map[wtdb.Locator]wtdb.Appointment),
		invalid:            make(map[wtdb.Locator]wtdb.Appointment),
	}
	return nil
}

// LoadTowerRecord implements wtdb.Store.
func (s *Store) LoadTowerRecord(towerID wtdb.ID) (wtdb.TowerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.towers[towerID]
	if !ok {
		return wtdb.TowerInfo{}, wtdb.ErrTowerNotFound
	}

	info := wtdb.TowerInfo{
		NetAddr:               rec.netAddr,
		AvailableSlots:        rec.availableSlots,
		SubscriptionExpiry:    rec.subscriptionExpiry,
		Status:                rec.status,
		RegistrationSignature: rec.regSignature,
		Appointments:          make(map[wtdb.Locator][]byte, len(rec.delivered)),
	}
	for k, v := range rec.delivered {
		info.Appointments[k] = v
	}
	for _, appt := range rec.pending {
		info.PendingAppointments = append(info.PendingAppointments, appt)
	}
	for _, appt := range rec.invalid {
		info.InvalidAppointments = append(info.InvalidAppointments, appt)
	}
	if rec.proof != nil {
		proof := *rec.proof
		info.MisbehaviorProof = &proof
	}
	return info, nil
}

// LoadTowers implements wtdb.Store.
func (s *Store) LoadTowers() (map[wtdb.ID]*wtdb.TowerSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[wtdb.ID]*wtdb.TowerSummary, len(s.towers))
	for id, rec := range s.towers {
		summary := &wtdb.TowerSummary{
			NetAddr:             rec.netAddr,
			AvailableSlots:      rec.availableSlots,
			SubscriptionExpiry:  rec.subscriptionExpiry,
			Status:              rec.status,
			Abandoned:           rec.abandoned,
			PendingAppointments: make(map[wtdb.Locator]struct{}, len(rec.pending)),
			InvalidAppointments: make(map[wtdb.Locator]struct{}, len(rec.invalid)),
		}
		for loc := range rec.pending {
			summary.PendingAppointments[loc] = struct{}{}
		}
		for loc := range rec.invalid {
			summary.InvalidAppointments[loc] = struct{}{}
		}
		out[id] = summary
	}
	return out, nil
}

// StoreAppointmentReceipt implements wtdb.Store.
func (s *Store) StoreAppointmentReceipt(towerID wtdb.ID, locator wtdb.Locator, availableSlots uint32, receipt wtdb.AppointmentReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.towers[towerID]
	if !ok {
		return wtdb.ErrTowerNotFound
	}
	rec.delivered[locator] = receipt.TowerSignature
	rec.availableSlots = availableSlots
	return nil
}

// StorePendingAppointment implements wtdb.Store.
func (s *Store) StorePendingAppointment(towerID wtdb.ID, appt wtdb.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.towers[towerID]
	if !ok {
		return wtdb.ErrTowerNotFound
	}
	rec.pending[appt.Locator] = appt
	return nil
}

// DeletePendingAppointment implements wtdb.Store.
func (s *Store) DeletePendingAppointment(towerID wtdb.ID, locator wtdb.Locator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.towers[towerID]
	if !ok {
		return wtdb.ErrTowerNotFound
	}
	delete(rec.pending, locator)
	return nil
}

// StoreInvalidAppointment implements wtdb.Store.
func (s *Store) StoreInvalidAppointment(towerID wtdb.ID, appt wtdb.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.towers[towerID]
	if !ok {
		return wtdb.ErrTowerNotFound
	}
	rec.invalid[appt.Locator] = appt
	return nil
}

// StoreMisbehavingProof implements wtdb.Store.
func (s *Store) StoreMisbehavingProof(towerID wtdb.ID, proof wtdb.MisbehaviorProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.towers[towerID]
	if !ok {
		return wtdb.ErrTowerNotFound
	}
	rec.proof = &proof
	rec.status = wtdb.StatusMisbehaving
	return nil
}

// LoadAppointmentLocators implements wtdb.Store.
func (s *Store) LoadAppointmentLocators(towerID wtdb.ID, kind wtdb.AppointmentStatusKind) ([]wtdb.Locator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.towers[towerID]
	if !ok {
		return nil, nil
	}

	var locators []wtdb.Locator
	switch kind {
	case wtdb.Pending:
		for loc := range rec.pending {
			locators = append(locators, loc)
		}
	case wtdb.Invalid:
		for loc := range rec.invalid {
			locators = append(locators, loc)
		}
	case wtdb.Delivered:
		for loc := range rec.delivered {
			locators = append(locators, loc)
		}
	}
	return locators, nil
}

// RemoveTower implements wtdb.Store.
func (s *Store) RemoveTower(towerID wtdb.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.towers, towerID)
	return nil
}

// Close implements wtdb.Store.
func (s *Store) Close() error {
	return nil
}
