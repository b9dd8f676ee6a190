package wtclient

import (
	"fmt"

	"github.com/decred/dcrwtclient/internal/wterr"
	"github.com/decred/dcrwtclient/wtdb"
)

// GetTowerInfo returns the on-disk view of a tower with its status patched
// in from memory, since the store cannot distinguish Reachable from
// TemporaryUnreachable / SubscriptionError on its own (those only ever
// live in the in-memory registry) — mirrors main.rs::get_tower_info.
func (c *Client) GetTowerInfo(towerID wtdb.ID) (wtdb.TowerInfo, error) {
	info, err := c.Store.LoadTowerRecord(towerID)
	if err != nil {
		return wtdb.TowerInfo{}, fmt.Errorf("%w: unknown tower %s", wterr.UserError, towerID)
	}

	summary, ok := c.Tower(towerID)
	if !ok {
		return info, nil
	}
	return info.WithStatus(summary.Status), nil
}

// RetryTower implements the retry_tower operator command: only valid when
// the tower is currently Unreachable, per spec.md §4.4 ("retry is rejected
// unless the tower is currently Unreachable").
func (c *Client) RetryTower(towerID wtdb.ID) error {
	summary, ok := c.Tower(towerID)
	if !ok {
		return fmt.Errorf("%w: unknown tower %s", wterr.UserError, towerID)
	}

	switch summary.Status {
	case wtdb.StatusTemporaryUnreachable:
		return fmt.Errorf("%w: %s is already being retried", wterr.UserError, towerID)
	case wtdb.StatusUnreachable:
		c.SetStatus(towerID, wtdb.StatusTemporaryUnreachable)
		c.signalUnreachable(towerID)
		return nil
	default:
		return fmt.Errorf("%w: tower status must be unreachable to manually retry", wterr.UserError)
	}
}

// AbandonResult reports how abandon_tower resolved.
type AbandonResult struct {
	// Deferred is true when the tower was mid-retry: its records are
	// not removed yet, only flagged, and the retrier will finish the
	// job. This implementation resolves the spec.md §9 open question
	// ("the source returns an error even though the operation succeeds
	// logically") as a non-error, informational result.
	Deferred bool
}

// AbandonTower implements the abandon_tower operator command. If the
// tower is mid-retry, the removal is deferred (spec.md §4.4, §9 DESIGN
// NOTES): the tower is flagged and the retrier completes the abandonment
// on its next tick. Otherwise records are removed immediately.
func (c *Client) AbandonTower(towerID wtdb.ID) (AbandonResult, error) {
	summary, ok := c.Tower(towerID)
	if !ok {
		return AbandonResult{}, fmt.Errorf("%w: unknown tower %s", wterr.UserError, towerID)
	}

	if summary.Status == wtdb.StatusTemporaryUnreachable {
		c.FlagDeferredAbandon(towerID)
		return AbandonResult{Deferred: true}, nil
	}

	if err := c.RemoveTower(towerID); err != nil {
		return AbandonResult{}, err
	}
	return AbandonResult{}, nil
}

// GetAppointmentReceipt loads the locally stored tower signature for a
// delivered appointment, for the get_appointment_receipt operator command.
func (c *Client) GetAppointmentReceipt(towerID wtdb.ID, locator wtdb.Locator) ([]byte, error) {
	info, err := c.Store.LoadTowerRecord(towerID)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown tower %s, have you registered?", wterr.UserError, towerID)
	}
	sig, ok := info.Appointments[locator]
	if !ok {
		return nil, fmt.Errorf("%w: no delivered appointment %s for tower %s, did you send it?",
			wterr.UserError, locator, towerID)
	}
	return sig, nil
}

// GetRegistrationReceipt reassembles the most recent registration receipt
// for a tower from its persisted record.
func (c *Client) GetRegistrationReceipt(towerID wtdb.ID) (wtdb.RegistrationReceipt, error) {
	info, err := c.Store.LoadTowerRecord(towerID)
	if err != nil {
		return wtdb.RegistrationReceipt{}, fmt.Errorf("%w: unknown tower %s, have you registered?",
			wterr.UserError, towerID)
	}
	return wtdb.RegistrationReceipt{
		UserID:             c.UserID,
		AvailableSlots:     info.AvailableSlots,
		SubscriptionExpiry: info.SubscriptionExpiry,
		Signature:          info.RegistrationSignature,
	}, nil
}
