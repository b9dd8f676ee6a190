// Package wtretry implements the watchtower client's retry engine
// (component G): bounded exponential backoff retry of pending appointments
// for temporarily-unreachable or subscription-errored towers, with
// deduplicated concurrent retriers and cooperative abandonment.
package wtretry

import (
	"context"
	"sync"
	"time"

	"github.com/decred/dcrwtclient/cryptography"
	"github.com/decred/dcrwtclient/wtclient"
	"github.com/decred/dcrwtclient/wtdb"
	"github.com/decred/dcrwtclient/wthttp"
	"github.com/decred/slog"
)

// log is the wtretry subsystem logger. It is a no-op until UseLogger is
// called by the binary wiring the client together.
var log = slog.Disabled

// UseLogger sets the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// Clock abstracts wall-clock time so tests can simulate the passage of
// max_elapsed_time without actually sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

// RealClock is the production Clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// Sleep implements Clock, returning early if ctx is cancelled.
func (RealClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Retrier drives retry tasks for unreachable towers. One goroutine per
// currently-retrying tower; new work for a tower already being retried is
// simply observed on that retrier's next pass rather than spawning a
// second one (spec.md §4.7: "only one concurrent retrier per tower id").
type Retrier struct {
	client *wtclient.Client
	sender wtclient.Sender
	clock  Clock

	maxElapsedTime  time.Duration
	maxRetryInterval time.Duration

	mu      sync.Mutex
	running map[wtdb.ID]struct{}
}

// New builds a Retrier. maxElapsedTime and maxRetryInterval correspond to
// the host-supplied watchtower-max-retry-time and
// dev-watchtower-max-retry-interval options (spec.md §6).
func New(client *wtclient.Client, sender wtclient.Sender, maxElapsedTime, maxRetryInterval time.Duration) *Retrier {
	return &Retrier{
		client:           client,
		sender:           sender,
		clock:            RealClock{},
		maxElapsedTime:   maxElapsedTime,
		maxRetryInterval: maxRetryInterval,
		running:          make(map[wtdb.ID]struct{}),
	}
}

// ManageRetry is the retry engine's main loop: for every tower id it reads
// off rx, it spawns a retry task unless one is already running for that
// id, per spec.md §4.7. It returns when ctx is cancelled.
func (r *Retrier) ManageRetry(ctx context.Context, rx <-chan wtdb.ID) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case towerID, ok := <-rx:
			if !ok {
				return
			}

			r.mu.Lock()
			_, alreadyRunning := r.running[towerID]
			if !alreadyRunning {
				r.running[towerID] = struct{}{}
			}
			r.mu.Unlock()

			if alreadyRunning {
				continue
			}

			wg.Add(1)
			go func(id wtdb.ID) {
				defer wg.Done()
				defer func() {
					r.mu.Lock()
					delete(r.running, id)
					r.mu.Unlock()
				}()
				r.retryTower(ctx, id)
			}(towerID)
		}
	}
}

// retryTower is one retry task's body, per spec.md §4.7 steps 1-4.
func (r *Retrier) retryTower(ctx context.Context, towerID wtdb.ID) {
	start := r.clock.Now()
	interval := time.Second

	for {
		summary, ok := r.client.Tower(towerID)
		if !ok {
			log.Warnf("retrier for %s exiting: tower no longer known", towerID)
			return
		}

		// A dispatch flipping the tower to Misbehaving mid-retry wins
		// immediately: the state is already terminal and correct.
		if summary.Status == wtdb.StatusMisbehaving {
			log.Debugf("retrier for %s exiting: tower is misbehaving", towerID)
			return
		}

		// Deferred abandonment, per spec.md §4.4 / §9 DESIGN NOTES:
		// checked between attempts, never mid-request.
		if summary.Abandoned {
			log.Infof("retrier for %s finalizing deferred abandonment", towerID)
			if err := r.client.RemoveTower(towerID); err != nil {
				log.Errorf("failed to finalize abandonment of %s: %v", towerID, err)
			}
			return
		}

		locators, err := r.client.Store.LoadAppointmentLocators(towerID, wtdb.Pending)
		if err != nil {
			log.Errorf("retrier for %s: failed to load pending appointments: %v", towerID, err)
			return
		}

		if len(locators) == 0 {
			log.Infof("retrier for %s succeeded: no pending appointments remain", towerID)
			r.client.SetStatus(towerID, wtdb.StatusReachable)
			return
		}

		info, err := r.client.Store.LoadTowerRecord(towerID)
		if err != nil {
			log.Errorf("retrier for %s: failed to load tower record: %v", towerID, err)
			return
		}

		hitRetryableFailure := false
		for _, appt := range info.PendingAppointments {
			if ctx.Err() != nil {
				return
			}

			sig, err := r.sign(appt)
			if err != nil {
				log.Errorf("retrier for %s: failed to sign appointment %s: %v", towerID, appt.Locator, err)
				continue
			}

			outcome := r.sender.AddAppointment(ctx, summary.NetAddr, towerID, appt, sig)
			delivered, outcomeErr := wtclient.HandleAddAppointmentOutcome(r.client, towerID, appt, outcome)
			if outcomeErr != nil {
				log.Debugf("retrier for %s: %v", towerID, outcomeErr)
			}
			if delivered {
				if err := r.client.RemovePendingAppointment(towerID, appt.Locator); err != nil {
					log.Errorf("retrier for %s: failed to clear delivered appointment %s: %v",
						towerID, appt.Locator, err)
				}
				continue
			}

			// Any other outcome is terminal for this appointment: an API
			// rejection (which HandleAddAppointmentOutcome recorded as
			// invalid), a malformed response, or a receipt that failed
			// verification. Drop the pending reference and keep working
			// through the rest; the latter two leave no invalid record.
			if !isRetryableOutcome(outcome) {
				if err := r.client.RemovePendingAppointment(towerID, appt.Locator); err != nil {
					log.Errorf("retrier for %s: failed to clear rejected appointment %s: %v",
						towerID, appt.Locator, err)
				}
				continue
			}

			// Connection or subscription trouble reflects the tower as a
			// whole, not this one appointment: stop this pass, back off,
			// and let the next iteration's status check react to
			// whatever HandleAddAppointmentOutcome just set.
			hitRetryableFailure = true
			break
		}

		if !hitRetryableFailure {
			continue
		}

		if r.clock.Now().Sub(start) >= r.maxElapsedTime {
			log.Warnf("retrier for %s giving up after exceeding max elapsed time", towerID)
			r.client.SetStatus(towerID, wtdb.StatusUnreachable)
			return
		}

		r.clock.Sleep(ctx, interval)
		interval *= 2
		if interval > r.maxRetryInterval {
			interval = r.maxRetryInterval
		}
	}
}

func (r *Retrier) sign(appt wtdb.Appointment) ([]byte, error) {
	return cryptography.Sign(appt.ToBytes(), r.client.UserSK)
}

// isRetryableOutcome reports whether an outcome leaves the appointment
// parked for another attempt (connection failure, subscription error) as
// opposed to a terminal per-appointment resolution (delivered, or rejected
// as invalid).
func isRetryableOutcome(outcome wtclient.AddAppointmentOutcome) bool {
	switch outcome.Kind {
	case wthttp.KindConnectionError:
		return true
	case wthttp.KindAPIError:
		return outcome.APIErr.ErrorCode == wthttp.ErrCodeInvalidSignatureOrSubscription
	default:
		return false
	}
}
