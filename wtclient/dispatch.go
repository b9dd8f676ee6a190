package wtclient

import (
	"context"
	"fmt"

	"github.com/decred/dcrwtclient/cryptography"
	"github.com/decred/dcrwtclient/internal/wterr"
	"github.com/decred/dcrwtclient/wtdb"
	"github.com/decred/dcrwtclient/wthttp"
)

// Sender posts an appointment to a tower and returns its classified
// outcome. wtretry uses the same Sender to re-drive pending appointments,
// so the dispatch and retry call paths stay identical per spec.md §4.7
// step 2 ("the same call path as dispatch").
type Sender interface {
	AddAppointment(ctx context.Context, netAddr string, towerID wtdb.ID, appt wtdb.Appointment, userSig []byte) AddAppointmentOutcome
}

// AddAppointmentOutcome classifies the result of one add_appointment call.
type AddAppointmentOutcome struct {
	Kind wthttp.ResponseKind

	// Populated when Kind == KindSuccess.
	AvailableSlots uint32
	Receipt        wtdb.AppointmentReceipt

	// Populated when Kind == KindAPIError.
	APIErr wthttp.ApiError

	// Populated when Kind == KindConnectionError or KindDeserializeError.
	Err error
}

// HTTPSender is the production Sender, posting over the tower HTTP API.
type HTTPSender struct {
	Client *wthttp.Client
}

// NewHTTPSender builds an HTTPSender around a fresh wthttp.Client.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{Client: wthttp.NewClient()}
}

// AddAppointment implements Sender.
func (s *HTTPSender) AddAppointment(ctx context.Context, netAddr string, towerID wtdb.ID, appt wtdb.Appointment, userSig []byte) AddAppointmentOutcome {
	_ = towerID // unused: the endpoint already targets the tower via netAddr

	req := wthttp.AddAppointmentRequest{
		Appointment: wthttp.AppointmentWire{
			Locator:       appt.Locator[:],
			EncryptedBlob: appt.EncryptedBlob,
			ToSelfDelay:   appt.ToSelfDelay,
		},
		Signature: userSig,
	}

	resp := wthttp.Post[wthttp.AddAppointmentResponse](ctx, s.Client, netAddr+"/add_appointment", req)
	switch resp.Kind {
	case wthttp.KindSuccess:
		var receipt wtdb.AppointmentReceipt
		receipt.Locator = appt.Locator
		receipt.UserSignature = userSig
		receipt.StartBlock = resp.Body.StartBlock
		receipt.TowerSignature = resp.Body.Signature
		return AddAppointmentOutcome{
			Kind:           wthttp.KindSuccess,
			AvailableSlots: resp.Body.AvailableSlots,
			Receipt:        receipt,
		}
	case wthttp.KindAPIError:
		return AddAppointmentOutcome{Kind: wthttp.KindAPIError, APIErr: resp.APIErr}
	default:
		return AddAppointmentOutcome{Kind: resp.Kind, Err: resp.Err}
	}
}

// RevocationInput carries the data the host supplies over the
// commitment_revocation hook, per spec.md §6.
type RevocationInput struct {
	CommitmentTxid [32]byte
	PenaltyTx      []byte
}

// OnCommitmentRevocation is the dispatch pipeline's entry point (component
// F). It builds and signs the appointment, snapshots the tower list
// without holding the registry lock during I/O, then fans out to every
// tower, routing each outcome to the corresponding registry mutation and
// store call. It returns once every tower has been updated or queued —
// never waiting on a tower's own retry to complete — so the host hook can
// always answer "continue" immediately after this returns, per spec.md
// §4.6 and §7.
func OnCommitmentRevocation(ctx context.Context, c *Client, sender Sender, in RevocationInput) (wtdb.Appointment, error) {
	locator := wtdb.NewLocator(in.CommitmentTxid)
	blob, err := cryptography.Encrypt(in.PenaltyTx, in.CommitmentTxid)
	if err != nil {
		return wtdb.Appointment{}, err
	}

	appt := wtdb.Appointment{
		Locator:       locator,
		EncryptedBlob: blob,
		ToSelfDelay:   wtdb.ToSelfDelaySentinel,
	}

	sig, err := cryptography.Sign(appt.ToBytes(), c.UserSK)
	if err != nil {
		return wtdb.Appointment{}, err
	}

	for _, snap := range c.Snapshot() {
		dispatchToTower(ctx, c, sender, snap, appt, sig)
	}

	return appt, nil
}

// dispatchToTower routes one tower's classified outcome to the
// corresponding state transition and persistence call, per spec.md §4.6
// step 4.
func dispatchToTower(ctx context.Context, c *Client, sender Sender, snap TowerSnapshot, appt wtdb.Appointment, sig []byte) {
	switch {
	case snap.Status.IsReachable():
		outcome := sender.AddAppointment(ctx, snap.NetAddr, snap.TowerID, appt, sig)
		if _, err := HandleAddAppointmentOutcome(c, snap.TowerID, appt, outcome); err != nil {
			log.Errorf("%s: %v", snap.TowerID, err)
		}

	case snap.Status.IsTerminal():
		log.Debugf("%s is %s, skipping", snap.TowerID, snap.Status)

	default:
		// TemporaryUnreachable, Unreachable, or SubscriptionError: no
		// network call, just park the appointment for the retrier.
		log.Warnf("%s is %s, adding appointment to pending", snap.TowerID, snap.Status)
		if err := c.AddPendingAppointment(snap.TowerID, appt); err != nil {
			log.Errorf("failed to persist pending appointment for %s: %v", snap.TowerID, err)
		}
	}
}

// HandleAddAppointmentOutcome applies the registry/store transition implied
// by one add_appointment outcome. Shared between the dispatch pipeline and
// the retry engine so both call paths classify identically. An error that
// classifies the tower's response (misbehavior, connection, subscription,
// rejection, protocol violation) wraps the matching wterr sentinel so
// callers can classify it with errors.Is; a failure to persist the receipt
// and a receipt signature from which no key can be recovered are returned
// without a sentinel.
func HandleAddAppointmentOutcome(c *Client, towerID wtdb.ID, appt wtdb.Appointment, outcome AddAppointmentOutcome) (delivered bool, err error) {
	switch outcome.Kind {
	case wthttp.KindSuccess:
		if !outcome.Receipt.Verify(towerID) {
			recovered, err := outcome.Receipt.RecoveredSigner()
			if err != nil {
				return false, fmt.Errorf("%s returned an unverifiable receipt signature: %w", towerID, err)
			}
			proof := wtdb.MisbehaviorProof{
				Locator:            appt.Locator,
				AppointmentReceipt: outcome.Receipt,
				RecoveredTowerID:   recovered,
			}
			if err := c.FlagMisbehavingTower(towerID, proof); err != nil {
				log.Errorf("failed to persist misbehavior proof for %s: %v", towerID, err)
			}
			return false, fmt.Errorf("%w: %s misbehaved, receipt for %s recovers to %s, not the advertised id",
				wterr.Misbehavior, towerID, appt.Locator, recovered)
		}

		if err := c.AddAppointmentReceipt(towerID, appt.Locator, outcome.AvailableSlots, outcome.Receipt); err != nil {
			return false, fmt.Errorf("failed to persist appointment receipt for %s: %w", towerID, err)
		}
		log.Debugf("response verified and data stored for %s", towerID)
		return true, nil

	case wthttp.KindConnectionError:
		log.Warnf("%s cannot be reached, adding %s to pending appointments", towerID, appt.Locator)
		c.SetStatus(towerID, wtdb.StatusTemporaryUnreachable)
		if err := c.AddPendingAppointment(towerID, appt); err != nil {
			log.Errorf("failed to persist pending appointment for %s: %v", towerID, err)
		}
		return false, fmt.Errorf("%w: %s: %v", wterr.Connection, towerID, outcome.Err)

	case wthttp.KindAPIError:
		if outcome.APIErr.ErrorCode == wthttp.ErrCodeInvalidSignatureOrSubscription {
			c.SetStatus(towerID, wtdb.StatusSubscriptionError)
			if err := c.AddPendingAppointment(towerID, appt); err != nil {
				log.Errorf("failed to persist pending appointment for %s: %v", towerID, err)
			}
			return false, fmt.Errorf("%w: there is a subscription issue with %s", wterr.Subscription, towerID)
		}

		if err := c.AddInvalidAppointment(towerID, appt); err != nil {
			log.Errorf("failed to persist invalid appointment for %s: %v", towerID, err)
		}
		return false, fmt.Errorf("%w: %s rejected the appointment: %s (code %d)",
			wterr.AppointmentRejected, towerID, outcome.APIErr.Error, outcome.APIErr.ErrorCode)

	default:
		// KindDeserializeError: a protocol violation. Fatal for this
		// call, no retry, per spec.md §4.5/§7.
		return false, fmt.Errorf("%w: malformed response from %s: %v", wterr.ProtocolViolation, towerID, outcome.Err)
	}
}
