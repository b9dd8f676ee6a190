package rpcplugin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrwtclient/config"
	"github.com/decred/dcrwtclient/cryptography"
	"github.com/decred/dcrwtclient/wtclient"
	"github.com/decred/dcrwtclient/wtdb"
	"github.com/decred/dcrwtclient/wthttp"
)

// Service binds the operator command and hook handlers to a running
// client, HTTP transport, and configuration. Register wires every handler
// onto a Plugin via RegisterAll.
type Service struct {
	Client *wtclient.Client
	HTTP   *wthttp.Client
	Sender wtclient.Sender
	Cfg    config.Config
}

// RegisterAll wires every operator command and the commitment_revocation
// hook onto p, matching the Builder chain in main.rs's main().
func (s *Service) RegisterAll(p *Plugin) {
	p.Option("watchtower-port", int(config.DefaultWatchtowerPort), "tower API port")
	p.Option("watchtower-max-retry-time", int(config.DefaultMaxRetryTime.Seconds()),
		"the time (in seconds) after which the retrier gives up on a temporarily unreachable tower")
	p.Option("dev-watchtower-max-retry-interval", int(config.DefaultMaxRetryInterval.Seconds()),
		"the maximum time (in seconds) between retry attempts")

	p.RPCMethod("registertower", "Registers the client's public key (user id) with the tower.", s.Register)
	p.RPCMethod("getregistrationreceipt", "Gets the latest registration receipt for a tower.", s.GetRegistrationReceipt)
	p.RPCMethod("getappointment", "Gets appointment data from the tower given the tower id and locator.", s.GetAppointment)
	p.RPCMethod("getappointmentreceipt", "Gets a locally stored appointment receipt given a tower id and locator.", s.GetAppointmentReceipt)
	p.RPCMethod("listtowers", "Lists all registered towers.", s.ListTowers)
	p.RPCMethod("gettowerinfo", "Shows the full on-disk info about a given tower.", s.GetTowerInfo)
	p.RPCMethod("retrytower", "Retries sending pending appointments to an unreachable tower.", s.RetryTower)
	p.RPCMethod("abandontower", "Forgets about a tower and wipes all local data.", s.AbandonTower)

	p.Hook("commitment_revocation", s.OnCommitmentRevocation)

	p.OnInit(s.applyInitOptions)
}

// applyInitOptions overrides the configured defaults with whatever the host
// negotiated at init time, matching main.rs reading plugin.option(...)
// after Builder::start() returns.
func (s *Service) applyInitOptions(options map[string]json.RawMessage) error {
	if raw, ok := options["watchtower-port"]; ok {
		var port uint16
		if err := json.Unmarshal(raw, &port); err != nil {
			return fmt.Errorf("invalid watchtower-port option: %w", err)
		}
		s.Cfg.WatchtowerPort = port
	}
	if raw, ok := options["watchtower-max-retry-time"]; ok {
		var seconds int64
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return fmt.Errorf("invalid watchtower-max-retry-time option: %w", err)
		}
		s.Cfg.MaxRetryTime = time.Duration(seconds) * time.Second
	}
	if raw, ok := options["dev-watchtower-max-retry-interval"]; ok {
		var seconds int64
		if err := json.Unmarshal(raw, &seconds); err != nil {
			return fmt.Errorf("invalid dev-watchtower-max-retry-interval option: %w", err)
		}
		s.Cfg.MaxRetryInterval = time.Duration(seconds) * time.Second
	}
	return nil
}

func towerNetAddr(host string, port uint16) string {
	addr := fmt.Sprintf("%s:%d", host, port)
	return "http://" + addr
}

// registrationReceiptWire is the JSON shape a registration receipt is
// reported in, matching the tower's own RegisterResponse field names.
type registrationReceiptWire struct {
	AvailableSlots        uint32 `json:"available_slots"`
	SubscriptionStart     uint32 `json:"subscription_start"`
	SubscriptionExpiry    uint32 `json:"subscription_expiry"`
	SubscriptionSignature string `json:"subscription_signature"`
}

// Register implements registertower.
func (s *Service) Register(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := ParseRegisterParams(raw)
	if err != nil {
		return nil, err
	}

	port := params.Port
	if port == 0 {
		port = s.Cfg.WatchtowerPort
	}
	netAddr := towerNetAddr(params.Host, port)

	log.Infof("registering in the eye of satoshi (tower_id=%s)", params.TowerID)

	resp := wthttp.Post[wthttp.RegisterResponse](ctx, s.HTTP, netAddr+"/register", wthttp.RegisterRequest{
		UserID: s.Client.UserID[:],
	})
	switch resp.Kind {
	case wthttp.KindConnectionError:
		s.Client.SetStatus(params.TowerID, wtdb.StatusTemporaryUnreachable)
		return nil, fmt.Errorf("connection error registering with %s: %v", params.TowerID, resp.Err)
	case wthttp.KindAPIError:
		return nil, fmt.Errorf("tower %s rejected registration: %s", params.TowerID, resp.APIErr.Error)
	case wthttp.KindDeserializeError:
		return nil, fmt.Errorf("malformed registration response from %s: %v", params.TowerID, resp.Err)
	}

	receipt := wtdb.RegistrationReceipt{
		UserID:             s.Client.UserID,
		AvailableSlots:     resp.Body.AvailableSlots,
		SubscriptionStart:  resp.Body.SubscriptionStart,
		SubscriptionExpiry: resp.Body.SubscriptionExpiry,
		Signature:          resp.Body.SubscriptionSignature,
	}

	if !receipt.Verify(params.TowerID) {
		return nil, fmt.Errorf("registration receipt contains a bad signature, are you using the right tower_id?")
	}

	if err := s.Client.AddUpdateTower(params.TowerID, netAddr, receipt); err != nil {
		if errors.Is(err, wtdb.ErrSubscriptionDowngrade) {
			return nil, fmt.Errorf("registration receipt does not improve on the subscription we already have for %s", params.TowerID)
		}
		return nil, err
	}

	log.Infof("registration succeeded for %s, available slots: %d, subscription period: (%d-%d)",
		params.TowerID, receipt.AvailableSlots, receipt.SubscriptionStart, receipt.SubscriptionExpiry)

	return registrationReceiptWire{
		AvailableSlots:        receipt.AvailableSlots,
		SubscriptionStart:     receipt.SubscriptionStart,
		SubscriptionExpiry:    receipt.SubscriptionExpiry,
		SubscriptionSignature: hex.EncodeToString(receipt.Signature),
	}, nil
}

// GetRegistrationReceipt implements getregistrationreceipt.
func (s *Service) GetRegistrationReceipt(ctx context.Context, raw json.RawMessage) (any, error) {
	towerID, err := ParseTowerIDParams(raw)
	if err != nil {
		return nil, err
	}

	receipt, err := s.Client.GetRegistrationReceipt(towerID)
	if err != nil {
		return nil, fmt.Errorf("cannot find %s within the known towers, have you registered?", towerID)
	}

	return registrationReceiptWire{
		AvailableSlots:        receipt.AvailableSlots,
		SubscriptionStart:     receipt.SubscriptionStart,
		SubscriptionExpiry:    receipt.SubscriptionExpiry,
		SubscriptionSignature: hex.EncodeToString(receipt.Signature),
	}, nil
}

// GetAppointment implements getappointment: a live query to the tower,
// signed with the literal-string convention main.rs/wt_client.rs use
// ("get appointment " + locator), carried over since spec.md §6 is silent
// on this particular request's signing contract.
func (s *Service) GetAppointment(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := ParseGetAppointmentParams(raw)
	if err != nil {
		return nil, err
	}

	summary, ok := s.Client.Tower(params.TowerID)
	if !ok {
		return nil, fmt.Errorf("unknown tower id: %s", params.TowerID)
	}

	sig, err := cryptography.Sign([]byte("get appointment "+params.Locator.String()), s.Client.UserSK)
	if err != nil {
		return nil, err
	}

	resp := wthttp.Post[wthttp.GetAppointmentResponse](ctx, s.HTTP, summary.NetAddr+"/get_appointment", wthttp.GetAppointmentRequest{
		Locator:   params.Locator[:],
		Signature: sig,
	})
	switch resp.Kind {
	case wthttp.KindConnectionError:
		s.Client.SetStatus(params.TowerID, wtdb.StatusTemporaryUnreachable)
		return nil, fmt.Errorf("connection error fetching appointment from %s: %v", params.TowerID, resp.Err)
	case wthttp.KindAPIError:
		return nil, fmt.Errorf("tower %s rejected get_appointment: %s", params.TowerID, resp.APIErr.Error)
	case wthttp.KindDeserializeError:
		return nil, fmt.Errorf("malformed get_appointment response from %s: %v", params.TowerID, resp.Err)
	}

	return map[string]any{
		"locator":        hex.EncodeToString(resp.Body.Locator),
		"encrypted_blob": hex.EncodeToString(resp.Body.EncryptedBlob),
		"status":         resp.Body.Status,
	}, nil
}

// GetAppointmentReceipt implements getappointmentreceipt, a local lookup.
func (s *Service) GetAppointmentReceipt(ctx context.Context, raw json.RawMessage) (any, error) {
	params, err := ParseGetAppointmentParams(raw)
	if err != nil {
		return nil, err
	}

	sig, err := s.Client.GetAppointmentReceipt(params.TowerID, params.Locator)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"locator":         params.Locator.String(),
		"tower_signature": hex.EncodeToString(sig),
	}, nil
}

// ListTowers implements listtowers: the in-memory, summarized view.
func (s *Service) ListTowers(ctx context.Context, raw json.RawMessage) (any, error) {
	out := make(map[string]any)
	for id, t := range s.Client.ListTowers() {
		out[id.String()] = towerSummaryWire(t)
	}
	return out, nil
}

func towerSummaryWire(t wtdb.TowerSummary) map[string]any {
	pending := make([]string, 0, len(t.PendingAppointments))
	for loc := range t.PendingAppointments {
		pending = append(pending, loc.String())
	}
	invalid := make([]string, 0, len(t.InvalidAppointments))
	for loc := range t.InvalidAppointments {
		invalid = append(invalid, loc.String())
	}

	return map[string]any{
		"net_addr":             t.NetAddr,
		"available_slots":      t.AvailableSlots,
		"subscription_expiry":  t.SubscriptionExpiry,
		"status":               t.Status.String(),
		"pending_appointments": pending,
		"invalid_appointments": invalid,
	}
}

// GetTowerInfo implements gettowerinfo: the full on-disk view, with status
// patched in from memory (main.rs::get_tower_info's comment: the store
// cannot distinguish Reachable from TemporaryUnreachable on its own).
func (s *Service) GetTowerInfo(ctx context.Context, raw json.RawMessage) (any, error) {
	towerID, err := ParseTowerIDParams(raw)
	if err != nil {
		return nil, err
	}

	info, err := s.Client.GetTowerInfo(towerID)
	if err != nil {
		return nil, fmt.Errorf("cannot find %s within the known towers, have you registered?", towerID)
	}

	appointments := make(map[string]string, len(info.Appointments))
	for loc, sig := range info.Appointments {
		appointments[loc.String()] = hex.EncodeToString(sig)
	}
	pending := make([]string, 0, len(info.PendingAppointments))
	for _, appt := range info.PendingAppointments {
		pending = append(pending, appt.Locator.String())
	}
	invalid := make([]string, 0, len(info.InvalidAppointments))
	for _, appt := range info.InvalidAppointments {
		invalid = append(invalid, appt.Locator.String())
	}

	out := map[string]any{
		"net_addr":             info.NetAddr,
		"available_slots":      info.AvailableSlots,
		"subscription_expiry":  info.SubscriptionExpiry,
		"status":               info.Status.String(),
		"appointments":         appointments,
		"pending_appointments": pending,
		"invalid_appointments": invalid,
	}
	if info.MisbehaviorProof != nil {
		out["misbehavior_proof"] = map[string]string{
			"locator":            info.MisbehaviorProof.Locator.String(),
			"recovered_tower_id": info.MisbehaviorProof.RecoveredTowerID.String(),
		}
	}
	return out, nil
}

// RetryTower implements retrytower.
func (s *Service) RetryTower(ctx context.Context, raw json.RawMessage) (any, error) {
	towerID, err := ParseTowerIDParams(raw)
	if err != nil {
		return nil, err
	}
	if err := s.Client.RetryTower(towerID); err != nil {
		return nil, err
	}
	return fmt.Sprintf("retrying %s", towerID), nil
}

// AbandonTower implements abandontower.
func (s *Service) AbandonTower(ctx context.Context, raw json.RawMessage) (any, error) {
	towerID, err := ParseTowerIDParams(raw)
	if err != nil {
		return nil, err
	}

	result, err := s.Client.AbandonTower(towerID)
	if err != nil {
		return nil, err
	}
	if result.Deferred {
		return fmt.Sprintf("%s is being retried, flagging it to be abandoned once the retry finishes", towerID), nil
	}
	return fmt.Sprintf("%s successfully abandoned", towerID), nil
}

// OnCommitmentRevocation implements the commitment_revocation hook: builds
// and dispatches the appointment to every registered tower. The hook reply
// is always "continue" (handled by Plugin.dispatch); this handler's error
// return is logged only, per spec.md §7 ("no error short-circuits the host
// acknowledgement of a revocation hook").
func (s *Service) OnCommitmentRevocation(ctx context.Context, raw json.RawMessage) (any, error) {
	var cr CommitmentRevocation
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("cannot decode commitment_revocation data: %w", err)
	}

	commitmentTxid, penaltyTx, err := cr.Decode()
	if err != nil {
		return nil, err
	}

	log.Debugf("new commitment revocation received for channel %s, commit number %d", cr.ChannelID, cr.CommitNum)

	_, err = wtclient.OnCommitmentRevocation(ctx, s.Client, s.Sender, wtclient.RevocationInput{
		CommitmentTxid: commitmentTxid,
		PenaltyTx:      penaltyTx,
	})
	return nil, err
}
