package rpcplugin

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrwtclient/wtdb"
)

// parsePositionalOrNamed decodes params as either a JSON array (positional
// arguments, in the order given) or a JSON object (named arguments),
// mirroring how a plugin host may invoke an rpcmethod either way. names
// gives the positional-to-field-name mapping used when params is an array.
func parsePositionalOrNamed(params json.RawMessage, names []string) (map[string]json.RawMessage, error) {
	if len(params) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(params, &arr); err == nil {
		out := make(map[string]json.RawMessage, len(arr))
		for i, v := range arr {
			if i >= len(names) {
				return nil, fmt.Errorf("too many positional arguments")
			}
			out[names[i]] = v
		}
		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(params, &obj); err != nil {
		return nil, fmt.Errorf("params must be an array or object: %w", err)
	}
	return obj, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// RegisterParams is the decoded form of the register command's arguments.
// Accepted tower identity formats, per main.rs::register:
//
//	tower_id@host:port
//	tower_id host port
//	tower_id@host       (port defaults to the configured watchtower-port)
//	tower_id host       (port defaults to the configured watchtower-port)
type RegisterParams struct {
	TowerID wtdb.ID
	Host    string
	Port    uint16 // zero means "use the configured default"
}

// ParseRegisterParams decodes and validates the register command's raw
// JSON params.
func ParseRegisterParams(params json.RawMessage) (RegisterParams, error) {
	fields, err := parsePositionalOrNamed(params, []string{"tower_id", "host", "port"})
	if err != nil {
		return RegisterParams{}, err
	}

	first, ok := stringField(fields, "tower_id")
	if !ok {
		return RegisterParams{}, fmt.Errorf("missing tower_id")
	}

	var out RegisterParams
	if idPart, hostPart, found := strings.Cut(first, "@"); found {
		id, err := wtdb.ParseID(idPart)
		if err != nil {
			return RegisterParams{}, err
		}
		out.TowerID = id

		hostOnly, portStr, hasPort := strings.Cut(hostPart, ":")
		out.Host = hostOnly
		if hasPort {
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				return RegisterParams{}, fmt.Errorf("invalid port %q: %w", portStr, err)
			}
			out.Port = uint16(port)
		}
	} else {
		id, err := wtdb.ParseID(first)
		if err != nil {
			return RegisterParams{}, err
		}
		out.TowerID = id
	}

	if host, ok := stringField(fields, "host"); ok && host != "" {
		out.Host = host
	}
	if portRaw, ok := fields["port"]; ok {
		var port uint16
		if err := json.Unmarshal(portRaw, &port); err != nil {
			return RegisterParams{}, fmt.Errorf("invalid port: %w", err)
		}
		out.Port = port
	}

	if out.Host == "" {
		out.Host = "localhost"
	}

	return out, nil
}

// ParseTowerIDParams decodes the single-argument commands (get_tower_info,
// retry_tower, abandon_tower, get_registration_receipt): a bare tower id,
// either positional or named.
func ParseTowerIDParams(params json.RawMessage) (wtdb.ID, error) {
	fields, err := parsePositionalOrNamed(params, []string{"tower_id"})
	if err != nil {
		return wtdb.ID{}, err
	}
	s, ok := stringField(fields, "tower_id")
	if !ok {
		return wtdb.ID{}, fmt.Errorf("missing tower_id")
	}
	return wtdb.ParseID(s)
}

// GetAppointmentParams is the decoded form of get_appointment and
// get_appointment_receipt's shared argument shape: a tower id and a
// locator.
type GetAppointmentParams struct {
	TowerID wtdb.ID
	Locator wtdb.Locator
}

// ParseGetAppointmentParams decodes and validates params shared by
// get_appointment and get_appointment_receipt.
func ParseGetAppointmentParams(params json.RawMessage) (GetAppointmentParams, error) {
	fields, err := parsePositionalOrNamed(params, []string{"tower_id", "locator"})
	if err != nil {
		return GetAppointmentParams{}, err
	}

	towerIDStr, ok := stringField(fields, "tower_id")
	if !ok {
		return GetAppointmentParams{}, fmt.Errorf("missing tower_id")
	}
	towerID, err := wtdb.ParseID(towerIDStr)
	if err != nil {
		return GetAppointmentParams{}, err
	}

	locatorStr, ok := stringField(fields, "locator")
	if !ok {
		return GetAppointmentParams{}, fmt.Errorf("missing locator")
	}
	locBytes, err := hex.DecodeString(locatorStr)
	if err != nil {
		return GetAppointmentParams{}, fmt.Errorf("invalid locator %q: %w", locatorStr, err)
	}
	if len(locBytes) != len(wtdb.Locator{}) {
		return GetAppointmentParams{}, fmt.Errorf("locator must be %d bytes, got %d", len(wtdb.Locator{}), len(locBytes))
	}
	var loc wtdb.Locator
	copy(loc[:], locBytes)

	return GetAppointmentParams{TowerID: towerID, Locator: loc}, nil
}

// CommitmentRevocation is the commitment_revocation hook's payload, per
// spec.md §6.
type CommitmentRevocation struct {
	CommitmentTxid string `json:"commitment_txid"`
	PenaltyTx      string `json:"penalty_tx"`
	CommitNum      uint64 `json:"commit_num"`
	ChannelID      string `json:"channel_id"`
}

// Decode parses the hex-encoded fields into their binary form.
func (c CommitmentRevocation) Decode() (commitmentTxid [32]byte, penaltyTx []byte, err error) {
	txidBytes, err := hex.DecodeString(c.CommitmentTxid)
	if err != nil {
		return commitmentTxid, nil, fmt.Errorf("invalid commitment_txid: %w", err)
	}
	if len(txidBytes) != 32 {
		return commitmentTxid, nil, fmt.Errorf("commitment_txid must be 32 bytes, got %d", len(txidBytes))
	}
	copy(commitmentTxid[:], txidBytes)

	penaltyTx, err = hex.DecodeString(c.PenaltyTx)
	if err != nil {
		return commitmentTxid, nil, fmt.Errorf("invalid penalty_tx: %w", err)
	}
	return commitmentTxid, penaltyTx, nil
}
