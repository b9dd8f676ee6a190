package rpcplugin

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/decred/dcrwtclient/cryptography"
	"github.com/decred/dcrwtclient/wtdb"
)

func randID(t *testing.T) wtdb.ID {
	t.Helper()
	_, pk, err := cryptography.GenKeypair()
	if err != nil {
		t.Fatalf("GenKeypair: %v", err)
	}
	return wtdb.ID(pk)
}

func TestParseRegisterParamsAddressForms(t *testing.T) {
	towerID := randID(t)

	cases := []struct {
		name     string
		params   string
		wantHost string
		wantPort uint16
	}{
		{
			name:     "id@host:port",
			params:   `["` + towerID.String() + `@example.com:9735"]`,
			wantHost: "example.com",
			wantPort: 9735,
		},
		{
			name:     "id host port positional",
			params:   `["` + towerID.String() + `", "example.com", 9735]`,
			wantHost: "example.com",
			wantPort: 9735,
		},
		{
			name:     "id@host default port",
			params:   `["` + towerID.String() + `@example.com"]`,
			wantHost: "example.com",
			wantPort: 0,
		},
		{
			name:     "id host default port",
			params:   `["` + towerID.String() + `", "example.com"]`,
			wantHost: "example.com",
			wantPort: 0,
		},
		{
			name:     "bare id defaults to localhost",
			params:   `["` + towerID.String() + `"]`,
			wantHost: "localhost",
			wantPort: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRegisterParams(json.RawMessage(tc.params))
			if err != nil {
				t.Fatalf("ParseRegisterParams: %v", err)
			}
			if got.TowerID != towerID {
				t.Fatalf("tower id = %s, want %s", got.TowerID, towerID)
			}
			if got.Host != tc.wantHost {
				t.Fatalf("host = %q, want %q", got.Host, tc.wantHost)
			}
			if got.Port != tc.wantPort {
				t.Fatalf("port = %d, want %d", got.Port, tc.wantPort)
			}
		})
	}
}

func TestParseRegisterParamsNamedObject(t *testing.T) {
	towerID := randID(t)
	params := json.RawMessage(`{"tower_id":"` + towerID.String() + `","host":"tower.example","port":9814}`)

	got, err := ParseRegisterParams(params)
	if err != nil {
		t.Fatalf("ParseRegisterParams: %v", err)
	}
	if got.Host != "tower.example" || got.Port != 9814 {
		t.Fatalf("got %+v", got)
	}
}

func TestParseRegisterParamsRejectsBadID(t *testing.T) {
	if _, err := ParseRegisterParams(json.RawMessage(`["not-a-valid-id@example.com"]`)); err == nil {
		t.Fatal("expected an error for a malformed tower id")
	}
}

func TestParseGetAppointmentParams(t *testing.T) {
	towerID := randID(t)
	var locBytes [16]byte
	rand.Read(locBytes[:])
	locHex := hex.EncodeToString(locBytes[:])

	params := json.RawMessage(`["` + towerID.String() + `", "` + locHex + `"]`)
	got, err := ParseGetAppointmentParams(params)
	if err != nil {
		t.Fatalf("ParseGetAppointmentParams: %v", err)
	}
	if got.TowerID != towerID {
		t.Fatalf("tower id mismatch")
	}
	if hex.EncodeToString(got.Locator[:]) != locHex {
		t.Fatalf("locator mismatch: got %s, want %s", got.Locator, locHex)
	}
}

func TestParseGetAppointmentParamsRejectsWrongLocatorLength(t *testing.T) {
	towerID := randID(t)
	params := json.RawMessage(`["` + towerID.String() + `", "aabb"]`)
	if _, err := ParseGetAppointmentParams(params); err == nil {
		t.Fatal("expected an error for a short locator")
	}
}

func TestCommitmentRevocationDecode(t *testing.T) {
	var txid [32]byte
	rand.Read(txid[:])
	penalty := []byte{0x01, 0x02, 0x03}

	cr := CommitmentRevocation{
		CommitmentTxid: hex.EncodeToString(txid[:]),
		PenaltyTx:      hex.EncodeToString(penalty),
		CommitNum:      7,
		ChannelID:      "deadbeef",
	}

	gotTxid, gotPenalty, err := cr.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if gotTxid != txid {
		t.Fatalf("txid mismatch")
	}
	if hex.EncodeToString(gotPenalty) != hex.EncodeToString(penalty) {
		t.Fatalf("penalty tx mismatch")
	}
}
