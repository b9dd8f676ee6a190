package rpcplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []response {
	t.Helper()
	var out []response
	dec := json.NewDecoder(buf)
	for dec.More() {
		var r response
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		out = append(out, r)
	}
	return out
}

func TestPluginManifestListsRegisteredSurface(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"getmanifest"}` + "\n")

	p := NewPlugin(in, &out)
	p.Option("watchtower-port", 9814, "tower API port")
	p.RPCMethod("listtowers", "Lists all registered towers.", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]any{}, nil
	})
	p.Hook("commitment_revocation", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, nil
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	resps := decodeLines(t, &out)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}

	manifest, ok := resps[0].Result.(map[string]any)
	if !ok {
		t.Fatalf("result is not a manifest object: %#v", resps[0].Result)
	}
	if _, ok := manifest["rpcmethods"]; !ok {
		t.Fatal("manifest missing rpcmethods")
	}
	if _, ok := manifest["hooks"]; !ok {
		t.Fatal("manifest missing hooks")
	}
}

func TestPluginDispatchesRegisteredMethod(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"listtowers","params":[]}` + "\n")

	p := NewPlugin(in, &out)
	called := false
	p.RPCMethod("listtowers", "", func(ctx context.Context, params json.RawMessage) (any, error) {
		called = true
		return map[string]string{"ok": "yes"}, nil
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !called {
		t.Fatal("handler was not invoked")
	}

	resps := decodeLines(t, &out)
	if len(resps) != 1 || resps[0].Error != nil {
		t.Fatalf("unexpected response: %#v", resps)
	}
}

func TestPluginHookAlwaysReplyContinueEvenOnHandlerError(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":3,"method":"commitment_revocation","params":{}}` + "\n")

	p := NewPlugin(in, &out)
	p.Hook("commitment_revocation", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errTestHook
	})

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	resps := decodeLines(t, &out)
	if len(resps) != 1 {
		t.Fatalf("got %d responses, want 1", len(resps))
	}
	if resps[0].Error != nil {
		t.Fatalf("hook reply must never be an error, got %+v", resps[0].Error)
	}
	result, ok := resps[0].Result.(map[string]any)
	if !ok || result["result"] != "continue" {
		t.Fatalf("expected {result: continue}, got %#v", resps[0].Result)
	}
}

func TestPluginUnknownMethodReturnsError(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":4,"method":"nosuchmethod"}` + "\n")

	p := NewPlugin(in, &out)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	resps := decodeLines(t, &out)
	if len(resps) != 1 || resps[0].Error == nil {
		t.Fatalf("expected an error response for an unknown method, got %#v", resps)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTestHook = testError("boom")
