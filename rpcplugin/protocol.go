// Package rpcplugin implements the watchtower client's host-facing
// surface: a line-delimited JSON-RPC protocol over stdio (spec.md §6),
// the manifest/init handshake a plugin host expects before dispatching
// any method, and the eight operator commands plus the
// commitment_revocation hook of spec.md §4.8. Grounded on
// original_source/watchtower-plugin/src/main.rs's use of the cln_plugin
// crate's Builder, reimplemented here directly over encoding/json since
// no library in the pack provides a line-delimited JSON-RPC plugin
// transport.
package rpcplugin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/decred/slog"
)

// log is the rpcplugin subsystem logger. It is a no-op until UseLogger is
// called by the binary wiring the client together.
var log = slog.Disabled

// UseLogger sets the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// request is one line of the host's JSON-RPC stream: either a method call
// expecting a reply (register, list_towers, ...) or a hook invocation
// (commitment_revocation), both replied to the same way.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is the line written back for a given request id.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HandlerFunc answers one rpcmethod or hook call. params is the raw JSON
// value from the request; the returned value is marshaled as the
// response's result.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// methodSpec pairs a handler with the one-line description surfaced in the
// plugin manifest, matching Builder::rpcmethod's (name, description,
// handler) triple in main.rs.
type methodSpec struct {
	description string
	handler     HandlerFunc
}

// Plugin drives the line-delimited JSON-RPC loop: reading requests from
// in, dispatching to registered methods and hooks, and writing responses
// to out. Exactly one Plugin owns out for the life of the process — stdout
// must never receive anything but well-formed response lines (internal/build
// routes all logging to stderr for the same reason).
type Plugin struct {
	mu      sync.Mutex
	methods map[string]methodSpec
	hooks   map[string]methodSpec
	options map[string]optionSpec

	in  *bufio.Scanner
	out io.Writer

	onInit func(options map[string]json.RawMessage) error
}

type optionSpec struct {
	defaultValue any
	description  string
}

// NewPlugin builds a Plugin reading line-delimited requests from in and
// writing responses to out. Scanner buffer is enlarged beyond bufio's 64KiB
// default since a penalty transaction's hex encoding can exceed it.
func NewPlugin(in io.Reader, out io.Writer) *Plugin {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &Plugin{
		methods: make(map[string]methodSpec),
		hooks:   make(map[string]methodSpec),
		options: make(map[string]optionSpec),
		in:      scanner,
		out:     out,
	}
}

// Option registers a host-configurable option, surfaced in the manifest.
func (p *Plugin) Option(name string, defaultValue any, description string) {
	p.options[name] = optionSpec{defaultValue: defaultValue, description: description}
}

// OnInit registers a callback invoked once, when the host's init request
// arrives, with the negotiated option values. Options the host left at
// their manifest default are still present, keyed by name.
func (p *Plugin) OnInit(f func(options map[string]json.RawMessage) error) {
	p.onInit = f
}

// RPCMethod registers an operator command.
func (p *Plugin) RPCMethod(name, description string, handler HandlerFunc) {
	p.methods[name] = methodSpec{description: description, handler: handler}
}

// Hook registers a host hook. Unlike an rpcmethod, a hook's reply is a
// fixed control verdict ("continue") rather than arbitrary data: the
// handler's result is discarded and a returned error is only logged.
func (p *Plugin) Hook(name string, handler HandlerFunc) {
	p.hooks[name] = methodSpec{handler: handler}
}

// Run drives the read-dispatch-write loop until the input stream closes or
// ctx is canceled. Each request is handled synchronously and in arrival
// order: spec.md §5 only requires the dispatch pipeline itself to avoid
// blocking on a single tower's retry, not the RPC loop to be concurrent.
func (p *Plugin) Run(ctx context.Context) error {
	for p.in.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := p.in.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			log.Errorf("malformed request line, ignoring: %v", err)
			continue
		}

		p.dispatch(ctx, req)
	}
	if err := p.in.Err(); err != nil {
		return fmt.Errorf("rpcplugin: read loop: %w", err)
	}
	return nil
}

func (p *Plugin) dispatch(ctx context.Context, req request) {
	switch req.Method {
	case "getmanifest":
		p.reply(req.ID, p.manifest(), nil)
		return
	case "init":
		p.handleInit(req.ID, req.Params)
		return
	}

	if spec, ok := p.methods[req.Method]; ok {
		result, err := spec.handler(ctx, req.Params)
		p.reply(req.ID, result, err)
		return
	}

	if spec, ok := p.hooks[req.Method]; ok {
		// Hooks always answer "continue": spec.md §6/§7 — no error
		// short-circuits the host's acknowledgement of a revocation.
		// The handler still runs for its side effects (queuing
		// appointments) and is only logged on failure.
		if _, err := spec.handler(ctx, req.Params); err != nil {
			log.Errorf("hook %s failed: %v", req.Method, err)
		}
		p.reply(req.ID, map[string]string{"result": "continue"}, nil)
		return
	}

	log.Warnf("unknown method %q", req.Method)
	p.reply(req.ID, nil, fmt.Errorf("unknown method %q", req.Method))
}

// initRequest is the host's init payload: negotiated option values under
// "options", plus a "configuration" block this plugin does not need.
type initRequest struct {
	Options map[string]json.RawMessage `json:"options"`
}

func (p *Plugin) handleInit(id json.RawMessage, params json.RawMessage) {
	var req initRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			log.Errorf("malformed init payload: %v", err)
		}
	}

	if p.onInit != nil {
		if err := p.onInit(req.Options); err != nil {
			p.reply(id, nil, err)
			return
		}
	}
	p.reply(id, map[string]any{}, nil)
}

// manifest describes the plugin's surface, matching what main.rs's Builder
// assembles from its chained .option/.rpcmethod/.hook calls.
func (p *Plugin) manifest() map[string]any {
	var rpcmethods []map[string]string
	for name, spec := range p.methods {
		rpcmethods = append(rpcmethods, map[string]string{
			"name":        name,
			"description": spec.description,
		})
	}

	var options []map[string]any
	for name, spec := range p.options {
		options = append(options, map[string]any{
			"name":        name,
			"type":        "int",
			"default":     spec.defaultValue,
			"description": spec.description,
		})
	}

	var hooks []string
	for name := range p.hooks {
		hooks = append(hooks, name)
	}

	return map[string]any{
		"options":    options,
		"rpcmethods": rpcmethods,
		"hooks":      hooks,
		"dynamic":    false,
	}
}

// reply writes one response line. id is omitted (left nil) for requests
// that carried none, matching JSON-RPC notification semantics, though in
// practice every method and hook call from a plugin host carries an id.
func (p *Plugin) reply(id json.RawMessage, result any, err error) {
	resp := response{JSONRPC: "2.0", ID: id}
	if err != nil {
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
	} else {
		resp.Result = result
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	enc := json.NewEncoder(p.out)
	if encErr := enc.Encode(resp); encErr != nil {
		log.Errorf("failed to write response for id %s: %v", string(id), encErr)
	}
}
