// Package wthttp implements the watchtower client's HTTP transport: posting
// typed JSON requests to a tower and classifying the outcome into the
// response kinds spec.md §4.5 requires (success, API error, connection
// error, or a malformed body).
package wthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/decred/slog"

	"github.com/decred/dcrwtclient/internal/wterr"
)

// log is the wthttp subsystem logger. It is a no-op until UseLogger is
// called by the binary wiring the client together.
var log = slog.Disabled

// UseLogger sets the subsystem logger used by this package.
func UseLogger(logger slog.Logger) {
	log = logger
}

// DefaultRequestTimeout bounds a single HTTP call to a tower. Spec.md §5
// requires timeouts to classify as ConnectionError.
const DefaultRequestTimeout = 15 * time.Second

// ApiError is the structured error envelope a tower returns alongside a
// 4xx response.
type ApiError struct {
	Error     string `json:"error"`
	ErrorCode uint32 `json:"error_code"`
}

// Known tower error codes, per spec.md §6.
const (
	// ErrCodeInvalidSignatureOrSubscription signals the user's
	// subscription is invalid, expired, or exhausted.
	ErrCodeInvalidSignatureOrSubscription uint32 = 1
)

// ResponseKind classifies the outcome of a tower call.
type ResponseKind int

const (
	// KindSuccess means the call returned 2xx and a well-formed body.
	KindSuccess ResponseKind = iota
	// KindAPIError means the call returned 4xx with a structured error
	// envelope.
	KindAPIError
	// KindConnectionError means the call failed at the transport level:
	// DNS, refused, timeout, TLS, or the tower returned 5xx.
	KindConnectionError
	// KindDeserializeError means the call returned 2xx but the body did
	// not match the expected type.
	KindDeserializeError
)

// Response is the outcome of Post, tagged by Kind. Exactly one of Body,
// APIErr, or Err is meaningful, selected by Kind.
type Response[T any] struct {
	Kind   ResponseKind
	Body   T
	APIErr ApiError
	Err    error
}

// Client posts JSON requests to watchtower HTTP endpoints.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a Client with the default per-request timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
}

// Post sends req as a JSON body to endpoint and classifies the response,
// decoding a 2xx body into a T.
func Post[T any](ctx context.Context, c *Client, endpoint string, req any) Response[T] {
	var zero T

	payload, err := json.Marshal(req)
	if err != nil {
		return Response[T]{Kind: KindConnectionError, Err: fmt.Errorf("%w: marshal request: %v", wterr.Connection, err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response[T]{Kind: KindConnectionError, Err: fmt.Errorf("%w: build request: %v", wterr.Connection, err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Debugf("connection error posting to %s: %v", endpoint, err)
		return Response[T]{Kind: KindConnectionError, Err: classifyTransportError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response[T]{Kind: KindConnectionError, Err: fmt.Errorf("%w: read body: %v", wterr.Connection, err)}
	}

	switch {
	case resp.StatusCode >= 500:
		// Per spec.md §4.5, 5xx is classified as a connection error,
		// not an API error: the tower itself is unhealthy.
		return Response[T]{Kind: KindConnectionError, Err: fmt.Errorf("%w: tower returned %d", wterr.Connection, resp.StatusCode)}

	case resp.StatusCode >= 400:
		var apiErr ApiError
		if err := json.Unmarshal(body, &apiErr); err != nil {
			return Response[T]{Kind: KindDeserializeError, Err: fmt.Errorf("%w: decode error envelope: %v", wterr.ProtocolViolation, err)}
		}
		return Response[T]{Kind: KindAPIError, APIErr: apiErr}

	default:
		if err := json.Unmarshal(body, &zero); err != nil {
			return Response[T]{Kind: KindDeserializeError, Err: fmt.Errorf("%w: decode response body: %v", wterr.ProtocolViolation, err)}
		}
		return Response[T]{Kind: KindSuccess, Body: zero}
	}
}

// classifyTransportError normalizes the errors net/http can return for a
// failed round trip; all of them are connection errors per spec.md §4.5.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: request timed out: %v", wterr.Connection, err)
	}
	return fmt.Errorf("%w: %v", wterr.Connection, err)
}
