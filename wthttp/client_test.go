package wthttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RegisterResponse{AvailableSlots: 100, SubscriptionExpiry: 4320})
	}))
	defer srv.Close()

	resp := Post[RegisterResponse](context.Background(), NewClient(), srv.URL, RegisterRequest{UserID: []byte{1, 2, 3}})
	if resp.Kind != KindSuccess {
		t.Fatalf("expected KindSuccess, got %v (err=%v)", resp.Kind, resp.Err)
	}
	if resp.Body.AvailableSlots != 100 {
		t.Fatalf("unexpected body: %+v", resp.Body)
	}
}

func TestPostAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(ApiError{Error: "bad signature", ErrorCode: ErrCodeInvalidSignatureOrSubscription})
	}))
	defer srv.Close()

	resp := Post[RegisterResponse](context.Background(), NewClient(), srv.URL, RegisterRequest{})
	if resp.Kind != KindAPIError {
		t.Fatalf("expected KindAPIError, got %v", resp.Kind)
	}
	if resp.APIErr.ErrorCode != ErrCodeInvalidSignatureOrSubscription {
		t.Fatalf("unexpected error code: %d", resp.APIErr.ErrorCode)
	}
}

func TestPostServerErrorIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp := Post[RegisterResponse](context.Background(), NewClient(), srv.URL, RegisterRequest{})
	if resp.Kind != KindConnectionError {
		t.Fatalf("expected a 5xx to classify as KindConnectionError, got %v", resp.Kind)
	}
}

func TestPostMalformedBodyIsDeserializeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	resp := Post[RegisterResponse](context.Background(), NewClient(), srv.URL, RegisterRequest{})
	if resp.Kind != KindDeserializeError {
		t.Fatalf("expected KindDeserializeError, got %v", resp.Kind)
	}
}

func TestPostConnectionRefused(t *testing.T) {
	resp := Post[RegisterResponse](context.Background(), NewClient(), "http://127.0.0.1:1", RegisterRequest{})
	if resp.Kind != KindConnectionError {
		t.Fatalf("expected KindConnectionError for a refused connection, got %v", resp.Kind)
	}
}
