package rooms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPEngineAdvance(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody struct {
			Payloads [][]byte `json:"payloads"`
		}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"payloads": [][]byte{[]byte("out-a"), []byte("out-b")},
		})
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(server.Client(), server.URL+"/engine/v1", "engine-key", nil)
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}

	result, err := engine.Advance(context.Background(), "room-1", 2, [][]byte{[]byte("in-a"), []byte("in-b")})
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	if gotPath != "/engine/v1/rooms/room-1/rounds/2" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer engine-key" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if len(gotBody.Payloads) != 2 || string(gotBody.Payloads[0]) != "in-a" {
		t.Fatalf("request payloads = %v", gotBody.Payloads)
	}
	if len(result.Payloads) != 2 || string(result.Payloads[1]) != "out-b" {
		t.Fatalf("result payloads = %v", result.Payloads)
	}
	if result.Final() {
		t.Fatal("result without assignment reported final")
	}
}

func TestHTTPEngineAdvanceFinalRound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"assignment": [][]byte{[]byte("addr-1"), []byte("addr-2")},
		})
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}

	result, err := engine.Advance(context.Background(), "room-1", 2, nil)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if !result.Final() {
		t.Fatal("assignment response not reported final")
	}
	if len(result.Assignment) != 2 {
		t.Fatalf("assignment = %v", result.Assignment)
	}
}

func TestHTTPEngineAdvanceErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "round out of sequence", http.StatusConflict)
	}))
	defer server.Close()

	engine, err := NewHTTPEngine(server.Client(), server.URL, "", nil)
	if err != nil {
		t.Fatalf("NewHTTPEngine: %v", err)
	}

	_, err = engine.Advance(context.Background(), "room-1", 1, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "engine status 409") || !strings.Contains(err.Error(), "round out of sequence") {
		t.Fatalf("error = %v", err)
	}
}

func TestNewHTTPEngineRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPEngine(nil, "   ", "", nil); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
