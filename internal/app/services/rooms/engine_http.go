package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/coin-shuffle/coordinator/pkg/logger"
)

// HTTPEngine calls an external round engine over HTTP.
type HTTPEngine struct {
	client   *http.Client
	endpoint *url.URL
	apiKey   string
	log      *logger.Logger
}

// NewHTTPEngine constructs an engine client using the provided endpoint.
func NewHTTPEngine(client *http.Client, endpoint, apiKey string, log *logger.Logger) (*HTTPEngine, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("engine endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse engine endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logger.NewDefault("round-engine-http")
	}
	return &HTTPEngine{
		client:   client,
		endpoint: parsed,
		apiKey:   strings.TrimSpace(apiKey),
		log:      log,
	}, nil
}

func (e *HTTPEngine) Advance(ctx context.Context, roomID string, round int, payloads [][]byte) (RoundResult, error) {
	requestURL := *e.endpoint
	requestURL.Path = path.Join(requestURL.Path, "rooms", roomID, "rounds", strconv.Itoa(round))

	body, err := json.Marshal(struct {
		Payloads [][]byte `json:"payloads"`
	}{Payloads: payloads})
	if err != nil {
		return RoundResult{}, fmt.Errorf("encode engine request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL.String(), bytes.NewReader(body))
	if err != nil {
		return RoundResult{}, fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return RoundResult{}, fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RoundResult{}, fmt.Errorf("engine status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload struct {
		Payloads   [][]byte `json:"payloads"`
		Assignment [][]byte `json:"assignment"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return RoundResult{}, fmt.Errorf("decode engine response: %w", err)
	}

	return RoundResult{Payloads: payload.Payloads, Assignment: payload.Assignment}, nil
}
