// Package chain talks to an Ethereum JSON-RPC node for settlement and UTXO
// lookups.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a minimal Ethereum JSON-RPC client.
type Client struct {
	rpcURL     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	RPCURL  string
	Timeout time.Duration
}

// RPCError is a JSON-RPC error object returned by the node. Its presence
// means the node understood and rejected the request, as opposed to a
// transport failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// NewClient creates a JSON-RPC client for the configured node.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Call makes a JSON-RPC call to the node.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	result, err := c.Call(ctx, "eth_chainId", nil)
	if err != nil {
		return "", err
	}

	var id string
	if err := json.Unmarshal(result, &id); err != nil {
		return "", err
	}
	return id, nil
}

// SendTransaction asks the node to sign and broadcast a transaction from an
// unlocked account, returning the transaction hash.
func (c *Client) SendTransaction(ctx context.Context, from, to, data string) (string, error) {
	tx := map[string]string{
		"from": from,
		"to":   to,
		"data": data,
	}
	result, err := c.Call(ctx, "eth_sendTransaction", []interface{}{tx})
	if err != nil {
		return "", err
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("unmarshal tx hash: %w", err)
	}
	return txHash, nil
}

// CallContract performs a read-only eth_call against the latest block and
// returns the hex-encoded return data.
func (c *Client) CallContract(ctx context.Context, to, data string) (string, error) {
	call := map[string]string{
		"to":   to,
		"data": data,
	}
	result, err := c.Call(ctx, "eth_call", []interface{}{call, "latest"})
	if err != nil {
		return "", err
	}

	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("unmarshal call result: %w", err)
	}
	return out, nil
}
