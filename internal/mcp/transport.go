package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const defaultCallTimeout = 30 * time.Second

type Transport interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Error is a JSON-RPC error object returned by the remote server.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func encodeCall(method string, params any) ([]byte, error) {
	payload := map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params}
	return json.Marshal(payload)
}

func decodeResult(data []byte) (json.RawMessage, error) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func DefaultHTTPTransport(endpoint string) Transport {
	return &HTTPTransport{Endpoint: endpoint, Timeout: defaultCallTimeout}
}

func DefaultStdioTransport(cmd string, args []string) Transport {
	return &StdioTransport{Command: cmd, Args: args, Timeout: defaultCallTimeout}
}

// NewTransport builds the transport named by kind, "http" or "stdio".
func NewTransport(kind, endpoint, command string, args []string, timeout time.Duration) (Transport, error) {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	switch strings.ToLower(kind) {
	case "http", "":
		if endpoint == "" {
			return nil, fmt.Errorf("http endpoint required")
		}
		return &HTTPTransport{Endpoint: endpoint, Timeout: timeout}, nil
	case "stdio":
		if command == "" {
			return nil, fmt.Errorf("stdio command required")
		}
		return &StdioTransport{Command: command, Args: args, Timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type %q", kind)
	}
}
