package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type HTTPTransport struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	data, err := encodeCall(method, params)
	if err != nil {
		return nil, err
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: t.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	result, err := decodeResult(body)
	if err != nil {
		if _, ok := err.(*Error); !ok && resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rpc %s: unexpected status %d", method, resp.StatusCode)
		}
		return nil, err
	}
	return result, nil
}
