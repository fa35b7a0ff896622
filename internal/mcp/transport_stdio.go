package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"
)

// StdioTransport runs Command once per call, writing the request to its stdin
// and reading a single response from its stdout.
type StdioTransport struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	data, err := encodeCall(method, params)
	if err != nil {
		return nil, err
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, t.Command, t.Args...)
	cmd.Stdin = bytes.NewReader(append(data, '\n'))
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return decodeResult(bytes.TrimSpace(output))
}
