package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Requests and responses are line-delimited JSON. A request names a tool
// and its arguments; the response carries either a result or an error
// string, echoing the request id.
type request struct {
	ID        any            `json:"id,omitempty"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type response struct {
	ID     any    `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Serve reads requests from in and writes one response per request to out,
// until in is exhausted or ctx is cancelled.
func Serve(ctx context.Context, reg *Registry, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			if werr := enc.Encode(response{Error: fmt.Sprintf("malformed request: %v", err)}); werr != nil {
				return fmt.Errorf("failed to write response: %w", werr)
			}
			continue
		}

		resp := response{ID: req.ID}
		result, err := reg.Call(ctx, req.Tool, req.Arguments)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}

		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}

	return scanner.Err()
}
