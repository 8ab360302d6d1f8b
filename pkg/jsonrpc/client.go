package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
)

// Client is a JSON-RPC 2.0 client over HTTP POST. It is safe for concurrent
// use.
type Client struct {
	url    string
	http   *http.Client
	nextID atomic.Int64
}

// NewClient returns a client for the endpoint at url. A nil httpClient means
// http.DefaultClient.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

// Call invokes method with params and decodes the result into result, which
// may be nil. RPC-level failures are returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	data, err := c.post(ctx, method, params, json.RawMessage(id))
	if err != nil {
		return err
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if string(resp.ID) != id {
		return fmt.Errorf("response id %s does not match request id %s", resp.ID, id)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}
	return nil
}

// Notify sends a notification. The server replies with no body.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	_, err := c.post(ctx, method, params, nil)
	return err
}

func (c *Client) post(ctx context.Context, method string, params any, id json.RawMessage) ([]byte, error) {
	req := Request{JSONRPC: Version, Method: method, ID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshaling params: %w", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	switch httpResp.StatusCode {
	case http.StatusOK:
		return data, nil
	case http.StatusNoContent:
		if id != nil {
			return nil, fmt.Errorf("server sent no response for call %s", method)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected http status %d: %s", httpResp.StatusCode, bytes.TrimSpace(data))
	}
}
