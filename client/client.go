package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ahmadzakiakmal/estatechain/ledger"
	"github.com/ahmadzakiakmal/estatechain/tx"
)

type RequestOptions struct {
	Headers map[string]string
	Timeout time.Duration
	Context context.Context
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// APIError is a non-2xx answer from a node
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	Code       uint32 `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("node returned %d (%s): %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("node returned %d: %s", e.StatusCode, e.Message)
}

type HTTPClient struct {
	BaseURL     string
	Client      *http.Client
	DefaultOpts RequestOptions
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
		DefaultOpts: RequestOptions{
			Headers: map[string]string{},
			Timeout: 60 * time.Second,
		},
	}
}

// Call sends body as-is when it is a []byte and JSON encodes it otherwise
func (c *HTTPClient) Call(method, endpoint string, body any, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &c.DefaultOpts
	}

	url := c.BaseURL + endpoint

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(b)
	default:
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	ctx := opts.Context
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

func (c *HTTPClient) GET(endpoint string, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodGet, endpoint, nil, opts)
}

func (c *HTTPClient) POST(endpoint string, body any, opts *RequestOptions) (*Response, error) {
	return c.Call(http.MethodPost, endpoint, body, opts)
}

// SubmitResult is the node's answer to a committed transaction
type SubmitResult struct {
	Body json.RawMessage `json:"body"`
	Meta struct {
		TxID        string `json:"tx_id"`
		RequestID   string `json:"request_id"`
		Status      string `json:"status"`
		BlockHeight int64  `json:"block_height"`
	} `json:"meta"`
	NodeID string `json:"node_id"`
}

// SubmitTx posts a signed transaction and waits for it to be committed
func (c *HTTPClient) SubmitTx(ctx context.Context, t *tx.Tx) (*SubmitResult, error) {
	raw, err := t.Encode()
	if err != nil {
		return nil, err
	}
	resp, err := c.POST("/tx", raw, &RequestOptions{Context: ctx})
	if err != nil {
		return nil, err
	}
	var result SubmitResult
	if err := decode(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Query runs a read route of the application, e.g. "/property/1"
func (c *HTTPClient) Query(ctx context.Context, path string, target any) error {
	resp, err := c.GET("/query/"+strings.TrimPrefix(path, "/"), &RequestOptions{Context: ctx})
	if err != nil {
		return err
	}
	return decode(resp, target)
}

// Account returns the balance and next nonce of addr
func (c *HTTPClient) Account(ctx context.Context, addr ledger.Address) (*ledger.Account, error) {
	var acc ledger.Account
	if err := c.Query(ctx, "/account/"+string(addr), &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func decode(resp *Response, target any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(resp.Body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(resp.Body))
		}
		return apiErr
	}
	return UnmarshalBody(resp, target)
}

func UnmarshalBody(resp *Response, target any) error {
	if len(resp.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return fmt.Errorf("failed to unmarshal response body: %w", err)
	}
	return nil
}
