package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient implements Client against the relay gateway's REST API.
// HTTPClient is injectable so tests can point it at httptest servers.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    RateLimiter
}

// NewHTTPClient builds a client with a default timeout.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: NewDefaultHTTPClient(),
	}
}

// NewDefaultHTTPClient provides an http.Client with a sane timeout.
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// EstimateFee queries the chain's fee-estimation endpoint.
func (c *HTTPClient) EstimateFee(ctx context.Context, chain, network string) (FeeEstimate, error) {
	payload, err := c.post(ctx, fmt.Sprintf("chains/%s/estimate-gas", chain), map[string]interface{}{
		"network": network,
	})
	if err != nil {
		return FeeEstimate{}, err
	}
	est := FeeEstimate{
		FeePerComputeUnit: asInt64(payload["feePerComputeUnit"]),
		Denomination:      asString(payload["denomination"]),
		Timestamp:         time.Now(),
	}
	if ts := asInt64(payload["timestamp"]); ts > 0 {
		est.Timestamp = time.Unix(ts, 0)
	}
	return est, nil
}

// Submit posts a transaction through a connector method.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	payload, err := c.post(ctx, fmt.Sprintf("connectors/%s/%s", req.Connector, req.Method), req.Params)
	if err != nil {
		return SubmitResult{}, err
	}
	return SubmitResult{
		TxHash:       asString(payload["signature"]),
		Status:       TxStatus(asInt64(payload["status"])),
		ErrorMessage: asString(payload["errorMessage"]),
		Payload:      payload,
	}, nil
}

// PollStatus queries the confirmation status of a transaction hash.
func (c *HTTPClient) PollStatus(ctx context.Context, chain, network, txHash string) (PollResult, error) {
	payload, err := c.post(ctx, fmt.Sprintf("chains/%s/poll", chain), map[string]interface{}{
		"network":   network,
		"signature": txHash,
	})
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{
		Status:        TxStatus(asInt64(payload["status"])),
		Confirmations: asInt64(payload["confirmations"]),
		ErrorMessage:  asString(payload["errorMessage"]),
		Payload:       payload,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body map[string]interface{}) (map[string]interface{}, error) {
	if c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.BaseURL + "/" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway %s status %d", path, resp.StatusCode)
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return payload, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
