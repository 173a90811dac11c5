package metering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/FormLoom/FormLoom/internal/pkg/env"
	"github.com/hashicorp/go-retryablehttp"
)

// Client talks to the external metering API (the metered-billing provider's
// usage surface). Transient transport errors are retried by the underlying
// retryable client; anything that still fails bubbles up so the reconciler
// can fall back to local counts.
type Client struct {
	BaseURL string
	APIKey  string

	httpClient *retryablehttp.Client
}

// NewClientFromEnv builds a metering client from METER_API_* settings.
func NewClientFromEnv() *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	return &Client{
		BaseURL:    strings.TrimRight(env.GetEnv("METER_API_BASE_URL", "https://api.polar.sh"), "/"),
		APIKey:     strings.TrimSpace(env.GetEnv("METER_API_KEY", "")),
		httpClient: c,
	}
}

// MeterBalance is one meter's consumed/credited unit balance as reported by
// the provider.
type MeterBalance struct {
	Meter         string `json:"meter"`
	ConsumedUnits int64  `json:"consumed_units"`
	CreditedUnits int64  `json:"credited_units"`
}

// CustomerMeters is the per-customer balance set.
type CustomerMeters struct {
	Forms       MeterBalance
	Submissions MeterBalance
}

type meterListResponse struct {
	Items []MeterBalance `json:"items"`
}

// CustomerMeters fetches the consumed/credited balances for a customer.
// A response missing either meter is treated as malformed.
func (c *Client) CustomerMeters(ctx context.Context, providerCustomerID string) (*CustomerMeters, error) {
	if strings.TrimSpace(providerCustomerID) == "" {
		return nil, errors.New("provider customer id is required")
	}

	url := fmt.Sprintf("%s/v1/customers/%s/meters", c.BaseURL, providerCustomerID)
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var resp meterListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("meter response: %w", err)
	}

	var out CustomerMeters
	var haveForms, haveSubmissions bool
	for _, item := range resp.Items {
		switch item.Meter {
		case "forms":
			out.Forms = item
			haveForms = true
		case "submissions":
			out.Submissions = item
			haveSubmissions = true
		}
	}
	if !haveForms || !haveSubmissions {
		return nil, errors.New("meter response missing forms/submissions meters")
	}
	return &out, nil
}

type ingestRequest struct {
	CustomerID string `json:"customer_id"`
	EventName  string `json:"event_name"`
	Meter      string `json:"meter"`
	Quantity   int64  `json:"quantity"`
}

// IngestEvent reports one usage event upstream.
func (c *Client) IngestEvent(ctx context.Context, providerCustomerID, eventName, meter string, quantity int64) error {
	if strings.TrimSpace(providerCustomerID) == "" {
		return errors.New("provider customer id is required")
	}
	payload, err := json.Marshal(ingestRequest{
		CustomerID: providerCustomerID,
		EventName:  eventName,
		Meter:      meter,
		Quantity:   quantity,
	})
	if err != nil {
		return err
	}

	url := c.BaseURL + "/v1/events/ingest"
	_, err = c.do(ctx, http.MethodPost, url, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = strings.NewReader(string(payload))
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("meter api %s %s failed: status=%d body=%s", method, url, resp.StatusCode, string(body))
	}
	return body, nil
}
