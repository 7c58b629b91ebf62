// Package docexchange is the HTTP client for the external document
// exchange that delivers discharge letters to referring organisations.
// All vocabulary parsing and the 401-to-authentication-error
// reclassification live here so callers only ever see internal types.
package docexchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nhsd-wmp/platform/internal/shared/config"
	"github.com/nhsd-wmp/platform/internal/shared/errors"
	"github.com/nhsd-wmp/platform/internal/shared/metrics"
	"github.com/nhsd-wmp/platform/internal/shared/types"
)

// Client talks to the document-exchange service
type Client struct {
	cfg        config.DocExchangeConfig
	httpClient *http.Client
}

// New creates a document-exchange client
func New(cfg config.DocExchangeConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SubmitDischarge posts one referral's discharge notification. The
// exchange accepts an array, so the single payload is wrapped.
func (c *Client) SubmitDischarge(ctx context.Context, payload DischargeNotification) (*SubmissionResult, error) {
	var results []SubmissionResult
	if err := c.post(ctx, "discharge", c.cfg.Endpoint+"/discharge", []DischargeNotification{payload}, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.Internal(fmt.Errorf(
			"document exchange returned an empty success body for referral %s", payload.ReferralID))
	}
	return &results[0], nil
}

// RequestUpdate asks the exchange for the current state of a previously
// submitted discharge document
func (c *Client) RequestUpdate(ctx context.Context, referralID types.ID) (*UpdateResult, error) {
	var result UpdateResult
	url := fmt.Sprintf("%s/%s", c.cfg.UpdateEndpoint, referralID)
	if err := c.post(ctx, "update", url, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveRejection tells the exchange a rejected document has been acted
// on. The endpoint returns a bare status code.
func (c *Client) ResolveRejection(ctx context.Context, referralID types.ID) error {
	url := fmt.Sprintf("%s/%s", c.cfg.ResolveEndpoint, referralID)
	return c.post(ctx, "resolve", url, nil, nil)
}

// DelayDischarge asks the exchange to re-raise the document later
func (c *Client) DelayDischarge(ctx context.Context, referralID types.ID) error {
	url := fmt.Sprintf("%s/%s", c.cfg.DelayEndpoint, referralID)
	return c.post(ctx, "delay", url, nil, nil)
}

func (c *Client) post(ctx context.Context, endpoint, url string, payload, out any) error {
	start := time.Now()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Internal(fmt.Errorf("marshal %s payload: %w", endpoint, err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return errors.Internal(fmt.Errorf("build %s request: %w", endpoint, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordDocExchangeRequest(endpoint, "transport_error", time.Since(start))
		return errors.Wrap(err, fmt.Sprintf("document exchange %s call failed", endpoint))
	}
	defer resp.Body.Close()

	metrics.RecordDocExchangeRequest(endpoint, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.Authentication(fmt.Sprintf("document exchange %s endpoint returned 401", endpoint))
	case resp.StatusCode == http.StatusBadRequest:
		return c.badRequest(endpoint, resp.Body)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errors.Internal(fmt.Errorf(
			"document exchange %s endpoint returned status %d", endpoint, resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Internal(fmt.Errorf("read %s response: %w", endpoint, err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.Internal(fmt.Errorf("document exchange %s endpoint returned an empty success body", endpoint))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Internal(fmt.Errorf("decode %s response: %w", endpoint, err))
	}
	return nil
}

// badRequest flattens the exchange's structured 400 body into one error
// message, field errors sorted for stable output
func (c *Client) badRequest(endpoint string, r io.Reader) error {
	var eb errorBody
	if err := json.NewDecoder(r).Decode(&eb); err != nil {
		return errors.BadRequest(fmt.Sprintf("document exchange %s endpoint returned an unreadable 400 body", endpoint))
	}

	fields := make([]string, 0, len(eb.Errors))
	for f := range eb.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var parts []string
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, strings.Join(eb.Errors[f], "; ")))
	}

	msg := eb.Title
	if len(parts) > 0 {
		msg = fmt.Sprintf("%s (%s)", eb.Title, strings.Join(parts, ", "))
	}
	return errors.BadRequest(fmt.Sprintf("document exchange rejected the %s request: %s", endpoint, msg))
}
