/**
 * @description
 * This package provides a client for the card payment processor gateway.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * processor's endpoints: capturing an authorized charge when an agent accepts
 * a booking, voiding the authorization when no agent could be found, and
 * refunding a captured charge after a cancellation.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package payprocessor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the card processor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new card processor client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChargeRequest represents the payload for capture and refund calls.
type ChargeRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
}

// ChargeResponse is the expected response from the processor's charge endpoints.
type ChargeResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	} `json:"data"`
}

// APIError represents an error returned by the processor API.
type APIError struct {
	StatusCode int
	Errors     []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("processor api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return fmt.Sprintf("unknown processor api error (status %d)", e.StatusCode)
}

// Capture collects a previously authorized card charge.
func (c *Client) Capture(ctx context.Context, transactionID string, amount int64, reason string) (*ChargeResponse, error) {
	return c.doCharge(ctx, "capture", transactionID, amount, reason)
}

// Refund returns a captured amount to the cardholder.
func (c *Client) Refund(ctx context.Context, transactionID string, amount int64, reason string) (*ChargeResponse, error) {
	return c.doCharge(ctx, "refund", transactionID, amount, reason)
}

// Void releases an authorization that was never captured.
func (c *Client) Void(ctx context.Context, transactionID string, reason string) (*ChargeResponse, error) {
	return c.doCharge(ctx, "void", transactionID, 0, reason)
}

func (c *Client) doCharge(ctx context.Context, op, transactionID string, amount int64, reason string) (*ChargeResponse, error) {
	payload := ChargeRequest{
		TransactionID: transactionID,
		Amount:        amount,
		Currency:      "USD",
		Reason:        reason,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/charges/"+op, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-processor-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil {
			log.Printf("level=warn component=payprocessor_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=payprocessor_client op=%s transaction_id=%s status=%d err=%q", op, transactionID, resp.StatusCode, apiErr.Error())
		return nil, apiErr
	}

	var successResp ChargeResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}
