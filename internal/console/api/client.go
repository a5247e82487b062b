package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is the wallet daemon API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for host:port
func NewClient(host string, port int) *Client {
	return NewClientWithURL(fmt.Sprintf("http://%s:%d", host, port))
}

// NewClientWithURL creates an API client for a full base URL
func NewClientWithURL(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// RestResp is the API response envelope
type RestResp struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// APIError is a failed call answered by the daemon
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// WalletStatus is the /api/v1/status response
type WalletStatus struct {
	VaultExists     bool   `json:"vaultExists"`
	IsUnlocked      bool   `json:"isUnlocked"`
	AccountCount    int    `json:"accountCount"`
	SelectedAddress string `json:"selectedAddress"`
	PendingRequests int    `json:"pendingRequests"`
	ChainID         int64  `json:"chainId"`
	WSClients       int    `json:"wsClients"`
}

// Accounts is the /api/v1/accounts response
type Accounts struct {
	Accounts        []string `json:"accounts"`
	SelectedAddress string   `json:"selectedAddress"`
}

// SignRequest is one pending signature
type SignRequest struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	From      string    `json:"from"`
	ChainID   string    `json:"chainId"`
	Method    string    `json:"method"`
	Payload   string    `json:"payload"`
	Parts     []string  `json:"parts,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetStatus fetches the wallet status
func (c *Client) GetStatus(ctx context.Context) (*WalletStatus, error) {
	var status WalletStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetAccounts fetches the account list
func (c *Client) GetAccounts(ctx context.Context) (*Accounts, error) {
	var accounts Accounts
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts", nil, &accounts); err != nil {
		return nil, err
	}
	return &accounts, nil
}

// ImportNewAccount imports one account and returns its address
func (c *Client) ImportNewAccount(ctx context.Context, strategy string, params []string) (string, error) {
	body := map[string]interface{}{"strategy": strategy, "params": params}
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts/import", body, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

// SelectAccount changes the selected address
func (c *Client) SelectAccount(ctx context.Context, address string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/accounts/selected", map[string]string{"address": address}, nil)
}

// Unlock unlocks the vault
func (c *Client) Unlock(ctx context.Context, password string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/vault/unlock", map[string]string{"password": password}, nil)
}

// GetSignRequests fetches the pending sign requests
func (c *Client) GetSignRequests(ctx context.Context) ([]SignRequest, error) {
	var reqs []SignRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/sign/requests", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// ResolveSignRequest answers a pending request with a signature
func (c *Client) ResolveSignRequest(ctx context.Context, id, signature string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sign/requests/"+id, map[string]string{"signature": signature}, nil)
}

// RejectSignRequest rejects a pending request
func (c *Client) RejectSignRequest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sign/requests/"+id, nil, nil)
}

// IsAlive reports whether the daemon answers
func (c *Client) IsAlive(ctx context.Context) bool {
	_, err := c.GetStatus(ctx)
	return err == nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result RestResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !result.Success {
		return &APIError{Status: resp.StatusCode, Message: result.Error}
	}
	if out != nil && len(result.Data) > 0 {
		if err := json.Unmarshal(result.Data, out); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}
