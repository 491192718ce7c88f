package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a node's RPC server.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an RPC client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Status retrieves the node's combined status snapshot.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return nil, err
	}

	var result StatusResponse
	if err := parseResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Connect asks the node to dial an endpoint.
func (c *Client) Connect(host string, port int) (bool, error) {
	u := fmt.Sprintf("%s/connect?host=%s&port=%s",
		c.baseURL, url.QueryEscape(host), strconv.Itoa(port))

	resp, err := c.client.Post(u, "application/json", nil)
	if err != nil {
		return false, err
	}

	var result ConnectResponse
	if err := parseResponse(resp, &result); err != nil {
		return false, err
	}
	return result.Connected, nil
}

// parseResponse decodes the RPC envelope into result.
func parseResponse(resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	raw := struct {
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if raw.Error != "" {
		return fmt.Errorf("rpc error: %s", raw.Error)
	}
	if err := json.Unmarshal(raw.Result, result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}
