package placement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"powerdial/internal/engine"
)

// Client talks to the external call-placement API. The engine never
// touches carrier signaling; placing, tearing down, and disposition
// persistence are all remote calls behind this client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Disposition is the human-entered outcome recorded against a contact.
type Disposition struct {
	Result   string `json:"result"`
	Notes    string `json:"notes,omitempty"`
	HandleID string `json:"handleId,omitempty"`
}

// NewClient creates a placement client. token is sent as a bearer header
// on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type placeBatchRequest struct {
	Contacts []placeContact `json:"contacts"`
}

type placeContact struct {
	ContactID string `json:"contactId"`
	Number    string `json:"number"`
	AttemptID string `json:"attemptId"`
}

type placeBatchResponse struct {
	Placed []struct {
		ContactID string `json:"contactId"`
		HandleID  string `json:"handleId"`
	} `json:"placed"`
}

// PlaceBatch requests one leg per contact. The attempt id assigned at
// placement time rides along so both event channels can carry it back.
func (c *Client) PlaceBatch(ctx context.Context, contacts []*engine.Contact) ([]engine.PlacedCall, error) {
	req := placeBatchRequest{Contacts: make([]placeContact, 0, len(contacts))}
	for _, ct := range contacts {
		req.Contacts = append(req.Contacts, placeContact{
			ContactID: ct.ID,
			Number:    ct.Number,
			AttemptID: ct.AttemptID,
		})
	}

	var resp placeBatchResponse
	if err := c.post(ctx, "/calls/batch", req, &resp); err != nil {
		return nil, err
	}

	placed := make([]engine.PlacedCall, 0, len(resp.Placed))
	for _, p := range resp.Placed {
		placed = append(placed, engine.PlacedCall{ContactID: p.ContactID, HandleID: p.HandleID})
	}
	log.Printf("[Placement] Batch of %d placed", len(placed))
	return placed, nil
}

// PlaceSingle requests a one-off call to a bare number.
func (c *Client) PlaceSingle(ctx context.Context, number string) error {
	return c.post(ctx, "/calls/single", map[string]string{"number": number}, nil)
}

// StopAll requests teardown of every in-flight leg for this operator.
func (c *Client) StopAll(ctx context.Context) error {
	return c.post(ctx, "/calls/stop", struct{}{}, nil)
}

// RecordDisposition persists the operator's disposition for a contact.
func (c *Client) RecordDisposition(ctx context.Context, contactID string, d Disposition) error {
	body := struct {
		ContactID string `json:"contactId"`
		Disposition
	}{ContactID: contactID, Disposition: d}
	return c.post(ctx, "/dispositions", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, bytes.TrimSpace(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}
