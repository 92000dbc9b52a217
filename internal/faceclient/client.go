// Package faceclient calls the face recognition microservice used to mark
// attendance from classroom captures.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Match is one candidate identification from a capture frame.
type Match struct {
	StudentID  string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// IdentifyResult holds the 1:N search outcome for one frame.
type IdentifyResult struct {
	Matches       []Match `json:"matches"`
	FacesDetected int     `json:"faces_detected"`
}

// Client calls the face recognition service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with canned results
// for dev environments without the service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // frame processing can take a while
		},
	}
}

// Identify runs 1:N search of a capture frame against the enrolled gallery.
func (c *Client) Identify(ctx context.Context, imageURL string, topK int, threshold float64) (*IdentifyResult, error) {
	if c.Skip {
		return &IdentifyResult{
			Matches:       []Match{{StudentID: "mock-student", Similarity: 0.92, Name: "Mock Student"}},
			FacesDetected: 1,
		}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	payload := map[string]any{
		"image_url": imageURL,
		"top_k":     topK,
	}
	if threshold > 0 {
		payload["threshold"] = threshold
	}

	var out IdentifyResult
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enroll registers a student's reference photo in the gallery.
func (c *Client) Enroll(ctx context.Context, studentID, imageURL, name string) error {
	if c.Skip {
		return nil
	}
	payload := map[string]any{
		"user_id":   studentID,
		"image_url": imageURL,
	}
	if name != "" {
		payload["name"] = name
	}
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "/enroll", payload, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("enrollment rejected: %s", out.Message)
	}
	return nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
