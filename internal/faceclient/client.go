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

// RegisteredFace is one stored embedding sent to the recognition service as
// part of the class roster. A person contributes one record per stored angle.
type RegisteredFace struct {
	UserID       string    `json:"user_id"`
	Embedding    []float64 `json:"embedding"`
	Angle        string    `json:"angle"`
	IsInstructor bool      `json:"is_instructor"`
}

// RecognizedFace is a single identity resolved by the recognition service,
// with match and liveness scores passed through untouched.
type RecognizedFace struct {
	UserID          string    `json:"user_id"`
	IsInstructor    bool      `json:"is_instructor"`
	BBox            []float64 `json:"bbox,omitempty"`
	MatchScore      *float64  `json:"match_score,omitempty"`
	SpoofStatus     string    `json:"spoof_status,omitempty"`
	SpoofConfidence *float64  `json:"spoof_confidence,omitempty"`
	RealProb        *float64  `json:"real_prob,omitempty"`
	SpoofProb       *float64  `json:"spoof_prob,omitempty"`
}

// RecognizeResult is the response of a recognize-multi call.
type RecognizeResult struct {
	Recognized []RecognizedFace `json:"recognized"`
}

// EnrollResult carries the per-angle embeddings returned by an enrollment
// call, or a warning when no usable face was captured.
type EnrollResult struct {
	Success    bool                 `json:"success"`
	Embeddings map[string][]float64 `json:"embeddings"`
	Angle      string               `json:"angle"`
	Warning    string               `json:"warning"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. The timeout bounds the full round trip; recognition
// on a large roster can take tens of seconds.
func New(baseURL string, timeout time.Duration, skip bool) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// RecognizeMulti resolves a batch of camera faces against the supplied
// roster. Frames are passed through opaquely; only the service interprets
// them.
func (c *Client) RecognizeMulti(ctx context.Context, faces []json.RawMessage, registered []RegisteredFace) (*RecognizeResult, error) {
	if c.Skip {
		return &RecognizeResult{}, nil
	}

	payload := struct {
		Faces           []json.RawMessage `json:"faces"`
		RegisteredFaces []RegisteredFace  `json:"registered_faces"`
	}{Faces: faces, RegisteredFaces: registered}

	var out RecognizeResult
	if err := c.post(ctx, "/recognize-multi", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterStudent proxies a student enrollment capture to the service.
func (c *Client) RegisterStudent(ctx context.Context, payload map[string]any) (*EnrollResult, error) {
	return c.register(ctx, "/register-auto", payload)
}

// RegisterInstructor proxies an instructor enrollment capture to the service.
func (c *Client) RegisterInstructor(ctx context.Context, payload map[string]any) (*EnrollResult, error) {
	return c.register(ctx, "/register-instructor", payload)
}

func (c *Client) register(ctx context.Context, path string, payload map[string]any) (*EnrollResult, error) {
	if c.Skip {
		return &EnrollResult{
			Success:    true,
			Embeddings: map[string][]float64{"front": {0.1, 0.2, 0.3}},
			Angle:      "front",
		}, nil
	}
	var out EnrollResult
	if err := c.post(ctx, path, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
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

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
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
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("face service error %s: %s", resp.Status, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
