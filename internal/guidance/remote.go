package guidance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PriorClient talks to a sidecar serving the frozen text encoder and
// diffusion denoiser over HTTP. Both models are addressed by identifier; the
// client never sees their weights. Any transport or shape failure is
// returned as-is: the pipeline cannot proceed without the prior.
type PriorClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewPriorClient(baseURL, model string) (*PriorClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("prior base URL is required")
	}
	if model == "" {
		return nil, fmt.Errorf("prior model identifier is required")
	}
	return &PriorClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type encodeRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type encodeResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (c *PriorClient) Encode(ctx context.Context, text string) ([]float64, error) {
	var resp encodeResponse
	if err := c.post(ctx, "/v1/encode", encodeRequest{Model: c.model, Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("text encoder: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("text encoder returned empty embedding")
	}
	return resp.Embedding, nil
}

type predictRequest struct {
	Model     string    `json:"model"`
	Latent    []float64 `json:"latent"`
	Timestep  int       `json:"timestep"`
	Embedding []float64 `json:"embedding"`
}

type predictResponse struct {
	Noise []float64 `json:"noise"`
}

func (c *PriorClient) PredictNoise(ctx context.Context, latent []float64, timestep int, embedding []float64) ([]float64, error) {
	req := predictRequest{Model: c.model, Latent: latent, Timestep: timestep, Embedding: embedding}
	var resp predictResponse
	if err := c.post(ctx, "/v1/predict_noise", req, &resp); err != nil {
		return nil, fmt.Errorf("denoiser: %w", err)
	}
	if len(resp.Noise) != len(latent) {
		return nil, fmt.Errorf("denoiser shape mismatch: got=%d want=%d", len(resp.Noise), len(latent))
	}
	return resp.Noise, nil
}

func (c *PriorClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
