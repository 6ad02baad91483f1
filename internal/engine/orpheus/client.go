// Package orpheus adapts the Orpheus autoregressive speech model runner to
// the backend capability contract. The runner is a standalone HTTP service
// owning the model weights; this package manages its lifecycle (load,
// placement, unload) and normalizes its API.
package orpheus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiHealth         = "/health"
	apiLoadModel      = "/v1/model/load"
	apiUnloadModel    = "/v1/model/unload"
	apiPlacement      = "/v1/model/placement"
	apiGenerateSpeech = "/v1/generate/speech"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Machine-readable error codes returned by the runner.
const (
	codeAcceleratorUnavailable = "accelerator_unavailable"
	codeDeviceMismatch         = "device_mismatch"
)

// Static errors.
var (
	errEmptyAudio            = errors.New("received empty audio data")
	errUnexpectedContentType = errors.New("unexpected content type")
)

// Client is an HTTP client for the Orpheus model runner.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a runner client. The baseURL should include protocol
// and port; the timeout applies to every request.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// loadRequest asks the runner to load model weights onto a device. The
// accept_license flag makes first-run license acceptance an explicit,
// non-interactive configuration decision.
type loadRequest struct {
	ModelPath     string `json:"model_path"`
	Device        string `json:"device"`
	AcceptLicense bool   `json:"accept_license"`
}

// PlacementStatus reports where the model currently lives. FullyResident is
// false when tensors are split across devices after a partial load.
type PlacementStatus struct {
	Device        string `json:"device"`
	FullyResident bool   `json:"fully_resident"`
}

// generateRequest is the runner's synthesis payload.
type generateRequest struct {
	Text              string  `json:"text"`
	Language          string  `json:"language"`
	Voice             string  `json:"voice,omitempty"`
	SpeakerRefBase64  string  `json:"speaker_ref_b64,omitempty"`
	SpeakerRefText    string  `json:"speaker_ref_text,omitempty"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	Speed             float64 `json:"speed"`
}

// runnerErrorResponse is the runner's structured error body.
type runnerErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RunnerError preserves the runner's machine-readable error code so the
// adapter can react to device conditions without string matching.
type RunnerError struct {
	Status string
	Detail string
	Code   string
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("runner error (%s): %s (code: %s)", e.Status, e.Detail, e.Code)
}

// AcceleratorUnavailable reports whether the runner rejected a load because
// the requested accelerator is absent.
func (e *RunnerError) AcceleratorUnavailable() bool {
	return e.Code == codeAcceleratorUnavailable
}

// DeviceMismatch reports whether inference failed on residual state left on
// the wrong device after an unload/reload cycle.
func (e *RunnerError) DeviceMismatch() bool {
	return e.Code == codeDeviceMismatch
}

// HealthCheck verifies that the runner is up before any expensive call.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// LoadModel loads the model weights onto the requested device and returns
// the resulting placement.
func (c *Client) LoadModel(
	ctx context.Context,
	modelPath, device string,
	acceptLicense bool,
) (*PlacementStatus, error) {
	payload := loadRequest{
		ModelPath:     modelPath,
		Device:        device,
		AcceptLicense: acceptLicense,
	}

	var status PlacementStatus

	err := c.postJSON(ctx, apiLoadModel, payload, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to load model on %q: %w", device, err)
	}

	return &status, nil
}

// UnloadModel migrates all model state off the accelerator.
func (c *Client) UnloadModel(ctx context.Context) error {
	err := c.postJSON(ctx, apiUnloadModel, struct{}{}, nil)
	if err != nil {
		return fmt.Errorf("failed to unload model: %w", err)
	}

	return nil
}

// Placement queries the runner for the model's current device placement.
func (c *Client) Placement(ctx context.Context) (*PlacementStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPlacement, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create placement request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("placement query failed for runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status PlacementStatus

	err = json.NewDecoder(resp.Body).Decode(&status)
	if err != nil {
		return nil, fmt.Errorf("failed to decode placement response: %w", err)
	}

	return &status, nil
}

// GenerateSpeech sends one synthesis request and returns raw WAV bytes.
func (c *Client) GenerateSpeech(ctx context.Context, req generateRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create generate request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: expected %s, got %s", errUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, errEmptyAudio
	}

	return audioData, nil
}

// postJSON posts a JSON payload and optionally decodes a JSON response.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode runner response: %w", err)
	}

	return nil
}

// parseErrorResponse decodes a structured runner error, falling back to the
// raw body so diagnostics are never lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var parsed runnerErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&parsed)
	if err == nil && parsed.Detail != "" {
		return &RunnerError{
			Status: resp.Status,
			Detail: parsed.Detail,
			Code:   parsed.ErrorCode,
		}
	}

	body, _ := io.ReadAll(resp.Body)

	return &RunnerError{
		Status: resp.Status,
		Detail: string(body),
		Code:   "",
	}
}
