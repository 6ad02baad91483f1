// Package flow adapts a flow-matching (diffusion) speech model runner to
// the backend capability contract. The runner's API is structurally unlike
// the sampling runners: synthesis is a multipart upload carrying the
// reference recording, and audio comes back base64-encoded inside JSON.
package flow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// API endpoints and paths.
const (
	apiStatus     = "/api/v1/status"
	apiModels     = "/api/v1/models"
	apiSynthesize = "/api/v1/synthesize"
)

// Multipart form field names.
const (
	fieldGenText  = "gen_text"
	fieldLanguage = "language"
	fieldVoice    = "voice"
	fieldRefAudio = "ref_audio"
	fieldRefText  = "ref_text"
	fieldNFEStep  = "nfe_step"
	fieldCFG      = "cfg_strength"
	fieldSway     = "sway_sampling_coef"
	fieldSpeed    = "speed"
)

const refAudioFileName = "reference.wav"

// Static errors.
var errEmptyAudio = errors.New("runner returned empty audio payload")

// Client is an HTTP client for the flow-matching model runner.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a runner client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// loadRequest asks the runner to bring the checkpoint up on a device.
type loadRequest struct {
	Checkpoint    string `json:"checkpoint"`
	Device        string `json:"device"`
	AcceptLicense bool   `json:"accept_license"`
}

// LoadReport enumerates module placement after a load. The model is usable
// only when MissingModules is empty; anything listed there was left off the
// requested device.
type LoadReport struct {
	Device          string   `json:"device"`
	ResidentModules []string `json:"resident_modules"`
	MissingModules  []string `json:"missing_modules"`
}

// FullyPlaced reports whether the exhaustive placement pass found every
// module on the target device.
func (r *LoadReport) FullyPlaced() bool {
	return len(r.MissingModules) == 0
}

// synthesisResponse is the runner's synthesis payload.
type synthesisResponse struct {
	AudioBase64     string  `json:"audio_base64"`
	SampleRate      int     `json:"sample_rate"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// statusError is the runner's error body.
type statusError struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Runner error reasons.
const (
	reasonNoAccelerator = "no_accelerator"
)

// RunnerError carries the runner's failure reason for typed handling.
type RunnerError struct {
	Status  string
	Message string
	Reason  string
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("flow runner error (%s): %s (reason: %s)", e.Status, e.Message, e.Reason)
}

// NoAccelerator reports whether the runner refused the load because no
// accelerator is present.
func (e *RunnerError) NoAccelerator() bool {
	return e.Reason == reasonNoAccelerator
}

// Status verifies the runner is reachable and serving.
func (c *Client) Status(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiStatus, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed for runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status check failed with status: %s", resp.Status)
	}

	return nil
}

// Load brings the checkpoint up on a device and returns the placement
// report.
func (c *Client) Load(
	ctx context.Context,
	checkpoint, device string,
	acceptLicense bool,
) (*LoadReport, error) {
	body, err := json.Marshal(loadRequest{
		Checkpoint:    checkpoint,
		Device:        device,
		AcceptLicense: acceptLicense,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal load request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiModels,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create load request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send load request to runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var report LoadReport

	err = json.NewDecoder(resp.Body).Decode(&report)
	if err != nil {
		return nil, fmt.Errorf("failed to decode load report: %w", err)
	}

	return &report, nil
}

// Unload tears the checkpoint down, releasing accelerator memory.
func (c *Client) Unload(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+apiModels, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create unload request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send unload request to runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	return nil
}

// synthesisCall carries one multipart synthesis request.
type synthesisCall struct {
	GenText  string
	Language string
	Voice    string
	RefAudio []byte
	RefText  string
	NFEStep  float64
	CFG      float64
	Sway     float64
	Speed    float64
}

// Synthesize uploads the synthesis form and decodes the base64 waveform.
func (c *Client) Synthesize(ctx context.Context, call synthesisCall) (*synthesisResponse, []byte, error) {
	body, contentType, err := buildSynthesisForm(call)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesize,
		body,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to send synthesis request to runner at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, c.parseErrorResponse(resp)
	}

	var parsed synthesisResponse

	err = json.NewDecoder(resp.Body).Decode(&parsed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode synthesis response: %w", err)
	}

	waveform, err := decodeAudio(parsed.AudioBase64)
	if err != nil {
		return nil, nil, err
	}

	return &parsed, waveform, nil
}

// buildSynthesisForm assembles the multipart body.
func buildSynthesisForm(call synthesisCall) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		fieldGenText:  call.GenText,
		fieldLanguage: call.Language,
		fieldNFEStep:  strconv.FormatFloat(call.NFEStep, 'f', -1, 64),
		fieldCFG:      strconv.FormatFloat(call.CFG, 'f', -1, 64),
		fieldSway:     strconv.FormatFloat(call.Sway, 'f', -1, 64),
		fieldSpeed:    strconv.FormatFloat(call.Speed, 'f', -1, 64),
	}

	if call.Voice != "" {
		fields[fieldVoice] = call.Voice
	}

	if call.RefText != "" {
		fields[fieldRefText] = call.RefText
	}

	for name, value := range fields {
		err := writer.WriteField(name, value)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write field %q: %w", name, err)
		}
	}

	if len(call.RefAudio) > 0 {
		part, err := writer.CreateFormFile(fieldRefAudio, refAudioFileName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create reference audio part: %w", err)
		}

		_, err = part.Write(call.RefAudio)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write reference audio: %w", err)
		}
	}

	err := writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// decodeAudio decodes the base64 waveform payload.
func decodeAudio(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errEmptyAudio
	}

	waveform, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}

	if len(waveform) == 0 {
		return nil, errEmptyAudio
	}

	return waveform, nil
}

// parseErrorResponse decodes a structured runner error, keeping the raw
// body when the runner answered with something unstructured.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var parsed statusError

	err := json.NewDecoder(resp.Body).Decode(&parsed)
	if err == nil && parsed.Message != "" {
		return &RunnerError{
			Status:  resp.Status,
			Message: parsed.Message,
			Reason:  parsed.Reason,
		}
	}

	body, _ := io.ReadAll(resp.Body)

	return &RunnerError{
		Status:  resp.Status,
		Message: string(body),
		Reason:  "",
	}
}
