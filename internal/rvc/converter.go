// Package rvc provides the voice-conversion post-processor. Conversion
// reshapes the timbre of an already-synthesized waveform through a separate
// retrieval-based model and is backend-agnostic: both synthesis families
// feed it the same raw WAV bytes. The stage is best-effort by contract —
// the orchestrator treats any failure here as a warning, never as a job
// failure.
package rvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/voice-service/internal/core"
)

// API endpoints and paths.
const apiConvert = "/v1/convert"

// Multipart form field names.
const (
	fieldAudio      = "audio"
	fieldSampleRate = "sample_rate"
	fieldModelKey   = "model_key"
	fieldIndexKey   = "index_key"
	fieldDevice     = "device"
	fieldPitchShift = "pitch_shift"
	fieldIndexRate  = "index_rate"
)

// Conversion parameter names, read from the request's conversion
// parameter set.
const (
	ParamPitchShift = "pitch_shift"
	ParamIndexRate  = "index_rate"
)

// Parameter defaults.
const (
	defaultPitchShift = 0.0
	defaultIndexRate  = 0.75
)

const uploadFileName = "synthesis.wav"

// Converter is an HTTP client for the voice-conversion runner.
type Converter struct {
	httpClient *http.Client
	baseURL    string
	device     string
}

// Compile-time interface assertion.
var _ core.VoiceConverter = (*Converter)(nil)

// NewConverter creates a conversion client. The device is forwarded to the
// runner; conversion defaults to the CPU so it never competes with
// synthesis for the accelerator.
func NewConverter(baseURL, device string, timeout time.Duration) *Converter {
	return &Converter{
		baseURL: strings.TrimRight(baseURL, "/"),
		device:  device,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Convert sends the synthesized waveform through the conversion model and
// returns the converted waveform. Every failure is wrapped in
// ErrConversionFailed for the orchestrator's degradation policy.
func (c *Converter) Convert(
	ctx context.Context,
	waveform []byte,
	sampleRate int,
	model *core.ConversionModel,
	params core.Parameters,
) ([]byte, error) {
	body, contentType, err := c.buildForm(waveform, sampleRate, model, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConversionFailed, err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiConvert,
		body,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", core.ErrConversionFailed, err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed to reach conversion runner at %s: %w",
			core.ErrConversionFailed,
			c.baseURL,
			err,
		)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"%w: runner returned %s: %s",
			core.ErrConversionFailed,
			resp.Status,
			readErrorDetail(resp.Body),
		)
	}

	converted, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read converted audio: %w", core.ErrConversionFailed, err)
	}

	if len(converted) == 0 {
		return nil, fmt.Errorf("%w: runner returned empty audio", core.ErrConversionFailed)
	}

	return converted, nil
}

// buildForm assembles the multipart conversion request.
func (c *Converter) buildForm(
	waveform []byte,
	sampleRate int,
	model *core.ConversionModel,
	params core.Parameters,
) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(fieldAudio, uploadFileName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create audio part: %w", err)
	}

	_, err = part.Write(waveform)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write audio payload: %w", err)
	}

	pitchShift := defaultPitchShift
	if value, ok := params[ParamPitchShift]; ok {
		pitchShift = value
	}

	indexRate := defaultIndexRate
	if value, ok := params[ParamIndexRate]; ok {
		indexRate = value
	}

	fields := map[string]string{
		fieldSampleRate: strconv.Itoa(sampleRate),
		fieldModelKey:   model.PrimaryModelKey,
		fieldDevice:     c.device,
		fieldPitchShift: strconv.FormatFloat(pitchShift, 'f', -1, 64),
		fieldIndexRate:  strconv.FormatFloat(indexRate, 'f', -1, 64),
	}

	if model.IndexKey != "" {
		fields[fieldIndexKey] = model.IndexKey
	}

	for name, value := range fields {
		err = writer.WriteField(name, value)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write field %q: %w", name, err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// readErrorDetail extracts a human-readable detail from an error body,
// preferring the structured form.
func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(body)
	if err != nil {
		return ""
	}

	var parsed struct {
		Detail string `json:"detail"`
	}

	if json.Unmarshal(raw, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}

	return string(raw)
}
