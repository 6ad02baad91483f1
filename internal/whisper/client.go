// Package whisper provides the speech-to-text client backing the automatic
// transcription fallback during voice cloning. Transcription runs on a
// general-purpose device by default, keeping the accelerator free for
// synthesis, and is invoked lazily — only when a cloning request arrives
// without a reference transcript.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/voice-service/internal/core"
)

// Transcription endpoint, OpenAI-compatible.
const transcriptionsPath = "/v1/audio/transcriptions"

// Form field names.
const (
	formFieldFile     = "file"
	formFieldModel    = "model"
	formFieldLanguage = "language"
	formFieldDevice   = "device"
)

const uploadFileName = "reference.wav"

// Client is an HTTP client for a Whisper-compatible transcription service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	device     string
}

// response is the transcription payload returned by the service.
type response struct {
	Text string `json:"text"`
}

// NewClient creates a transcription client. The device is forwarded to the
// service so placement stays an explicit configuration decision.
func NewClient(baseURL, model, device string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		device:  device,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Compile-time interface assertion.
var _ core.Transcriber = (*Client)(nil)

// Transcribe sends reference audio to the transcription service and returns
// the recognized text. An empty result is surfaced as ErrTranscriptEmpty so
// cloning never finalizes a profile with a blank transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	body, contentType, err := c.buildForm(audio, language)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+transcriptionsPath,
		body,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach transcription service at %s: %w", c.baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)

		return "", fmt.Errorf(
			"transcription service returned %s: %s",
			resp.Status,
			string(detail),
		)
	}

	var parsed response

	err = json.NewDecoder(resp.Body).Decode(&parsed)
	if err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}

	transcript := strings.TrimSpace(parsed.Text)
	if transcript == "" {
		return "", core.ErrTranscriptEmpty
	}

	return transcript, nil
}

// buildForm assembles the multipart request body: the audio payload plus
// model, device and optional language fields.
func (c *Client) buildForm(audio []byte, language string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, uploadFileName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = part.Write(audio)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write audio payload: %w", err)
	}

	err = writer.WriteField(formFieldModel, c.model)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write model field: %w", err)
	}

	err = writer.WriteField(formFieldDevice, c.device)
	if err != nil {
		return nil, "", fmt.Errorf("failed to write device field: %w", err)
	}

	if language != "" {
		err = writer.WriteField(formFieldLanguage, language)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write language field: %w", err)
		}
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
