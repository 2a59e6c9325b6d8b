// Package xtts drives an external XTTS runtime process over its loopback
// HTTP API. The runtime owns all neural-network work; this package owns the
// process lifecycle and the service-call protocol.
package xtts

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Olbrasoft/TextToSpeech/internal/core"
)

// API endpoints.
const (
	apiConditioning = "/v1/conditioning"
	apiSynthesize   = "/v1/synthesize"
	apiHealth       = "/health"
)

// HTTP headers.
const (
	headerContentType      = "Content-Type"
	headerAccept           = "Accept"
	headerRequestID        = "X-Request-ID"
	contentTypeJSON        = "application/json"
	contentTypeOctetStream = "application/octet-stream"
)

// Multipart form field carrying the reference audio bytes.
const formFieldReferenceAudio = "reference_audio"

// Size of one little-endian float32 sample on the wire.
const bytesPerSample = 4

// Error messages.
const (
	errFmtOpenReferenceAudio    = "failed to open reference audio: %w"
	errFmtCreateFormFile        = "failed to create form file: %w"
	errFmtCopyFileData          = "failed to copy reference audio data: %w"
	errFmtCloseWriter           = "failed to close multipart writer: %w"
	errFmtCreateRequest         = "failed to create request: %w"
	errFmtSendRequest           = "failed to send request to engine at %s: %w"
	errFmtDecodeLatents         = "failed to decode conditioning response: %w"
	errFmtMarshalRequest        = "failed to marshal synthesis request: %w"
	errFmtReadSamples           = "failed to read sample stream: %w"
	errFmtUnexpectedContentType = "unexpected content type: expected %s, got %s"
	errFmtEngineErrorWithCode   = "engine error (%s): %s (code: %s)"
	errFmtEngineNonOKStatus     = "engine returned non-OK status: %s, body: %s"
	errFmtHealthCheckRequest    = "failed to create health check request: %w"
	errFmtHealthCheckSend       = "health check failed for engine at %s: %w"
	errFmtHealthCheckStatus     = "health check failed with status: %s"
)

// Static errors.
var (
	// ErrEmptyLatents indicates a conditioning response without latent data.
	ErrEmptyLatents = errors.New("engine returned empty conditioning latents")
	// ErrEmptySamples indicates a synthesis response without audio samples.
	ErrEmptySamples = errors.New("engine returned no audio samples")
	// ErrTruncatedSamples indicates a sample stream cut mid-sample.
	ErrTruncatedSamples = errors.New("sample stream length is not a multiple of the sample size")
)

// Client is the HTTP client for a running XTTS engine. It implements
// core.Synthesizer. Operation deadlines come from the caller's context.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// SynthesisRequest defines the JSON payload for synthesis requests. The
// sampling parameters travel exactly as provided; the engine applies its own
// defaults only for omitted optional fields.
type SynthesisRequest struct {
	// Text contains the input text to convert to speech.
	Text string `json:"text"`

	// Language specifies the target language code (e.g., "cs", "en").
	Language string `json:"language"`

	// Temperature controls randomness in token sampling.
	Temperature float64 `json:"temperature"`

	// RepetitionPenalty discourages repeated token sequences.
	RepetitionPenalty float64 `json:"repetition_penalty"`

	// TopK limits sampling to the K most likely tokens.
	TopK int `json:"top_k"`

	// TopP limits sampling to the smallest set of tokens whose cumulative
	// probability exceeds P.
	TopP float64 `json:"top_p"`

	// Seed fixes the sampling sequence when non-zero.
	Seed int `json:"seed,omitempty"`

	// GPTCondLatent and SpeakerEmbedding carry the conditioning computed
	// from the reference audio.
	GPTCondLatent    [][]float32 `json:"gpt_cond_latent"`
	SpeakerEmbedding []float32   `json:"speaker_embedding"`
}

// ErrorResponse represents a structured error response from the engine.
type ErrorResponse struct {
	// Detail contains a human-readable error description.
	Detail string `json:"detail"`

	// ErrorCode provides a machine-readable error classification.
	ErrorCode string `json:"error_code,omitempty"`
}

// NewClient creates an HTTP client for the engine at baseURL. The baseURL
// includes protocol and port (e.g., "http://127.0.0.1:8020").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// BaseURL returns the engine address this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ComputeLatents uploads the reference audio file and returns the
// conditioning latents the engine derived from it.
func (c *Client) ComputeLatents(
	ctx context.Context,
	referenceAudioPath string,
) (*core.Latents, error) {
	body, contentType, err := buildConditioningBody(referenceAudioPath)
	if err != nil {
		return nil, err
	}

	url := c.baseURL + apiConditioning

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	httpReq.Header.Set(headerContentType, contentType)
	httpReq.Header.Set(headerAccept, contentTypeJSON)
	httpReq.Header.Set(headerRequestID, uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var latents core.Latents

	err = json.NewDecoder(resp.Body).Decode(&latents)
	if err != nil {
		return nil, fmt.Errorf(errFmtDecodeLatents, err)
	}

	if len(latents.GPTCondLatent) == 0 && len(latents.SpeakerEmbedding) == 0 {
		return nil, ErrEmptyLatents
	}

	return &latents, nil
}

// Synthesize sends the text, sampling parameters, and latents to the engine
// and returns the decoded mono sample buffer.
func (c *Client) Synthesize(
	ctx context.Context,
	latents *core.Latents,
	params core.SynthesisParams,
) ([]float32, error) {
	req := SynthesisRequest{
		Text:              params.Text,
		Language:          params.Language,
		Temperature:       params.Temperature,
		RepetitionPenalty: params.RepetitionPenalty,
		TopK:              params.TopK,
		TopP:              params.TopP,
		Seed:              params.Seed,
		GPTCondLatent:     latents.GPTCondLatent,
		SpeakerEmbedding:  latents.SpeakerEmbedding,
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf(errFmtMarshalRequest, err)
	}

	url := c.baseURL + apiSynthesize

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf(errFmtCreateRequest, err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeOctetStream)
	httpReq.Header.Set(headerRequestID, uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(errFmtSendRequest, c.baseURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeOctetStream {
		return nil, fmt.Errorf(
			errFmtUnexpectedContentType,
			contentTypeOctetStream,
			contentType,
		)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadSamples, err)
	}

	return decodeSamples(data)
}

// HealthCheck verifies that the engine is up and answering requests.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := c.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf(errFmtHealthCheckRequest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(errFmtHealthCheckSend, c.baseURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(errFmtHealthCheckStatus, resp.Status)
	}

	return nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// engine. If structured parsing fails, it falls back to the raw response
// body so diagnostic information is preserved.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf(errFmtEngineErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		errFmtEngineNonOKStatus,
		resp.Status,
		string(body),
	)
}

// buildConditioningBody assembles the multipart upload for a reference
// audio file.
func buildConditioningBody(referenceAudioPath string) (*bytes.Buffer, string, error) {
	file, err := os.Open(referenceAudioPath)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtOpenReferenceAudio, err)
	}
	defer func() {
		_ = file.Close()
	}()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(
		formFieldReferenceAudio,
		filepath.Base(referenceAudioPath),
	)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtCreateFormFile, err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", fmt.Errorf(errFmtCopyFileData, err)
	}

	err = writer.Close()
	if err != nil {
		return nil, "", fmt.Errorf(errFmtCloseWriter, err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// decodeSamples converts a little-endian float32 byte stream into samples.
func decodeSamples(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptySamples
	}

	if len(data)%bytesPerSample != 0 {
		return nil, ErrTruncatedSamples
	}

	samples := make([]float32, len(data)/bytesPerSample)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*bytesPerSample:])
		samples[i] = math.Float32frombits(bits)
	}

	return samples, nil
}
