// Package synth converts segment text into audio through an external speech
// provider, handling provider text-length limits by chunking at sentence
// boundaries and concatenating the resulting audio.
package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAPIKey      = "X-Goog-Api-Key"
	headerRetryAfter  = "Retry-After"
	contentTypeJSON   = "application/json"
)

// Static errors.
var (
	ErrTextEmpty  = errors.New("text cannot be empty")
	ErrEmptyAudio = errors.New("provider returned empty audio content")
)

// ProviderError is a structured failure from the speech provider. It carries
// the HTTP status and any Retry-After delay so the shared retry policy can
// honor provider pacing.
type ProviderError struct {
	StatusCode int
	RetryAfter time.Duration
	Detail     string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("speech provider returned %d: %s", e.StatusCode, e.Detail)
}

// VoiceConfig selects the provider voice. It is held constant across every
// chunk of a segment so concatenated audio sounds like one speaker.
type VoiceConfig struct {
	Language string
	Name     string
	Gender   string
	Encoding string
}

// synthesizeRequest is the provider's JSON request contract.
type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
		SSMLGender   string `json:"ssmlGender"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string `json:"audioEncoding"`
	} `json:"audioConfig"`
}

// synthesizeResponse is the provider's JSON response contract: audio bytes
// base64-encoded in audioContent.
type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// providerErrorResponse is the provider's structured error body.
type providerErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls the speech provider over HTTP. The configured timeout bounds
// every request, so a hung provider surfaces as an error rather than a stall.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	voice      VoiceConfig
}

// NewClient creates a provider client. The baseURL is the full synthesize
// endpoint (e.g. "https://texttospeech.googleapis.com/v1/text:synthesize").
func NewClient(baseURL, apiKey string, voice VoiceConfig, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		voice:      voice,
	}
}

// Synthesize converts one chunk of text into audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, ErrTextEmpty
	}

	requestBody, marshalErr := json.Marshal(c.buildRequest(text))
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to marshal synthesize request: %w", marshalErr)
	}

	httpReq, reqErr := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL,
		bytes.NewBuffer(requestBody),
	)
	if reqErr != nil {
		return nil, fmt.Errorf("failed to create synthesize request: %w", reqErr)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	if c.apiKey != "" {
		httpReq.Header.Set(headerAPIKey, c.apiKey)
	}

	resp, doErr := c.httpClient.Do(httpReq)
	if doErr != nil {
		return nil, fmt.Errorf("failed to reach speech provider at %s: %w",
			c.baseURL, doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	return decodeAudio(resp.Body)
}

func (c *Client) buildRequest(text string) synthesizeRequest {
	var req synthesizeRequest

	req.Input.Text = text
	req.Voice.LanguageCode = c.voice.Language
	req.Voice.Name = c.voice.Name
	req.Voice.SSMLGender = c.voice.Gender
	req.AudioConfig.AudioEncoding = c.voice.Encoding

	return req
}

// parseErrorResponse builds a ProviderError from a non-OK response, preserving
// the Retry-After header for the retry policy's extraction hook.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	providerErr := &ProviderError{
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get(headerRetryAfter)),
		Detail:     "",
	}

	var errorBody providerErrorResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&errorBody)
	if decodeErr == nil && errorBody.Error.Message != "" {
		providerErr.Detail = errorBody.Error.Message
	} else {
		body, _ := io.ReadAll(resp.Body)
		providerErr.Detail = string(body)
	}

	return providerErr
}

func decodeAudio(body io.Reader) ([]byte, error) {
	var response synthesizeResponse

	decodeErr := json.NewDecoder(body).Decode(&response)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", decodeErr)
	}

	audioData, b64Err := base64.StdEncoding.DecodeString(response.AudioContent)
	if b64Err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", b64Err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	seconds, parseErr := strconv.Atoi(header)
	if parseErr != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// RetryAfterFromError is the retry policy hook: it extracts a provider-given
// Retry-After delay from a ProviderError.
func RetryAfterFromError(err error) (time.Duration, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.RetryAfter > 0 {
		return providerErr.RetryAfter, true
	}

	return 0, false
}

// IsRetryable reports whether a provider failure is worth another attempt:
// throttling and server-side errors are, request errors are not.
func IsRetryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode == http.StatusTooManyRequests ||
			providerErr.StatusCode >= http.StatusInternalServerError
	}

	// Transport-level failures (timeouts, resets) are retryable.
	return true
}
