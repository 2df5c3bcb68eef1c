// Package speech talks to the Gladia v2 transcription API.
package speech

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

	"github.com/tidwall/gjson"

	"github.com/nickigann03/ai-secretary/internal/config"
	"github.com/nickigann03/ai-secretary/internal/models"
)

const apiKeyHeader = "x-gladia-key"

// ErrMissingCredentials is returned before any remote call when no API key is configured.
var ErrMissingCredentials = errors.New("missing GLADIA_API_KEY")

// Job status values reported by the result endpoint.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// HTTPError carries a non-2xx answer from Gladia.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gladia returned %d: %s", e.StatusCode, e.Body)
}

// Unauthorized reports whether Gladia rejected the API key.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Job is the handle of a submitted transcription.
type Job struct {
	ID        string
	ResultURL string
}

// Utterance is one diarized segment as Gladia reports it. Speaker keeps the
// raw JSON value since Gladia may send a number, a string or nothing at all.
type Utterance struct {
	Speaker gjson.Result
	Text    string
	Start   float64
}

// PollResult is one answer from the result endpoint.
type PollResult struct {
	Status     string
	ErrorCode  string
	Utterances []Utterance
}

// Client is a minimal Gladia client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a client from the speech config. A missing key is reported
// lazily by each call so that the service can start without one.
func NewClient(cfg config.SpeechConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = config.DefaultSpeechBaseURL
	}
	return &Client{baseURL: base, apiKey: strings.TrimSpace(cfg.APIKey), httpClient: httpClient}
}

type submitRequest struct {
	AudioURL    string `json:"audio_url"`
	Diarization bool   `json:"diarization"`
}

// Submit queues a diarized transcription of audioURL.
func (c *Client) Submit(ctx context.Context, audioURL string) (Job, error) {
	if c.apiKey == "" {
		return Job{}, ErrMissingCredentials
	}
	body, err := json.Marshal(submitRequest{AudioURL: audioURL, Diarization: true})
	if err != nil {
		return Job{}, fmt.Errorf("marshal request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/transcription", body)
	if err != nil {
		return Job{}, err
	}
	if !gjson.ValidBytes(raw) {
		return Job{}, fmt.Errorf("submit response is not json")
	}
	job := Job{
		ID:        gjson.GetBytes(raw, "id").String(),
		ResultURL: gjson.GetBytes(raw, "result_url").String(),
	}
	if job.ResultURL == "" {
		if job.ID == "" {
			return Job{}, fmt.Errorf("submit response has no result_url")
		}
		job.ResultURL = c.baseURL + "/v2/transcription/" + job.ID
	}
	return job, nil
}

// Poll fetches the current state of a job.
func (c *Client) Poll(ctx context.Context, resultURL string) (PollResult, error) {
	if c.apiKey == "" {
		return PollResult{}, ErrMissingCredentials
	}
	raw, err := c.do(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return PollResult{}, err
	}
	if !gjson.ValidBytes(raw) {
		return PollResult{}, fmt.Errorf("poll response is not json")
	}
	doc := gjson.ParseBytes(raw)
	res := PollResult{
		Status:    doc.Get("status").String(),
		ErrorCode: doc.Get("error_code").String(),
	}
	if res.Status != StatusDone {
		return res, nil
	}
	doc.Get("result.transcription.utterances").ForEach(func(_, u gjson.Result) bool {
		res.Utterances = append(res.Utterances, Utterance{
			Speaker: u.Get("speaker"),
			Text:    u.Get("text").String(),
			Start:   u.Get("start").Float(),
		})
		return true
	})
	return res, nil
}

// Ping lists at most one transcription to check reachability and the API key.
func (c *Client) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrMissingCredentials
	}
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/transcription?limit=1", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: models.Clip(strings.TrimSpace(string(raw)), 300)}
	}
	return raw, nil
}
