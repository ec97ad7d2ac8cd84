package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/audio"
	"github.com/phrasewatch/phrasewatch/internal/config"
)

// onlineClient posts WAV payloads to the remote recognition service.
// Expected contract: 200 with {"text","confidence"} on success, 422 when
// the audio carried no recognizable speech. The client-side timeout
// bounds an otherwise unbounded network call.
type onlineClient struct {
	endpoint string
	apiKey   string
	language string
	client   *http.Client
}

type onlineResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func newOnlineClient(cfg config.OnlineConfig) *onlineClient {
	return &onlineClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}
}

func (c *onlineClient) Transcribe(ctx context.Context, sample audio.Sample) (string, error) {
	if c.endpoint == "" {
		return "", fmt.Errorf("%w: no endpoint configured", ErrServiceUnavailable)
	}

	payload, err := audio.EncodeWAV(sample)
	if err != nil {
		return "", &BackendError{Detail: "encode wav payload", Err: err}
	}

	target := c.endpoint
	if c.language != "" {
		target += "?language=" + url.QueryEscape(c.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return "", &BackendError{Detail: "build service request", Err: err}
	}
	req.Header.Set("Content-Type", "audio/wav")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return "", ErrUnintelligible
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: service returned %s", ErrServiceUnavailable, resp.Status)
	case resp.StatusCode >= 300:
		return "", &BackendError{Detail: fmt.Sprintf("service returned %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
	}
	var result onlineResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &BackendError{Detail: "decode service response", Err: err}
	}
	return result.Text, nil
}
