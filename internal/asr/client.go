package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"speech-preroll/internal/audio"
)

// Client posts WAV audio to a transcription service's /transcribe endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type Resp struct {
	Text string `json:"text"`
}

func (c *Client) TranscribePCM16(ctx context.Context, pcm []int16, sampleRate int, language string) (string, error) {
	return c.TranscribeWAV(ctx, audio.EncodeWAV(pcm, sampleRate), language)
}

func (c *Client) TranscribeWAV(ctx context.Context, wav []byte, language string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transcribe", bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if language != "" {
		req.Header.Set("x-language", language)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return "", fmt.Errorf("asr status: %s", res.Status)
	}

	var r Resp
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("decode asr response: %w", err)
	}
	return strings.TrimSpace(r.Text), nil
}
