// Package transcription talks to the speech-to-text provider: publish the
// recording, poll until the job settles, then download the transcript.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/types"
)

const providerName = "stt-http"

type PublishResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaId          string  `json:"MediaId"`
		Status           string  `json:"Status"`
		TranscriptionURL string  `json:"TranscriptionURL"`
		Duration         float64 `json:"Duration"`
		Confidence       float64 `json:"Confidence"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type StatusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		Status               string  `json:"Status"`
		TranscriptionTextURL string  `json:"TranscriptionTextURL"`
		Duration             float64 `json:"Duration"`
		Confidence           float64 `json:"Confidence"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type Config struct {
	BaseURL       string
	APIKey        string
	CallType      string
	CostPerMinute float64
	PollInterval  time.Duration
	PollAttempts  int
	HTTPClient    *http.Client
	// Sleep waits between polls; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Client struct {
	cfg Config
	log *logger.Logger
}

func New(cfg Config, log *logger.Logger) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1500 * time.Millisecond
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 40
	}
	if cfg.CallType == "" {
		cfg.CallType = "C2C"
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{cfg: cfg, log: log.Component("transcription")}
}

// Transcribe runs one publish/poll/download cycle. It does not retry; the
// caller owns the retry policy and uses the error kind to decide.
func (c *Client) Transcribe(ctx context.Context, audioRef string) (types.Transcription, error) {
	const op = "transcription.transcribe"
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return types.Transcription{}, failures.Configuration(op, errors.New("transcription base url not set"))
	}
	log := c.log.WithField("audio_ref", audioRef)

	pub, err := c.publish(ctx, audioRef)
	if err != nil {
		return types.Transcription{}, err
	}

	textURL := ""
	duration, confidence := pub.Data.Duration, pub.Data.Confidence
	if pub.Data.TranscriptionURL != "" && strings.EqualFold(pub.Data.Status, "success") {
		textURL = pub.Data.TranscriptionURL
	} else {
		st, err := c.poll(ctx, pub.Data.MediaId)
		if err != nil {
			return types.Transcription{}, err
		}
		textURL = st.Data.TranscriptionTextURL
		duration, confidence = st.Data.Duration, st.Data.Confidence
	}

	log.WithField("text_url", textURL).Debug("downloading transcript")
	text, err := c.download(ctx, textURL)
	if err != nil {
		return types.Transcription{}, err
	}
	if strings.TrimSpace(text) == "" {
		return types.Transcription{}, failures.Content(op, errors.New("provider returned an empty transcript"))
	}

	tr := types.Transcription{
		Text:            text,
		Confidence:      clamp01(confidence),
		DurationSeconds: int(duration + 0.5),
		Cost:            Cost(duration, c.cfg.CostPerMinute),
		Provider:        providerName,
	}
	log.WithFields(map[string]interface{}{
		"chars":    len(tr.Text),
		"duration": tr.DurationSeconds,
		"cost":     tr.Cost,
	}).Info("transcription complete")
	return tr, nil
}

// Cost is the per-minute provider charge for an audio duration in seconds.
func Cost(durationSeconds, perMinute float64) float64 {
	if durationSeconds <= 0 || perMinute <= 0 {
		return 0
	}
	return durationSeconds / 60.0 * perMinute
}

func (c *Client) publish(ctx context.Context, audioRef string) (PublishResponse, error) {
	const op = "transcription.publish"
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/transcribe"

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	_ = w.WriteField("callRecordingLink", audioRef)
	_ = w.WriteField("callType", c.cfg.CallType)
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &b)
	if err != nil {
		return PublishResponse{}, failures.Configuration(op, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp PublishResponse
	if err := c.doJSON(op, req, &resp); err != nil {
		return resp, err
	}
	if resp.Code != 0 && resp.Code != http.StatusOK {
		return resp, failures.New(failures.HTTPStatus(resp.Code), op,
			fmt.Errorf("publish rejected: code=%d reason=%s", resp.Code, resp.Reason))
	}
	if resp.Data.MediaId == "" && resp.Data.TranscriptionURL == "" {
		return resp, failures.Content(op, errors.New("publish response carries neither media id nor transcript url"))
	}
	return resp, nil
}

func (c *Client) poll(ctx context.Context, mediaID string) (StatusResponse, error) {
	const op = "transcription.poll"
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + "/getstatus")
	if err != nil {
		return StatusResponse{}, failures.Configuration(op, err)
	}
	q := u.Query()
	q.Set("mediaId", mediaID)
	u.RawQuery = q.Encode()

	var lastErr error
	for i := 0; i < c.cfg.PollAttempts; i++ {
		if err := c.cfg.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return StatusResponse{}, failures.Transient(op, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return StatusResponse{}, failures.Configuration(op, err)
		}
		var s StatusResponse
		if err := c.doJSON(op, req, &s); err != nil {
			if !failures.IsTransient(err) {
				return s, err
			}
			lastErr = err
			continue
		}
		switch strings.ToLower(s.Data.Status) {
		case "success":
			if s.Data.TranscriptionTextURL == "" {
				return s, failures.Content(op, errors.New("job succeeded without a transcript url"))
			}
			return s, nil
		case "queued", "processing", "":
			continue
		case "failed":
			return s, failures.Content(op, fmt.Errorf("transcription failed: %s", s.Reason))
		}
	}
	if lastErr != nil {
		return StatusResponse{}, lastErr
	}
	return StatusResponse{}, failures.Transient(op, fmt.Errorf("media %s not ready after %d polls", mediaID, c.cfg.PollAttempts))
}

func (c *Client) download(ctx context.Context, textURL string) (string, error) {
	const op = "transcription.download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, textURL, nil)
	if err != nil {
		return "", failures.Content(op, err)
	}
	body, err := c.do(op, req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) doJSON(op string, req *http.Request, target interface{}) error {
	body, err := c.do(op, req)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return failures.Transient(op, errors.New("empty body"))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return failures.Content(op, fmt.Errorf("json decode error: %v body=%s", err, truncate(string(body), 200)))
	}
	return nil
}

func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, failures.Transient(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failures.Transient(op, err)
	}
	if resp.StatusCode >= 300 {
		return nil, failures.New(failures.HTTPStatus(resp.StatusCode), op,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}
	return body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
