package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to a whisper inference server (faster-whisper-server or
// whisper.cpp's whisper-server) over HTTP.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a client bound to one model size.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // decoding can be very long
		},
	}
}

func (c *Client) Name() string {
	return "whisper:" + c.model
}

// Ping checks that the server is reachable. Used by the model cache as its
// load step, so an unreachable server surfaces as a load failure rather than
// a mid-pipeline decode error.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper server unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Transcribe decodes an audio file. The first pass runs with voice-activity
// filtering disabled to maximize recall on short or quiet clips; if that
// yields zero segments, one retry runs with VAD enabled and a relaxed
// silence threshold.
func (c *Client) Transcribe(ctx context.Context, req Request) (*Result, error) {
	result, err := c.decode(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if len(result.Segments) == 0 {
		log.Printf("[whisper] zero segments for %s, retrying with VAD", filepath.Base(req.AudioPath))
		retried, err := c.decode(ctx, req, true)
		if err != nil {
			return nil, err
		}
		if len(retried.Segments) > 0 {
			return retried, nil
		}
	}
	return result, nil
}

type inferenceResponse struct {
	Language            string    `json:"language"`
	LanguageProbability float64   `json:"language_probability"`
	Segments            []Segment `json:"segments"`
}

func (c *Client) decode(ctx context.Context, req Request, vad bool) (*Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", c.model)
	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("temperature", "0.0")
	writer.WriteField("beam_size", "5")
	if req.Language != "" && req.Language != "auto" {
		writer.WriteField("language", req.Language)
	}
	if vad {
		writer.WriteField("vad_filter", "true")
		writer.WriteField("vad_min_silence_ms", "250")
	} else {
		writer.WriteField("vad_filter", "false")
	}
	writer.Close()

	url := c.baseURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper server error (status %d): %s", resp.StatusCode, truncate(string(body), 300))
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse whisper response: %w", err)
	}

	return &Result{
		Segments:            parsed.Segments,
		DetectedLanguage:    parsed.Language,
		LanguageProbability: parsed.LanguageProbability,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
