package transcript

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
)

// ErrInvalidInput indicates audio that fails the encoding or size gates. It
// is raised before any network call is made.
var ErrInvalidInput = errors.New("invalid audio input")

// MaxAudioBytes caps uploaded clips at 25 MiB.
const MaxAudioBytes = 25 << 20

var allowedMIME = map[string]struct{}{
	"audio/wav":   {},
	"audio/mpeg":  {},
	"audio/mp4":   {},
	"audio/x-m4a": {},
	"audio/webm":  {},
}

// ValidateClip checks a clip's declared MIME type and size against the upload
// gates. Callers use it to fail fast without touching the external service.
func ValidateClip(size int64, mimeType string) error {
	// strip any ;codecs=... parameter browsers attach
	mt := strings.TrimSpace(mimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if _, ok := allowedMIME[mt]; !ok {
		return fmt.Errorf("%w: unsupported audio type %q", ErrInvalidInput, mimeType)
	}
	if size <= 0 {
		return fmt.Errorf("%w: empty audio", ErrInvalidInput)
	}
	if size > MaxAudioBytes {
		return fmt.Errorf("%w: audio exceeds 25 MiB", ErrInvalidInput)
	}
	return nil
}

// AssemblyAIClient transcribes finite clips via the AssemblyAI pre-recorded
// API: upload the bytes, create a transcript job, poll until it settles.
type AssemblyAIClient struct {
	HTTPClient   *http.Client
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
}

func NewAssemblyAIClient(apiKey string) *AssemblyAIClient {
	return &AssemblyAIClient{
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		APIKey:       apiKey,
		BaseURL:      "https://api.assemblyai.com/v2",
		PollInterval: time.Second,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code,omitempty"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe converts a single-utterance clip to text. The MIME/size gates
// run first so bad input never costs an upload.
func (c *AssemblyAIClient) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("assemblyai api key missing")
	}
	if err := ValidateClip(int64(len(audio)), mimeType); err != nil {
		return "", err
	}

	uploadURL, err := c.upload(ctx, audio)
	if err != nil {
		return "", err
	}
	id, err := c.createTranscript(ctx, uploadURL)
	if err != nil {
		return "", err
	}
	return c.poll(ctx, id)
}

func (c *AssemblyAIClient) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var ur uploadResponse
	if err := c.do(req, &ur); err != nil {
		return "", fmt.Errorf("assemblyai upload: %w", err)
	}
	if ur.UploadURL == "" {
		return "", fmt.Errorf("assemblyai upload: empty upload_url")
	}
	return ur.UploadURL, nil
}

func (c *AssemblyAIClient) createTranscript(ctx context.Context, audioURL string) (string, error) {
	body, _ := json.Marshal(transcriptRequest{AudioURL: audioURL, LanguageCode: "en"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	var tr transcriptResponse
	if err := c.do(req, &tr); err != nil {
		return "", fmt.Errorf("assemblyai create transcript: %w", err)
	}
	if tr.ID == "" {
		return "", fmt.Errorf("assemblyai create transcript: empty id")
	}
	return tr.ID, nil
}

func (c *AssemblyAIClient) poll(ctx context.Context, id string) (string, error) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/transcript/"+id, nil)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", c.APIKey)

		var tr transcriptResponse
		if err := c.do(req, &tr); err != nil {
			return "", fmt.Errorf("assemblyai poll: %w", err)
		}
		switch tr.Status {
		case "completed":
			return strings.TrimSpace(tr.Text), nil
		case "error":
			return "", fmt.Errorf("assemblyai transcription failed: %s", tr.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *AssemblyAIClient) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
