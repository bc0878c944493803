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
)

// Remote posts chunks to an OpenAI-compatible /audio/transcriptions endpoint,
// which accepts webm and other browser containers as-is.
type Remote struct {
	base   string
	apiKey string
	model  string
	ext    string
	http   *http.Client
}

func NewRemote(base, apiKey, model, ext string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if model == "" {
		model = "whisper-1"
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "webm"
	}
	return &Remote{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		model:  model,
		ext:    ext,
		http:   &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Transcribe(ctx context.Context, chunk []byte) (string, error) {
	text, err := r.do(ctx, chunk)
	if err != nil {
		return "", &TranscriptionError{Backend: "remote", Err: err}
	}
	return text, nil
}

func (r *Remote) do(ctx context.Context, chunk []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "recording."+r.ext)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(chunk); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := mw.WriteField("model", r.model); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var tr struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return tr.Text, nil
}

func (r *Remote) Close() error { return nil }
