// Package whisper turns an audio chunk into text, either with a local
// whisper.cpp model or with a remote OpenAI-compatible transcription API.
package whisper

import (
	"context"
	"fmt"
	"time"

	"github.com/obiente/translate/relay/internal/audio"
)

// Transcriber converts one audio chunk to text.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk []byte) (string, error)
	Close() error
}

// TranscriptionError wraps any failure to produce text for a chunk.
type TranscriptionError struct {
	Backend string
	Err     error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe (%s): %v", e.Backend, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Engine is a loaded speech model working on 16 kHz mono PCM.
// Implementations are backed by whisper.cpp (build tag: whisper_cpp) or are
// a stub that refuses to load.
type Engine interface {
	Process(samples []float32) (string, error)
	Close() error
}

// Local runs chunks through an in-process Engine. Chunks must be WAV.
type Local struct {
	engine Engine
}

func NewLocal(e Engine) *Local {
	return &Local{engine: e}
}

func (l *Local) Transcribe(ctx context.Context, chunk []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &TranscriptionError{Backend: "whisper.cpp", Err: err}
	}
	samples, err := audio.Decode(chunk)
	if err != nil {
		return "", &TranscriptionError{Backend: "whisper.cpp", Err: err}
	}
	text, err := l.engine.Process(samples)
	if err != nil {
		return "", &TranscriptionError{Backend: "whisper.cpp", Err: err}
	}
	return text, nil
}

func (l *Local) Close() error { return l.engine.Close() }

// Options selects and configures a backend for New.
type Options struct {
	Backend   string // "whisper" or "openai"
	ModelPath string

	BaseURL  string
	APIKey   string
	Model    string
	AudioExt string
	Timeout  time.Duration
}

// New loads the configured backend. For "whisper" the model is loaded once
// here and shared by every session.
func New(opts Options) (Transcriber, error) {
	switch opts.Backend {
	case "whisper":
		e, err := NewEngine(opts.ModelPath)
		if err != nil {
			return nil, err
		}
		return NewLocal(e), nil
	case "openai", "":
		return NewRemote(opts.BaseURL, opts.APIKey, opts.Model, opts.AudioExt, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", opts.Backend)
	}
}
