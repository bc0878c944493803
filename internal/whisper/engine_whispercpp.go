//go:build whisper_cpp

package whisper

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/relay/internal/audio"
)

// maxChunkSamples caps a single chunk at 30s, whisper's native window.
const maxChunkSamples = 30 * audio.SampleRate

// EngineCPP is the whisper.cpp-backed Engine. The model is read-only after
// load; contexts are created per call and serialized by mu.
type EngineCPP struct {
	model   whisperpkg.Model
	threads uint
	mu      sync.Mutex
}

func NewEngine(modelPath string) (Engine, error) {
	threads := uint(runtime.NumCPU())
	if v := os.Getenv("WHISPER_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			threads = uint(n)
		}
	}

	log.Info().Str("model", modelPath).Uint("threads", threads).Msg("whisper: loading model")
	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelPath, err)
	}
	log.Info().Str("model", modelPath).Msg("whisper: model loaded")
	return &EngineCPP{model: m, threads: threads}, nil
}

func (e *EngineCPP) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Process transcribes one chunk and joins its segments.
func (e *EngineCPP) Process(samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if len(samples) > maxChunkSamples {
		log.Warn().Int("samples", len(samples)).Int("max", maxChunkSamples).Msg("whisper: truncating long chunk")
		samples = samples[len(samples)-maxChunkSamples:]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	ctx.SetThreads(e.threads)
	_ = ctx.SetLanguage("auto")
	ctx.SetSplitOnWord(true)

	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var segments []string
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Msg("whisper: error reading segment")
			break
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}

	full := strings.Join(segments, " ")
	log.Debug().
		Str("text", full).
		Str("lang", ctx.DetectedLanguage()).
		Int("segments", len(segments)).
		Int("samples", len(samples)).
		Msg("whisper: transcription complete")
	return full, nil
}
