// Package session runs the selection/audio/response protocol for one client
// connection.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/relay/internal/artifacts"
	"github.com/obiente/translate/relay/internal/language"
	"github.com/obiente/translate/relay/internal/metrics"
	"github.com/obiente/translate/relay/internal/whisper"
)

// Transcripts of this many characters or fewer are treated as silence.
const minTranscriptLen = 3

// Conn is the subset of *websocket.Conn the protocol needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Store persists chunk artifacts. *artifacts.Store implements it.
type Store interface {
	NextChunkID() int64
	WriteChunk(id int64, audio []byte) error
	WriteTranscript(id int64, text string) error
	WriteTranslation(id int64, targetLang, text string) error
	AppendTranscript(text string) error
	ReadTranscript() (string, error)
	WriteSummary(text string) error
}

// Translator is the language service. *language.Client implements it.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// Recorder logs chunk outcomes. *artifacts.Index implements it.
type Recorder interface {
	Record(ctx context.Context, e artifacts.Entry) error
}

type Deps struct {
	Store       Store
	Transcriber whisper.Transcriber
	Language    Translator
	// Index is optional.
	Index   Recorder
	Metrics *metrics.Metrics
}

type Handler struct {
	deps Deps
}

func NewHandler(d Deps) *Handler {
	if d.Metrics == nil {
		d.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Handler{deps: d}
}

// Serve runs cycles on conn until reading or writing fails or the client
// breaks the protocol. ctx bounds the external calls; it is not tied to the
// connection, so a disconnect does not cut a retry short.
func (h *Handler) Serve(ctx context.Context, id string, conn Conn) error {
	s := &session{
		h:    h,
		id:   id,
		conn: conn,
		log:  log.With().Str("session", id).Logger(),
	}
	return s.run(ctx)
}

type session struct {
	h     *Handler
	id    string
	conn  Conn
	log   zerolog.Logger
	state State
}

func (s *session) run(ctx context.Context) error {
	for {
		s.state = AwaitingSelection
		s.log.Debug().Msg("waiting for source/target language")
		sel, err := s.readSelection()
		if err != nil {
			return err
		}

		if sel.IsSummary() {
			s.state = Summarizing
			if err := s.summarize(ctx); err != nil {
				return err
			}
			continue
		}

		s.state = AwaitingAudio
		chunk, err := s.readAudio()
		if err != nil {
			return err
		}

		s.state = Processing
		if err := s.process(ctx, sel, chunk); err != nil {
			return err
		}
	}
}

func (s *session) readSelection() (Selection, error) {
	mt, data, err := s.conn.ReadMessage()
	if err != nil {
		return Selection{}, err
	}
	if mt != websocket.TextMessage {
		return Selection{}, &ProtocolError{State: s.state, Reason: "expected selection text message, got binary"}
	}
	return ParseSelection(data)
}

func (s *session) readAudio() ([]byte, error) {
	mt, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, &ProtocolError{State: s.state, Reason: "expected binary audio message, got text"}
	}
	return data, nil
}

func (s *session) send(text string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// process handles one audio chunk. Only a failed write to the client is
// returned; everything else ends the cycle without a response.
func (s *session) process(ctx context.Context, sel Selection, chunk []byte) error {
	m := s.h.deps.Metrics
	m.ChunkBytes.Observe(float64(len(chunk)))
	entry := artifacts.Entry{SessionID: s.id, SourceLang: sel.SourceLang, TargetLang: sel.TargetLang}

	if err := validateLanguages(sel); err != nil {
		s.log.Warn().Err(err).Str("source", sel.SourceLang).Str("target", sel.TargetLang).Msg("discarding chunk")
		s.finish(ctx, entry, artifacts.OutcomeUnknownLang)
		return nil
	}

	st := s.h.deps.Store
	id := st.NextChunkID()
	entry.ChunkID = id
	clog := s.log.With().Int64("chunk", id).Logger()

	if err := st.WriteChunk(id, chunk); err != nil {
		clog.Error().Err(err).Msg("cannot persist audio")
		s.finish(ctx, entry, artifacts.OutcomeFailed)
		return nil
	}
	clog.Info().Int("bytes", len(chunk)).Str("source", sel.SourceLang).Str("target", sel.TargetLang).Msg("received audio")

	start := time.Now()
	raw, err := s.h.deps.Transcriber.Transcribe(ctx, chunk)
	m.TranscribeSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		clog.Error().Err(err).Msg("transcription failed")
		s.finish(ctx, entry, artifacts.OutcomeFailed)
		return nil
	}

	text := strings.TrimSpace(raw)
	entry.TranscriptLen = utf8.RuneCountInString(text)
	if entry.TranscriptLen <= minTranscriptLen {
		clog.Info().Str("text", text).Msg("no speech detected")
		s.finish(ctx, entry, artifacts.OutcomeNoSpeech)
		return nil
	}
	clog.Info().Str("text", text).Msg("transcribed")

	if err := st.WriteTranscript(id, text); err != nil {
		clog.Error().Err(err).Msg("cannot persist transcript")
		s.finish(ctx, entry, artifacts.OutcomeFailed)
		return nil
	}
	if err := st.AppendTranscript(text); err != nil {
		clog.Error().Err(err).Msg("cannot append to full transcript")
		s.finish(ctx, entry, artifacts.OutcomeFailed)
		return nil
	}

	translated, err := s.h.deps.Language.Translate(ctx, text, sel.SourceLang, sel.TargetLang)
	if err != nil {
		clog.Error().Err(err).Msg("translation failed")
		s.finish(ctx, entry, artifacts.OutcomeFailed)
		return nil
	}
	translated = strings.TrimSpace(translated)
	if err := st.WriteTranslation(id, sel.TargetLang, translated); err != nil {
		clog.Error().Err(err).Msg("cannot persist translation")
		s.finish(ctx, entry, artifacts.OutcomeFailed)
		return nil
	}
	clog.Info().Str("translation", translated).Msg("translated")

	s.finish(ctx, entry, artifacts.OutcomeTranslated)
	return s.send(translated)
}

func validateLanguages(sel Selection) error {
	if _, err := language.Lookup(sel.SourceLang); err != nil {
		return err
	}
	_, err := language.Lookup(sel.TargetLang)
	return err
}

func (s *session) finish(ctx context.Context, e artifacts.Entry, outcome string) {
	s.h.deps.Metrics.Chunks.WithLabelValues(outcome).Inc()
	if s.h.deps.Index == nil {
		return
	}
	e.Outcome = outcome
	if err := s.h.deps.Index.Record(ctx, e); err != nil {
		s.log.Warn().Err(err).Int64("chunk", e.ChunkID).Msg("chunk index write failed")
	}
}

func (s *session) summarize(ctx context.Context) error {
	m := s.h.deps.Metrics
	st := s.h.deps.Store

	transcript, err := st.ReadTranscript()
	if errors.Is(err, artifacts.ErrNotFound) {
		s.log.Info().Msg("summary requested before any transcript")
		m.Summaries.WithLabelValues("empty").Inc()
		return s.send(NoTranscriptMessage)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("cannot read full transcript")
		m.Summaries.WithLabelValues("failed").Inc()
		return nil
	}

	summary, err := s.h.deps.Language.Summarize(ctx, transcript)
	if err != nil {
		s.log.Error().Err(err).Msg("summary failed")
		m.Summaries.WithLabelValues("failed").Inc()
		return nil
	}
	summary = strings.TrimSpace(summary)
	if err := st.WriteSummary(summary); err != nil {
		s.log.Error().Err(err).Msg("cannot persist summary")
	}
	s.log.Info().Str("summary", summary).Msg("summarized transcript")
	m.Summaries.WithLabelValues("ok").Inc()
	return s.send(summary)
}
