package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/obiente/translate/relay/internal/artifacts"
	"github.com/obiente/translate/relay/internal/language"
	"github.com/obiente/translate/relay/internal/metrics"
)

// echoTranscriber returns the chunk bytes as the transcript, so tests choose
// the text by choosing the audio. The chunk "fail" produces an error.
type echoTranscriber struct {
	mu    sync.Mutex
	calls int
}

func (e *echoTranscriber) Transcribe(_ context.Context, chunk []byte) (string, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if string(chunk) == "fail" {
		return "", errors.New("model crashed")
	}
	return string(chunk), nil
}

func (e *echoTranscriber) Close() error { return nil }

func (e *echoTranscriber) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakeTranslator prefixes the target code; texts listed in exhausted fail
// the way a service that never answers does.
type fakeTranslator struct {
	mu          sync.Mutex
	exhausted   map[string]bool
	translates  int
	summaries   []string
	summaryText string
}

func (f *fakeTranslator) Translate(_ context.Context, text, src, dst string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translates++
	if f.exhausted[text] {
		return "", language.ErrNoResult
	}
	return fmt.Sprintf(" [%s] %s\n", dst, text), nil
}

func (f *fakeTranslator) Summarize(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, text)
	if f.summaryText == "" {
		return "", language.ErrNoResult
	}
	return f.summaryText, nil
}

func (f *fakeTranslator) Summaries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.summaries...)
}

func (f *fakeTranslator) Translates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.translates
}

type memRecorder struct {
	mu      sync.Mutex
	entries []artifacts.Entry
}

func (r *memRecorder) Record(_ context.Context, e artifacts.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type harness struct {
	t          *testing.T
	store      *artifacts.Store
	tr         *echoTranscriber
	lang       *fakeTranslator
	rec        *memRecorder
	metrics    *metrics.Metrics
	handler    *Handler
	server     *httptest.Server
	serveErrCh chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := artifacts.New(filepath.Join(t.TempDir(), "recording"), "webm")
	if err := store.Reset(); err != nil {
		t.Fatal(err)
	}
	h := &harness{
		t:          t,
		store:      store,
		tr:         &echoTranscriber{},
		lang:       &fakeTranslator{exhausted: map[string]bool{}},
		rec:        &memRecorder{},
		metrics:    metrics.New(prometheus.NewRegistry()),
		serveErrCh: make(chan error, 64),
	}
	h.handler = NewHandler(Deps{
		Store:       store,
		Transcriber: h.tr,
		Language:    h.lang,
		Index:       h.rec,
		Metrics:     h.metrics,
	})
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		h.serveErrCh <- h.handler.Serve(context.Background(), "test-session", ws)
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) dial() *websocket.Conn {
	h.t.Helper()
	wsURL := "ws" + h.server.URL[4:]
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		h.t.Fatalf("dial error: %v", err)
	}
	h.t.Cleanup(func() { ws.Close() })
	return ws
}

func (h *harness) path(name string) string {
	return filepath.Join(h.store.Dir(), name)
}

func (h *harness) exists(name string) bool {
	_, err := os.Stat(h.path(name))
	return err == nil
}

func (h *harness) read(name string) string {
	h.t.Helper()
	b, err := os.ReadFile(h.path(name))
	if err != nil {
		h.t.Fatalf("read %s: %v", name, err)
	}
	return string(b)
}

func (h *harness) serveErr() error {
	h.t.Helper()
	select {
	case err := <-h.serveErrCh:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for session to end")
		return nil
	}
}

func sendSelection(t *testing.T, ws *websocket.Conn, src, dst string) {
	t.Helper()
	msg := fmt.Sprintf(`{"sourceLang":%q,"targetLang":%q}`, src, dst)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write selection: %v", err)
	}
}

func sendAudio(t *testing.T, ws *websocket.Conn, audio string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte(audio)); err != nil {
		t.Fatalf("write audio: %v", err)
	}
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("expected text response, got type %d", mt)
	}
	return string(data)
}

func cycle(t *testing.T, ws *websocket.Conn, src, dst, audio string) {
	t.Helper()
	sendSelection(t, ws, src, dst)
	sendAudio(t, ws, audio)
}

func TestTranslateCycle(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	cycle(t, ws, "en", "fr", "Hello world")
	if got := readText(t, ws); got != "[fr] Hello world" {
		t.Fatalf("unexpected response %q", got)
	}

	if got := h.read("recording_1.webm"); got != "Hello world" {
		t.Errorf("unexpected audio file %q", got)
	}
	if got := h.read("recording_1.txt"); got != "Hello world" {
		t.Errorf("unexpected transcript file %q", got)
	}
	if got := h.read("recording_1_fr.txt"); got != "[fr] Hello world" {
		t.Errorf("unexpected translation file %q", got)
	}
	if got := h.read("full_transcript.txt"); got != "Hello world\n" {
		t.Errorf("unexpected full transcript %q", got)
	}
	if got := testutil.ToFloat64(h.metrics.Chunks.WithLabelValues(artifacts.OutcomeTranslated)); got != 1 {
		t.Errorf("expected 1 translated chunk, got %v", got)
	}
}

func TestTranscriptIsTrimmed(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	cycle(t, ws, "es", "en", "  Hola mundo \n")
	if got := readText(t, ws); got != "[en] Hola mundo" {
		t.Fatalf("unexpected response %q", got)
	}
	if got := h.read("recording_1.txt"); got != "Hola mundo" {
		t.Errorf("unexpected transcript %q", got)
	}
}

func TestShortTranscriptSkipsCycle(t *testing.T) {
	for _, short := range []string{"", "   ", "ok", " Hm. ", "été"} {
		h := newHarness(t)
		ws := h.dial()

		cycle(t, ws, "en", "fr", short)
		cycle(t, ws, "en", "fr", "Second chunk")

		// The first response must belong to the second chunk.
		if got := readText(t, ws); got != "[fr] Second chunk" {
			t.Fatalf("%q: unexpected response %q", short, got)
		}
		if !h.exists("recording_1.webm") {
			t.Errorf("%q: audio should be persisted", short)
		}
		if h.exists("recording_1.txt") || h.exists("recording_1_fr.txt") {
			t.Errorf("%q: no transcript or translation expected for chunk 1", short)
		}
		if !h.exists("recording_2.txt") || !h.exists("recording_2_fr.txt") {
			t.Errorf("%q: chunk 2 should have all three files", short)
		}
		if got := h.read("full_transcript.txt"); got != "Second chunk\n" {
			t.Errorf("%q: unexpected full transcript %q", short, got)
		}
		if h.lang.Translates() != 1 {
			t.Errorf("%q: expected 1 translation, got %d", short, h.lang.Translates())
		}
	}
}

func TestFourCharacterTranscriptIsTranslated(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	cycle(t, ws, "en", "nl", "Yes!")
	if got := readText(t, ws); got != "[nl] Yes!" {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestTranscriptionFailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	cycle(t, ws, "en", "fr", "fail")
	cycle(t, ws, "en", "fr", "Still here")

	if got := readText(t, ws); got != "[fr] Still here" {
		t.Fatalf("unexpected response %q", got)
	}
	if h.exists("recording_1.txt") {
		t.Error("failed chunk should not have a transcript")
	}
	if got := testutil.ToFloat64(h.metrics.Chunks.WithLabelValues(artifacts.OutcomeFailed)); got != 1 {
		t.Errorf("expected 1 failed chunk, got %v", got)
	}
}

func TestTranslationExhaustedSendsNothing(t *testing.T) {
	h := newHarness(t)
	h.lang.exhausted["Nobody answers"] = true
	ws := h.dial()

	cycle(t, ws, "en", "fr", "Nobody answers")
	cycle(t, ws, "en", "fr", "Try again")

	if got := readText(t, ws); got != "[fr] Try again" {
		t.Fatalf("unexpected response %q", got)
	}
	if !h.exists("recording_1.txt") {
		t.Error("transcript should be persisted before translation")
	}
	if h.exists("recording_1_fr.txt") {
		t.Error("no translation file expected after exhaustion")
	}
	if got := h.read("full_transcript.txt"); got != "Nobody answers\nTry again\n" {
		t.Errorf("unexpected full transcript %q", got)
	}
}

func TestUnknownLanguageSkipsCycle(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	cycle(t, ws, "en", "xx", "Hello world")
	cycle(t, ws, "en", "it", "Ciao")

	if got := readText(t, ws); got != "[it] Ciao" {
		t.Fatalf("unexpected response %q", got)
	}
	if h.tr.Calls() != 1 {
		t.Errorf("transcriber should only run for the valid cycle, got %d calls", h.tr.Calls())
	}
	if h.lang.Translates() != 1 {
		t.Errorf("translator should only run for the valid cycle, got %d calls", h.lang.Translates())
	}
	if !h.exists("recording_1.webm") || h.exists("recording_2.webm") {
		t.Error("discarded chunk should not consume a chunk id")
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.entries) != 2 || h.rec.entries[0].Outcome != artifacts.OutcomeUnknownLang {
		t.Errorf("unexpected index entries %+v", h.rec.entries)
	}
}

func TestSummaryWithoutTranscript(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	sendSelection(t, ws, SummaryToken, "")
	if got := readText(t, ws); got != NoTranscriptMessage {
		t.Fatalf("expected graceful message, got %q", got)
	}
	if len(h.lang.Summaries()) != 0 {
		t.Error("summarizer should not be called without a transcript")
	}

	// The session survives.
	cycle(t, ws, "en", "fr", "Hello world")
	if got := readText(t, ws); got != "[fr] Hello world" {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestSummaryAfterChunks(t *testing.T) {
	h := newHarness(t)
	h.lang.summaryText = "  Two people greeted each other.  "
	ws := h.dial()

	cycle(t, ws, "en", "fr", "Hello world")
	readText(t, ws)
	cycle(t, ws, "en", "fr", "How are you")
	readText(t, ws)

	sendSelection(t, ws, SummaryToken, "")
	if got := readText(t, ws); got != "Two people greeted each other." {
		t.Fatalf("unexpected summary %q", got)
	}
	if got := h.lang.Summaries(); len(got) != 1 || got[0] != "Hello world\nHow are you\n" {
		t.Errorf("unexpected summarizer input %q", got)
	}
	if got := h.read("summary.txt"); got != "Two people greeted each other." {
		t.Errorf("unexpected summary file %q", got)
	}
}

func TestSummaryFailureSendsNothing(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	cycle(t, ws, "en", "fr", "Hello world")
	readText(t, ws)

	sendSelection(t, ws, SummaryToken, "")
	cycle(t, ws, "en", "fr", "After summary")
	if got := readText(t, ws); got != "[fr] After summary" {
		t.Fatalf("unexpected response %q", got)
	}
	if h.exists("summary.txt") {
		t.Error("no summary file expected after failure")
	}
}

func TestBinaryBeforeSelectionIsProtocolError(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	sendAudio(t, ws, "Hello world")

	var pe *ProtocolError
	if err := h.serveErr(); !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if pe.State != AwaitingSelection {
		t.Errorf("expected awaiting_selection, got %s", pe.State)
	}
	if h.tr.Calls() != 0 {
		t.Error("audio must not be processed")
	}
}

func TestSecondAudioWithoutSelectionIsRejected(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	cycle(t, ws, "en", "fr", "Hello world")
	readText(t, ws)
	sendAudio(t, ws, "Sneaky second chunk")

	var pe *ProtocolError
	if err := h.serveErr(); !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if h.exists("recording_2.webm") {
		t.Error("second audio message must not be persisted")
	}
}

func TestTextInsteadOfAudioIsProtocolError(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	sendSelection(t, ws, "en", "fr")
	sendSelection(t, ws, "en", "fr")

	var pe *ProtocolError
	if err := h.serveErr(); !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if pe.State != AwaitingAudio {
		t.Errorf("expected awaiting_audio, got %s", pe.State)
	}
}

func TestMalformedSelectionClosesSession(t *testing.T) {
	h := newHarness(t)
	ws := h.dial()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	var pe *ProtocolError
	if err := h.serveErr(); !errors.As(err, &pe) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}

func TestConcurrentSessions(t *testing.T) {
	h := newHarness(t)
	const n = 8

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ws, _, err := websocket.DefaultDialer.Dial("ws"+h.server.URL[4:], nil)
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			defer ws.Close()
			text := fmt.Sprintf("Speaker number %d", i)
			msg := `{"sourceLang":"en","targetLang":"fr"}`
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				t.Error(err)
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, []byte(text)); err != nil {
				t.Error(err)
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, data, err := ws.ReadMessage()
			if err != nil {
				t.Error(err)
				return
			}
			if string(data) != "[fr] "+text {
				t.Errorf("unexpected response %q", data)
			}
		}(i)
	}
	wg.Wait()

	for id := 1; id <= n; id++ {
		if !h.exists(fmt.Sprintf("recording_%d.txt", id)) {
			t.Errorf("missing transcript for chunk %d", id)
		}
	}
	if h.exists(fmt.Sprintf("recording_%d.webm", n+1)) {
		t.Error("unexpected extra chunk id")
	}

	lines := strings.Split(strings.TrimSuffix(h.read("full_transcript.txt"), "\n"), "\n")
	sort.Strings(lines)
	if len(lines) != n {
		t.Fatalf("expected %d transcript lines, got %d", n, len(lines))
	}
	for i, l := range lines {
		if l != fmt.Sprintf("Speaker number %d", i) {
			t.Errorf("unexpected line %q", l)
		}
	}
}

func TestParseSelection(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    Selection
		wantErr bool
	}{
		{"translation", `{"sourceLang":"en","targetLang":"fr"}`, Selection{"en", "fr"}, false},
		{"summary", `{"sourceLang":"summary","targetLang":""}`, Selection{"summary", ""}, false},
		{"extra fields", `{"sourceLang":"en","targetLang":"fr","v":2}`, Selection{"en", "fr"}, false},
		{"missing target", `{"sourceLang":"en"}`, Selection{}, true},
		{"missing source", `{"targetLang":"fr"}`, Selection{}, true},
		{"empty source", `{"sourceLang":"","targetLang":"fr"}`, Selection{}, true},
		{"wrong type", `{"sourceLang":1,"targetLang":"fr"}`, Selection{}, true},
		{"not json", `en->fr`, Selection{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseSelection([]byte(tc.in))
			if tc.wantErr {
				var pe *ProtocolError
				if !errors.As(err, &pe) {
					t.Fatalf("expected *ProtocolError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}
