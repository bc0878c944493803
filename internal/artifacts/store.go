// Package artifacts owns the recording directory: per-chunk audio, transcript
// and translation files, the cumulative transcript and the latest summary.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	chunkPrefix        = "recording_"
	fullTranscriptFile = "full_transcript.txt"
	summaryFile        = "summary.txt"
)

// ErrNotFound is returned by ReadTranscript before anything was transcribed.
var ErrNotFound = errors.New("artifacts: not found")

// StorageError wraps a filesystem failure with the operation and path.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifacts: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Counter hands out chunk ids. Safe for concurrent use.
type Counter struct {
	n atomic.Int64
}

// Next returns the next id, starting at 1.
func (c *Counter) Next() int64 { return c.n.Add(1) }

func (c *Counter) reset() { c.n.Store(0) }

type Store struct {
	dir string
	ext string

	ids       Counter
	appendMu  sync.Mutex
	summaryMu sync.Mutex
}

// New returns a store rooted at dir. ext is the audio file extension
// without the leading dot.
func New(dir, ext string) *Store {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "webm"
	}
	return &Store{dir: dir, ext: ext}
}

func (s *Store) Dir() string { return s.dir }

// Reset creates the directory if needed and removes every chunk, transcript
// and summary file. Individual delete failures are logged and skipped.
func (s *Store) Reset() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return &StorageError{Op: "mkdir", Path: s.dir, Err: err}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return &StorageError{Op: "readdir", Path: s.dir, Err: err}
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !managedName(e.Name()) {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		if err := os.Remove(p); err != nil {
			log.Error().Err(err).Str("file", p).Msg("artifacts: remove failed")
			continue
		}
		removed++
		log.Debug().Str("file", p).Msg("artifacts: removed")
	}
	s.ids.reset()
	log.Info().Str("dir", s.dir).Int("removed", removed).Msg("artifacts: recording directory reset")
	return nil
}

func managedName(name string) bool {
	if name == fullTranscriptFile || name == summaryFile {
		return true
	}
	// recording_*.*
	return strings.HasPrefix(name, chunkPrefix) && strings.Contains(name[len(chunkPrefix):], ".")
}

// NextChunkID allocates a process-wide chunk id.
func (s *Store) NextChunkID() int64 { return s.ids.Next() }

func (s *Store) ChunkPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d.%s", chunkPrefix, id, s.ext))
}

func (s *Store) TranscriptPath(id int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d.txt", chunkPrefix, id))
}

func (s *Store) TranslationPath(id int64, targetLang string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d_%s.txt", chunkPrefix, id, targetLang))
}

func (s *Store) FullTranscriptPath() string { return filepath.Join(s.dir, fullTranscriptFile) }

func (s *Store) SummaryPath() string { return filepath.Join(s.dir, summaryFile) }

func (s *Store) WriteChunk(id int64, audio []byte) error {
	return writeFile(s.ChunkPath(id), audio)
}

func (s *Store) WriteTranscript(id int64, text string) error {
	return writeFile(s.TranscriptPath(id), []byte(text))
}

func (s *Store) WriteTranslation(id int64, targetLang, text string) error {
	return writeFile(s.TranslationPath(id, targetLang), []byte(text))
}

// WriteSummary replaces summary.txt. Writers are serialized so concurrent
// summaries never leave a mix of two texts in the file.
func (s *Store) WriteSummary(text string) error {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	return writeFile(s.SummaryPath(), []byte(text))
}

// AppendTranscript adds text and a newline to the cumulative transcript in a
// single write.
func (s *Store) AppendTranscript(text string) error {
	p := s.FullTranscriptPath()

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &StorageError{Op: "open", Path: p, Err: err}
	}
	if _, err := f.Write([]byte(text + "\n")); err != nil {
		_ = f.Close()
		return &StorageError{Op: "append", Path: p, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Op: "close", Path: p, Err: err}
	}
	return nil
}

// ReadTranscript returns the cumulative transcript. Reads are not ordered
// against concurrent appends; callers see some prefix of the final file.
func (s *Store) ReadTranscript() (string, error) {
	p := s.FullTranscriptPath()
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", &StorageError{Op: "read", Path: p, Err: err}
	}
	if len(b) == 0 {
		return "", ErrNotFound
	}
	return string(b), nil
}

func writeFile(p string, data []byte) error {
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return &StorageError{Op: "write", Path: p, Err: err}
	}
	return nil
}
