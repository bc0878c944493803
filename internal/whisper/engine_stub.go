//go:build !whisper_cpp

package whisper

import "errors"

// ErrNotCompiled is returned by NewEngine when built without whisper.cpp.
var ErrNotCompiled = errors.New("whisper.cpp support not compiled in; rebuild with -tags whisper_cpp or set TRANSCRIBER=openai")

func NewEngine(modelPath string) (Engine, error) { return nil, ErrNotCompiled }
