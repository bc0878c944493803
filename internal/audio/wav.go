// Package audio turns uploaded chunks into the 16 kHz mono float32 PCM that
// whisper.cpp expects.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
)

// SampleRate is the rate whisper models are trained on.
const SampleRate = 16000

// ErrUnsupportedFormat is returned for containers this package cannot decode.
var ErrUnsupportedFormat = errors.New("audio: unsupported container")

// Format guesses the container of b from its magic bytes.
func Format(b []byte) string {
	switch {
	case len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE":
		return "wav"
	case len(b) >= 4 && b[0] == 0x1a && b[1] == 0x45 && b[2] == 0xdf && b[3] == 0xa3:
		return "webm"
	case len(b) >= 4 && string(b[0:4]) == "OggS":
		return "ogg"
	default:
		return "unknown"
	}
}

// Decode returns b as 16 kHz mono samples in [-1, 1]. Only WAV is supported.
func Decode(b []byte) ([]float32, error) {
	if f := Format(b); f != "wav" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	pcm, sr, channels, err := decodeWAV(b)
	if err != nil {
		return nil, err
	}
	pcm = Downmix(pcm, channels)
	return ResampleLinear(pcm, sr, SampleRate), nil
}

func decodeWAV(b []byte) ([]float32, int, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return nil, 0, 0, errors.New("audio: invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && err != io.EOF {
		return nil, 0, 0, fmt.Errorf("audio: read wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, 0, 0, errors.New("audio: empty wav buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int(1) << (bitDepth - 1))
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float32(v) / scale
	}

	sr := int(dec.SampleRate)
	channels := int(dec.NumChans)
	if buf.Format != nil {
		if sr == 0 {
			sr = buf.Format.SampleRate
		}
		if channels == 0 {
			channels = buf.Format.NumChannels
		}
	}
	if sr == 0 {
		sr = SampleRate
	}
	if channels == 0 {
		channels = 1
	}
	return out, sr, channels, nil
}

// Downmix averages interleaved frames into a single channel.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// ResampleLinear resamples from inRate to outRate using linear interpolation.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(outRate) / float64(inRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}
	return out
}
