package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// ErrUnsupportedFormat is returned by [Decode] when the payload is neither a
// recognised container nor declared as raw PCM.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// ErrEmpty is returned by [Decode] when the payload holds no samples.
var ErrEmpty = errors.New("audio: no samples")

// resampleQuality is the beep resampler quality (1–64). 4 is plenty for
// speech and keeps decoding of long recordings fast.
const resampleQuality = 4

// Decode turns an encoded audio payload into a 16 kHz mono [Clip].
//
// WAV and MP3 are detected from their magic bytes. Headerless 16-bit PCM is
// accepted when contentType is "audio/L16" or "audio/pcm"; the "rate" and
// "channels" media-type parameters describe it and default to 16000 and 1.
func Decode(data []byte, contentType string) (Clip, error) {
	var (
		s      beep.Streamer
		format beep.Format
		err    error
	)

	switch {
	case isWAV(data):
		var sc beep.StreamSeekCloser
		sc, format, err = wav.Decode(bytes.NewReader(data))
		if err != nil {
			return Clip{}, fmt.Errorf("audio: decode wav: %w", err)
		}
		defer sc.Close()
		s = sc
	case isMP3(data):
		var sc beep.StreamSeekCloser
		sc, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return Clip{}, fmt.Errorf("audio: decode mp3: %w", err)
		}
		defer sc.Close()
		s = sc
	default:
		rate, channels, ok := rawPCMParams(contentType)
		if !ok {
			return Clip{}, fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, contentType)
		}
		mono := PCM16ToFloat32(data, channels)
		s = &sliceStreamer{samples: mono}
		format = beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 1, Precision: 2}
	}

	if format.SampleRate != SampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, SampleRate, s)
	}

	samples, err := drain(s)
	if err != nil {
		return Clip{}, err
	}
	if len(samples) == 0 {
		return Clip{}, ErrEmpty
	}
	return Clip{Samples: samples}, nil
}

// drain reads a streamer to exhaustion, averaging both beep channels into a
// single mono sample.
func drain(s beep.Streamer) ([]float32, error) {
	var (
		out []float32
		buf = make([][2]float64, 4096)
	)
	for {
		n, ok := s.Stream(buf)
		for i := range n {
			out = append(out, float32((buf[i][0]+buf[i][1])/2))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("audio: stream samples: %w", err)
	}
	return out, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	// MPEG audio frame sync: 11 set bits.
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// rawPCMParams parses a raw PCM media type. ok is false when contentType
// does not describe headerless 16-bit PCM.
func rawPCMParams(contentType string) (rate, channels int, ok bool) {
	if contentType == "" {
		return 0, 0, false
	}
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return 0, 0, false
	}
	switch strings.ToLower(mt) {
	case "audio/l16", "audio/pcm":
	default:
		return 0, 0, false
	}

	rate, channels = SampleRate, 1
	if v, err := strconv.Atoi(params["rate"]); err == nil && v > 0 {
		rate = v
	}
	if v, err := strconv.Atoi(params["channels"]); err == nil && v > 0 {
		channels = v
	}
	return rate, channels, true
}

// sliceStreamer adapts already-decoded mono samples to a beep.Streamer so
// raw PCM goes through the same resampling path as container formats.
type sliceStreamer struct {
	samples []float32
	pos     int
}

func (s *sliceStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := copy2(buf, s.samples[s.pos:])
	s.pos += n
	return n, true
}

func (s *sliceStreamer) Err() error { return nil }

func copy2(dst [][2]float64, src []float32) int {
	n := min(len(dst), len(src))
	for i := range n {
		v := float64(src[i])
		dst[i] = [2]float64{v, v}
	}
	return n
}
