package audio

import "time"

// SampleRate is the rate, in Hz, of every decoded [Clip]. Speech models in
// this project are trained on 16 kHz mono input.
const SampleRate = 16000

// Clip is a decoded, immutable mono recording at [SampleRate]. Samples are
// normalised to [-1.0, 1.0].
type Clip struct {
	Samples []float32
}

// Len returns the number of samples in the clip.
func (c Clip) Len() int { return len(c.Samples) }

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	return time.Duration(len(c.Samples)) * time.Second / SampleRate
}

// Seconds converts a sample count at [SampleRate] to seconds.
func Seconds(samples int) float64 {
	return float64(samples) / SampleRate
}

// Samples converts a duration to a sample count at [SampleRate].
func Samples(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}
