// Package protocol defines the typed messages exchanged between the
// background workers and the job coordinator, and their JSON wire form.
//
// Transcription events are tagged by a "type" field, translation events by a
// "status" field:
//
//	{"type":"loading","status":"loading"}
//	{"type":"downloading","file":"ggml-base.bin","progress":42,"loaded":420,"total":1000}
//	{"type":"result-partial","result":{"text":"hello wor","start":0,"end":null}}
//	{"type":"result","results":[...],"isDone":false,"completedUntilTimestamp":6}
//	{"type":"inference-done"}
//	{"status":"update","output":"bonjour"}
//
// Events travel over channels as Go values; JSON is only produced at the
// presentation edge.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/reconcile"
)

// Type discriminates transcription events.
type Type string

// Transcription event types.
const (
	TypeLoading       Type = "loading"
	TypeDownloading   Type = "downloading"
	TypeResultPartial Type = "result-partial"
	TypeResult        Type = "result"
	TypeInferenceDone Type = "inference-done"
	TypeError         Type = "error"
)

// LoadingStatus is the phase reported by a [Loading] event.
type LoadingStatus string

// Loading phases.
const (
	LoadingStarted LoadingStatus = "loading"
	LoadingSuccess LoadingStatus = "success"
)

// TranscriptionEvent is implemented by every message a transcription worker
// emits.
type TranscriptionEvent interface {
	EventType() Type
}

// Loading announces that engine acquisition began or finished.
type Loading struct {
	Status LoadingStatus `json:"status"`
}

// Downloading forwards model-weight fetch progress.
type Downloading struct {
	engine.DownloadProgress
}

// PartialResult is a throttled in-progress best guess. End is always null
// on the wire: the guess has not been reconciled yet.
type PartialResult struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   *int   `json:"end"`
}

// ResultPartial carries a [PartialResult].
type ResultPartial struct {
	Result PartialResult `json:"result"`
}

// Result carries the full reconciled segment list after an audio window.
type Result struct {
	Results        []reconcile.Segment `json:"results"`
	IsDone         bool                `json:"isDone"`
	CompletedUntil int                 `json:"completedUntilTimestamp"`
}

// InferenceDone is the terminal event of a successful transcription job.
type InferenceDone struct{}

// Failed is the terminal event of a transcription job that could not
// finish.
type Failed struct {
	Error string `json:"error"`
}

func (Loading) EventType() Type       { return TypeLoading }
func (Downloading) EventType() Type   { return TypeDownloading }
func (ResultPartial) EventType() Type { return TypeResultPartial }
func (Result) EventType() Type        { return TypeResult }
func (InferenceDone) EventType() Type { return TypeInferenceDone }
func (Failed) EventType() Type        { return TypeError }

func (e Loading) MarshalJSON() ([]byte, error) {
	type body Loading
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeLoading, body(e)})
}

func (e Downloading) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Type `json:"type"`
		engine.DownloadProgress
	}{TypeDownloading, e.DownloadProgress})
}

func (e ResultPartial) MarshalJSON() ([]byte, error) {
	type body ResultPartial
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeResultPartial, body(e)})
}

func (e Result) MarshalJSON() ([]byte, error) {
	type body Result
	if e.Results == nil {
		e.Results = []reconcile.Segment{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeResult, body(e)})
}

func (InferenceDone) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type Type `json:"type"`
	}{TypeInferenceDone})
}

func (e Failed) MarshalJSON() ([]byte, error) {
	type body Failed
	return json.Marshal(struct {
		Type Type `json:"type"`
		body
	}{TypeError, body(e)})
}

// Terminal reports whether e ends a transcription job.
func Terminal(e TranscriptionEvent) bool {
	switch e.(type) {
	case InferenceDone, Failed:
		return true
	}
	return false
}

// DecodeTranscription parses the wire form of a transcription event.
func DecodeTranscription(data []byte) (TranscriptionEvent, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("protocol: decode event: %w", err)
	}

	var ev TranscriptionEvent
	var err error
	switch head.Type {
	case TypeLoading:
		var e Loading
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeDownloading:
		var e Downloading
		err = json.Unmarshal(data, &e.DownloadProgress)
		ev = e
	case TypeResultPartial:
		var e ResultPartial
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeResult:
		var e Result
		err = json.Unmarshal(data, &e)
		ev = e
	case TypeInferenceDone:
		ev = InferenceDone{}
	case TypeError:
		var e Failed
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("protocol: unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

// InferenceRequest asks a transcription worker to transcribe Audio.
type InferenceRequest struct {
	// Audio is the encoded recording (WAV, MP3 or raw PCM).
	Audio []byte
	// ContentType optionally names the encoding, e.g. "audio/wav".
	ContentType string
}
