package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/pkg/language"
	"github.com/MrWong99/purescribe/pkg/provider/translate"
)

// Status discriminates translation events.
type Status string

// Translation event statuses.
const (
	StatusInitiate Status = "initiate"
	StatusProgress Status = "progress"
	StatusUpdate   Status = "update"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// TranslationEvent is implemented by every message the translation worker
// emits.
type TranslationEvent interface {
	EventStatus() Status
}

// Initiate announces that a translation job was accepted and the engine is
// being acquired.
type Initiate struct {
	Target string `json:"tgt_lang"`
}

// Progress forwards translation-model fetch progress.
type Progress struct {
	engine.DownloadProgress
}

// Update carries the current best-guess translation.
type Update struct {
	Output string `json:"output"`
}

// Complete carries the final translation.
type Complete struct {
	Output string `json:"output"`
}

// TranslationFailed ends a translation job that could not finish.
type TranslationFailed struct {
	Error string `json:"error"`
}

func (Initiate) EventStatus() Status          { return StatusInitiate }
func (Progress) EventStatus() Status          { return StatusProgress }
func (Update) EventStatus() Status            { return StatusUpdate }
func (Complete) EventStatus() Status          { return StatusComplete }
func (TranslationFailed) EventStatus() Status { return StatusError }

func (e Initiate) MarshalJSON() ([]byte, error) {
	type body Initiate
	return json.Marshal(struct {
		Status Status `json:"status"`
		body
	}{StatusInitiate, body(e)})
}

func (e Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status Status `json:"status"`
		engine.DownloadProgress
	}{StatusProgress, e.DownloadProgress})
}

func (e Update) MarshalJSON() ([]byte, error) {
	type body Update
	return json.Marshal(struct {
		Status Status `json:"status"`
		body
	}{StatusUpdate, body(e)})
}

func (e Complete) MarshalJSON() ([]byte, error) {
	type body Complete
	return json.Marshal(struct {
		Status Status `json:"status"`
		body
	}{StatusComplete, body(e)})
}

func (e TranslationFailed) MarshalJSON() ([]byte, error) {
	type body TranslationFailed
	return json.Marshal(struct {
		Status Status `json:"status"`
		body
	}{StatusError, body(e)})
}

// DecodeTranslation parses the wire form of a translation event.
func DecodeTranslation(data []byte) (TranslationEvent, error) {
	var head struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("protocol: decode event: %w", err)
	}

	var ev TranslationEvent
	var err error
	switch head.Status {
	case StatusInitiate:
		var e Initiate
		err = json.Unmarshal(data, &e)
		ev = e
	case StatusProgress:
		var e Progress
		err = json.Unmarshal(data, &e.DownloadProgress)
		ev = e
	case StatusUpdate:
		var e Update
		err = json.Unmarshal(data, &e)
		ev = e
	case StatusComplete:
		var e Complete
		err = json.Unmarshal(data, &e)
		ev = e
	case StatusError:
		var e TranslationFailed
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("protocol: unknown translation status %q", head.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s event: %w", head.Status, err)
	}
	return ev, nil
}

// TranslationRequest asks the translation worker to translate Text.
type TranslationRequest struct {
	Text    []string `json:"text"`
	SrcLang string   `json:"src_lang"`
	TgtLang string   `json:"tgt_lang"`
}

// HasTarget reports whether r names a usable target language. The picker
// placeholder and unknown codes do not count.
func (r TranslationRequest) HasTarget() bool {
	code := strings.TrimSpace(r.TgtLang)
	return code != "" && code != language.Placeholder && language.Valid(code)
}

// Engine converts r to an engine request. An empty source defaults to
// [language.DefaultSource].
func (r TranslationRequest) Engine() translate.Request {
	src := r.SrcLang
	if src == "" {
		src = language.DefaultSource
	}
	return translate.Request{Text: r.Text, Source: src, Target: r.TgtLang}
}
