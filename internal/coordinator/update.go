package coordinator

import (
	"encoding/json"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/protocol"
)

// Update is one message the coordinator applied to its state, as seen by
// subscribers. Exactly one of Transcription, Translation or Reset is set.
type Update struct {
	// JobID is the transcription job the message belongs to.
	JobID string

	Transcription protocol.TranscriptionEvent
	Translation   protocol.TranslationEvent

	// Reset is set when the state was cleared.
	Reset bool
}

// Worker names the source of u: "transcription", "translation" or
// "coordinator".
func (u Update) Worker() string {
	switch {
	case u.Transcription != nil:
		return string(engine.KindTranscription)
	case u.Translation != nil:
		return string(engine.KindTranslation)
	}
	return "coordinator"
}

// MarshalJSON encodes u as {"worker":…,"job_id":…,"message":…}.
func (u Update) MarshalJSON() ([]byte, error) {
	var msg any
	switch {
	case u.Transcription != nil:
		msg = u.Transcription
	case u.Translation != nil:
		msg = u.Translation
	default:
		msg = map[string]string{"type": "reset"}
	}
	return json.Marshal(struct {
		Worker  string `json:"worker"`
		JobID   string `json:"job_id,omitempty"`
		Message any    `json:"message"`
	}{u.Worker(), u.JobID, msg})
}
