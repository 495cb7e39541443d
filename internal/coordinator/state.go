package coordinator

import (
	"slices"

	"github.com/MrWong99/purescribe/internal/engine"
	"github.com/MrWong99/purescribe/internal/protocol"
	"github.com/MrWong99/purescribe/internal/reconcile"
)

// TranscriptionStatus is the lifecycle phase of a transcription job.
type TranscriptionStatus string

// Transcription statuses, in lifecycle order. Done and Failed are terminal.
const (
	TranscriptionIdle        TranscriptionStatus = "idle"
	TranscriptionLoading     TranscriptionStatus = "loading-model"
	TranscriptionDownloading TranscriptionStatus = "downloading-model"
	TranscriptionRunning     TranscriptionStatus = "running"
	TranscriptionDone        TranscriptionStatus = "done"
	TranscriptionFailed      TranscriptionStatus = "failed"
)

func (s TranscriptionStatus) rank() int {
	switch s {
	case TranscriptionLoading:
		return 1
	case TranscriptionDownloading:
		return 2
	case TranscriptionRunning:
		return 3
	case TranscriptionDone, TranscriptionFailed:
		return 4
	}
	return 0
}

// Terminal reports whether s ends a job.
func (s TranscriptionStatus) Terminal() bool { return s.rank() == 4 }

// TranslationStatus is the lifecycle phase of a translation job.
type TranslationStatus string

// Translation statuses.
const (
	TranslationIdle        TranslationStatus = "idle"
	TranslationDownloading TranslationStatus = "downloading-model"
	TranslationTranslating TranslationStatus = "translating"
	TranslationComplete    TranslationStatus = "complete"
	TranslationFailed      TranslationStatus = "failed"
)

// InFlight reports whether a job in status s is still running.
func (s TranslationStatus) InFlight() bool {
	return s == TranslationDownloading || s == TranslationTranslating
}

// TranscriptionJob is the presentation state of the current transcription.
type TranscriptionJob struct {
	ID             string                   `json:"id,omitempty"`
	Status         TranscriptionStatus      `json:"status"`
	Segments       []reconcile.Segment      `json:"segments"`
	CompletedUntil int                      `json:"completedUntilTimestamp"`
	LastPartial    *protocol.PartialResult  `json:"lastPartial,omitempty"`
	Download       *engine.DownloadProgress `json:"download,omitempty"`
	Err            string                   `json:"error,omitempty"`
}

// TranslationJob is the presentation state of the current translation.
type TranslationJob struct {
	// JobID is the transcription job whose text is being translated.
	JobID          string                   `json:"job_id,omitempty"`
	Status         TranslationStatus        `json:"status"`
	SourceLanguage string                   `json:"src_lang,omitempty"`
	TargetLanguage string                   `json:"tgt_lang,omitempty"`
	PartialText    string                   `json:"partial,omitempty"`
	FinalText      string                   `json:"output,omitempty"`
	Download       *engine.DownloadProgress `json:"download,omitempty"`
	Err            string                   `json:"error,omitempty"`
}

// Snapshot is a copy of the coordinator state.
type Snapshot struct {
	Transcription TranscriptionJob     `json:"transcription"`
	Translation   TranslationJob       `json:"translation"`
	Engines       map[engine.Kind]bool `json:"engines"`
}

func (j TranscriptionJob) clone() TranscriptionJob {
	j.Segments = slices.Clone(j.Segments)
	if j.Segments == nil {
		j.Segments = []reconcile.Segment{}
	}
	if j.LastPartial != nil {
		p := *j.LastPartial
		j.LastPartial = &p
	}
	if j.Download != nil {
		d := *j.Download
		j.Download = &d
	}
	return j
}

func (j TranslationJob) clone() TranslationJob {
	if j.Download != nil {
		d := *j.Download
		j.Download = &d
	}
	return j
}

// apply folds ev into j. Status only moves forward.
func (j *TranscriptionJob) apply(ev protocol.TranscriptionEvent) {
	switch e := ev.(type) {
	case protocol.Loading:
		if e.Status == protocol.LoadingSuccess {
			j.advance(TranscriptionRunning)
			j.Download = nil
		} else {
			j.advance(TranscriptionLoading)
		}
	case protocol.Downloading:
		j.advance(TranscriptionDownloading)
		d := e.DownloadProgress
		j.Download = &d
	case protocol.ResultPartial:
		j.advance(TranscriptionRunning)
		p := e.Result
		j.LastPartial = &p
	case protocol.Result:
		j.advance(TranscriptionRunning)
		j.Segments = slices.Clone(e.Results)
		j.CompletedUntil = e.CompletedUntil
		j.LastPartial = nil
	case protocol.InferenceDone:
		j.advance(TranscriptionDone)
		j.LastPartial = nil
	case protocol.Failed:
		j.advance(TranscriptionFailed)
		j.Err = e.Error
	}
}

func (j *TranscriptionJob) advance(s TranscriptionStatus) {
	if s.rank() > j.Status.rank() {
		j.Status = s
	}
}

// apply folds ev into j.
func (j *TranslationJob) apply(ev protocol.TranslationEvent) {
	switch e := ev.(type) {
	case protocol.Initiate:
		j.Status = TranslationDownloading
		j.PartialText, j.FinalText, j.Err = "", "", ""
	case protocol.Progress:
		if j.Status != TranslationTranslating {
			j.Status = TranslationDownloading
		}
		d := e.DownloadProgress
		j.Download = &d
	case protocol.Update:
		j.Status = TranslationTranslating
		j.Download = nil
		j.PartialText = e.Output
	case protocol.Complete:
		j.Status = TranslationComplete
		j.Download = nil
		j.PartialText = ""
		j.FinalText = e.Output
	case protocol.TranslationFailed:
		j.Status = TranslationFailed
		j.Download = nil
		j.Err = e.Error
	}
}
