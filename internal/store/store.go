// Package store archives finished transcripts and their translations.
//
// [MemStore] keeps everything in process memory and is the default.
// [PostgresStore] persists to PostgreSQL through pgx.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/purescribe/internal/reconcile"
)

// ErrInvalid is returned when a transcript cannot be stored.
var ErrInvalid = errors.New("store: invalid transcript")

// Transcript is one archived transcription job.
type Transcript struct {
	ID       string              `json:"id"`
	Segments []reconcile.Segment `json:"segments"`

	// SourceLang and TargetLang are FLORES-200 codes of the last translation,
	// empty when the transcript was never translated.
	SourceLang  string `json:"src_lang,omitempty"`
	TargetLang  string `json:"tgt_lang,omitempty"`
	Translation string `json:"translation,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Text returns the segment texts joined by single spaces.
func (t *Transcript) Text() string {
	parts := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Validate checks that t can be stored.
func (t *Transcript) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.Join(ErrInvalid, errors.New("id must not be empty"))
	}
	return nil
}

// Store persists transcripts. Implementations must be safe for concurrent
// use.
type Store interface {
	// Save inserts t or replaces the transcript with the same ID. CreatedAt
	// and UpdatedAt are filled in by the store.
	Save(ctx context.Context, t *Transcript) error

	// Get returns the transcript with the given ID, or (nil, nil) if there is
	// none.
	Get(ctx context.Context, id string) (*Transcript, error)

	// List returns up to limit transcripts, newest first. A limit below 1
	// returns all of them.
	List(ctx context.Context, limit int) ([]Transcript, error)

	// Delete removes a transcript. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error
}
