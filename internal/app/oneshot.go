package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/MrWong99/purescribe/internal/coordinator"
	"github.com/MrWong99/purescribe/internal/export"
	"github.com/MrWong99/purescribe/internal/protocol"
)

// OneShot describes a single transcription run without the HTTP server.
type OneShot struct {
	// Path is the recording to transcribe.
	Path string
	// Target, when set, translates the transcript into this FLORES-200 code.
	Target string
	// Format selects the transcript output. Translations are always text.
	Format export.Format
}

// TranscribeFile transcribes job.Path, optionally translates the result, and
// writes it to w. It drives the coordinator itself and must not be combined
// with Run.
func (a *App) TranscribeFile(ctx context.Context, job OneShot, w io.Writer) error {
	data, err := os.ReadFile(job.Path)
	if err != nil {
		return fmt.Errorf("app: read %q: %w", job.Path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.coord.Run(ctx) }()
	defer func() {
		cancel()
		<-runErr
	}()

	sub, err := a.coord.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	id, err := a.coord.SubmitTranscription(ctx, protocol.InferenceRequest{
		Audio:       data,
		ContentType: mime.TypeByExtension(filepath.Ext(job.Path)),
	})
	if err != nil {
		return err
	}
	if err := awaitTranscription(ctx, sub, id); err != nil {
		return err
	}

	snap, err := a.coord.Snapshot(ctx)
	if err != nil {
		return err
	}
	if job.Target == "" {
		return export.Write(w, job.Format, snap.Transcription.Segments)
	}

	ok, err := a.coord.SubmitTranslation(ctx, protocol.TranslationRequest{
		SrcLang: a.Config().Translation.SourceLanguage,
		TgtLang: job.Target,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("app: translation to %q was not accepted", job.Target)
	}
	out, err := awaitTranslation(ctx, sub)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func awaitTranscription(ctx context.Context, sub *coordinator.Subscription, id string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sub.C:
			if !ok {
				return errors.New("app: coordinator stopped")
			}
			if u.JobID != id {
				continue
			}
			switch ev := u.Transcription.(type) {
			case protocol.InferenceDone:
				return nil
			case protocol.Failed:
				return fmt.Errorf("app: transcription failed: %s", ev.Error)
			}
		}
	}
}

func awaitTranslation(ctx context.Context, sub *coordinator.Subscription) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case u, ok := <-sub.C:
			if !ok {
				return "", errors.New("app: coordinator stopped")
			}
			switch ev := u.Translation.(type) {
			case protocol.Complete:
				return ev.Output, nil
			case protocol.TranslationFailed:
				return "", fmt.Errorf("app: translation failed: %s", ev.Error)
			}
		}
	}
}
