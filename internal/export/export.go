// Package export renders transcripts as downloadable text, SRT, or WebVTT.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrWong99/purescribe/internal/reconcile"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatText Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ErrUnknownFormat is returned by [ParseFormat] for unsupported names.
var ErrUnknownFormat = errors.New("export: unknown format")

// filePrefix names every exported file.
const filePrefix = "Freescribe_"

// ParseFormat parses a format name. The empty string means [FormatText].
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", "text", FormatText:
		return FormatText, nil
	case FormatSRT, FormatVTT:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type of files in format f.
func (f Format) ContentType() string {
	switch f {
	case FormatSRT:
		return "application/x-subrip; charset=utf-8"
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}

// Timed reports whether f carries cue timestamps.
func (f Format) Timed() bool { return f == FormatSRT || f == FormatVTT }

// FileName returns the download name for an export created at t, e.g.
// "Freescribe_2026-03-01T12-00-00.srt".
func FileName(f Format, t time.Time) string {
	return filePrefix + t.UTC().Format("2006-01-02T15-04-05") + "." + string(f)
}

// Text joins the segment texts with single spaces.
func Text(segments []reconcile.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// Write renders segments to w in format f.
func Write(w io.Writer, f Format, segments []reconcile.Segment) error {
	bw := bufio.NewWriter(w)
	switch f {
	case FormatText:
		bw.WriteString(Text(segments))
		bw.WriteByte('\n')
	case FormatSRT:
		for i, s := range segments {
			if i > 0 {
				bw.WriteByte('\n')
			}
			fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n", i+1, timestamp(s.Start, ','), timestamp(s.End, ','), s.Text)
		}
	case FormatVTT:
		bw.WriteString("WEBVTT\n")
		for _, s := range segments {
			fmt.Fprintf(bw, "\n%s --> %s\n%s\n", timestamp(s.Start, '.'), timestamp(s.End, '.'), s.Text)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export: write %s: %w", f, err)
	}
	return nil
}

// timestamp formats whole seconds as HH:MM:SS followed by sep and a zero
// millisecond field.
func timestamp(seconds int, sep byte) string {
	seconds = max(seconds, 0)
	h, m, s := seconds/3600, seconds/60%60, seconds%60
	return fmt.Sprintf("%02d:%02d:%02d%c000", h, m, s, sep)
}
