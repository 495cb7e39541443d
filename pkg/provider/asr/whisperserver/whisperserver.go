// Package whisperserver provides an asr.Engine backed by a running
// whisper.cpp whisper-server instance.
//
// The server exposes a batch REST API at POST /inference. The engine posts
// every decode window as its own WAV upload with response_format=verbose_json
// and maps the returned segments to window-relative pieces. Windows whose
// energy stays below the silence threshold are not sent at all.
//
// Usage:
//
//	e, err := whisperserver.New("http://localhost:8080",
//	    whisperserver.WithLanguage("en"),
//	)
//	res, err := e.Transcribe(ctx, asr.Request{Clip: clip}, onStep, onChunk)
package whisperserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/purescribe/pkg/audio"
	"github.com/MrWong99/purescribe/pkg/provider/asr"
)

const (
	// defaultSilenceRMS is the normalised RMS energy below which a window is
	// treated as silence. It matches an RMS of ~300 in 16-bit PCM units.
	defaultSilenceRMS = 300.0 / 32768.0

	defaultLanguage = "en"
	defaultTimeout  = 2 * time.Minute
)

// Compile-time assertion that Engine implements asr.Engine.
var _ asr.Engine = (*Engine)(nil)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLanguage sets the ISO-639-1 language code sent to the server when the
// request does not name one (e.g., "en", "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithSilenceThreshold sets the normalised RMS energy below which a window is
// skipped without a request. Zero disables silence skipping.
func WithSilenceThreshold(rms float64) Option {
	return func(e *Engine) { e.silenceRMS = rms }
}

// WithHTTPClient overrides the HTTP client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpClient = c }
}

// Engine implements asr.Engine backed by a whisper.cpp HTTP server.
type Engine struct {
	serverURL  string
	language   string
	silenceRMS float64
	httpClient *http.Client
}

// New creates an Engine that talks to the whisper-server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("whisperserver: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silenceRMS: defaultSilenceRMS,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Transcribe posts each decode window of req.Clip to the server. A decode
// step is reported after every returned segment with the window text
// accumulated so far.
func (e *Engine) Transcribe(ctx context.Context, req asr.Request, onStep func(asr.Step), onChunk func(asr.Chunk)) (asr.Result, error) {
	lang := req.Language
	if lang == "" {
		lang = e.language
	}
	decode := func(ctx context.Context, samples []float32, step func(string)) ([]asr.Piece, error) {
		if e.silenceRMS > 0 && audio.RMS(samples) < e.silenceRMS {
			return nil, nil
		}
		segs, err := e.infer(ctx, samples, lang, req.Sampling)
		if err != nil {
			return nil, err
		}
		pieces := make([]asr.Piece, 0, len(segs))
		var sb strings.Builder
		for _, s := range segs {
			if strings.TrimSpace(s.Text) == "" {
				continue
			}
			pieces = append(pieces, s.piece())
			sb.WriteString(s.Text)
			step(strings.TrimSpace(sb.String()))
		}
		return pieces, nil
	}
	return asr.RunWindowed(ctx, req, decode, onStep, onChunk)
}

// verboseSegment is one entry of the verbose_json "segments" array.
type verboseSegment struct {
	Text   string  `json:"text"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Tokens []int   `json:"tokens"`
}

func (s verboseSegment) piece() asr.Piece {
	p := asr.Piece{
		Text:       s.Text,
		Start:      s.Start,
		End:        s.End,
		Unresolved: s.End <= s.Start,
	}
	for _, id := range s.Tokens {
		p.Tokens = append(p.Tokens, asr.Token{ID: id})
	}
	return p
}

// infer encodes samples as a WAV file and POSTs it to the /inference
// endpoint as multipart/form-data.
func (e *Engine) infer(ctx context.Context, samples []float32, lang string, sampling bool) ([]verboseSegment, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return nil, fmt.Errorf("whisperserver: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(samples)); err != nil {
		return nil, fmt.Errorf("whisperserver: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "verbose_json",
		"language":        lang,
	}
	if !sampling {
		fields["temperature"] = "0.0"
		fields["temperature_inc"] = "0.0"
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("whisperserver: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperserver: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisperserver: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisperserver: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisperserver: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisperserver: read response body: %w", err)
	}

	var result struct {
		Text     string           `json:"text"`
		Segments []verboseSegment `json:"segments"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("whisperserver: parse JSON response: %w", err)
	}
	if len(result.Segments) == 0 && strings.TrimSpace(result.Text) != "" {
		// Servers without verbose_json support reply with plain text only.
		return []verboseSegment{{Text: result.Text, Start: 0, End: 0}}, nil
	}
	return result.Segments, nil
}

// Ping checks that the server is reachable. It is used as a readiness check.
func (e *Engine) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+"/", nil)
	if err != nil {
		return fmt.Errorf("whisperserver: create request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisperserver: ping: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("whisperserver: ping returned HTTP %d", resp.StatusCode)
	}
	return nil
}
