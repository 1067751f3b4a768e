// Package whisper provides speech-to-text backed by whisper.cpp.
//
// [Provider] talks to a running whisper-server over its REST API
// (POST /inference with a multipart WAV upload). [NativeProvider] links the
// whisper.cpp library directly and is only functional in binaries built with
// the "whispercpp" tag; without it [NewNative] reports
// [ErrNativeUnavailable].
//
// Both skip the model entirely for clips whose RMS energy is below the
// silence threshold and return an empty transcript.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	t, err := p.Transcribe(ctx, clip, stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/provider/stt"
)

const (
	// defaultRMSThreshold is the energy (in int16 units) below which a clip
	// counts as silence. 300 is near-silence on a typical microphone.
	defaultRMSThreshold = 300.0

	defaultLanguage = "en"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g.
// "base.en"). When empty the server uses whichever model it was started
// with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language used when a request does not
// specify one. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThreshold sets the RMS level below which a clip is treated as
// silent. Zero disables the check.
func WithSilenceThreshold(rms float64) Option {
	return func(p *Provider) { p.silenceRMS = rms }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	silenceRMS float64
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL (e.g.
// "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	speech := audio.Conform(clip, audio.SpeechFormat)
	out := stt.Transcript{Language: lang, Duration: speech.Duration()}
	if speech.Empty() || computeRMS(speech.PCM) < p.silenceRMS {
		return out, nil
	}

	text, err := p.infer(ctx, audio.EncodeWAV(speech), lang)
	if err != nil {
		return stt.Transcript{}, err
	}
	out.Text = strings.TrimSpace(text)
	return out, nil
}

// infer POSTs wav to the /inference endpoint as multipart/form-data.
func (p *Provider) infer(ctx context.Context, wav []byte, lang string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "answer.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	fields := map[string]string{"language": lang, "model": p.model, "response_format": "json"}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// computeRMS returns the root-mean-square energy of int16 PCM in sample
// units (0 to 32767).
func computeRMS(pcm []byte) float64 {
	samples := pcmToFloat32(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) * 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
