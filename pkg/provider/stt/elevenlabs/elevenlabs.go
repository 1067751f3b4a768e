// Package elevenlabs provides speech-to-text backed by the ElevenLabs
// /v1/speech-to-text endpoint.
//
// The endpoint answers with one of three response shapes, decoded by
// [DecodeResponse] into exactly one [Response] variant:
//
//   - chunk: a single transcript ({"text": ...})
//   - multichannel: one transcript per input channel ({"transcripts": [...]})
//   - webhook: an acknowledgement that the result will be delivered
//     asynchronously ({"request_id": ..., "message": ...})
//
// A key without the speech_to_text permission is reported as
// [stt.ErrCapabilityMissing]; a webhook acknowledgement as
// [stt.ErrAsyncOnly].
package elevenlabs

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

	"github.com/MrWong99/restquest/pkg/audio"
	"github.com/MrWong99/restquest/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "scribe_v1"
)

// ErrUnknownResponse is returned when a response matches no known shape.
var ErrUnknownResponse = errors.New("elevenlabs: unrecognised speech-to-text response")

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the model ID. Defaults to "scribe_v1".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithDiarize asks the service to label speakers.
func WithDiarize(on bool) Option {
	return func(p *Provider) { p.diarize = on }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	diarize    bool
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ResponseKind identifies which shape a [Response] was decoded from.
type ResponseKind int

const (
	KindChunk ResponseKind = iota
	KindMultichannel
	KindWebhook
)

func (k ResponseKind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindMultichannel:
		return "multichannel"
	case KindWebhook:
		return "webhook"
	default:
		return "unknown"
	}
}

// Response is a decoded speech-to-text answer.
type Response struct {
	Kind ResponseKind

	// Text is set for chunk and multichannel responses. Multichannel
	// transcripts are joined with single spaces in channel order.
	Text string

	// LanguageCode is the detected language, when reported.
	LanguageCode string

	// RequestID is set for webhook acknowledgements.
	RequestID string
}

type wireChunk struct {
	Text         *string `json:"text"`
	LanguageCode string  `json:"language_code"`
}

type wireResponse struct {
	wireChunk
	Transcripts []wireChunk `json:"transcripts"`
	RequestID   string      `json:"request_id"`
	Message     string      `json:"message"`
}

// DecodeResponse decodes a 200 response body into exactly one variant.
func DecodeResponse(body []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnknownResponse, err)
	}
	switch {
	case w.Transcripts != nil:
		parts := make([]string, 0, len(w.Transcripts))
		lang := ""
		for _, t := range w.Transcripts {
			if t.Text == nil {
				continue
			}
			if s := strings.TrimSpace(*t.Text); s != "" {
				parts = append(parts, s)
			}
			if lang == "" {
				lang = t.LanguageCode
			}
		}
		return Response{Kind: KindMultichannel, Text: strings.Join(parts, " "), LanguageCode: lang}, nil
	case w.Text != nil:
		return Response{Kind: KindChunk, Text: strings.TrimSpace(*w.Text), LanguageCode: w.LanguageCode}, nil
	case w.RequestID != "":
		return Response{Kind: KindWebhook, RequestID: w.RequestID}, nil
	default:
		return Response{}, ErrUnknownResponse
	}
}

// apiError is the error body shape: {"detail": {"status": ..., "message": ...}}.
type apiError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

// classifyError maps an error response to a Go error.
func classifyError(status int, body []byte) error {
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Detail.Status != "" {
		if ae.Detail.Status == "missing_permissions" && strings.Contains(ae.Detail.Message, "speech_to_text") {
			return fmt.Errorf("%w: %s", stt.ErrCapabilityMissing, ae.Detail.Message)
		}
		return fmt.Errorf("elevenlabs: HTTP %d: %s: %s", status, ae.Detail.Status, ae.Detail.Message)
	}
	return fmt.Errorf("elevenlabs: HTTP %d: %s", status, bytes.TrimSpace(body))
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (stt.Transcript, error) {
	speech := audio.Conform(clip, audio.SpeechFormat)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("model_id", p.model)
	if opts.Language != "" {
		_ = mw.WriteField("language_code", opts.Language)
	}
	if p.diarize {
		_ = mw.WriteField("diarize", "true")
	}
	fw, err := mw.CreateFormFile("file", "user_prompt.wav")
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(speech)); err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return stt.Transcript{}, classifyError(resp.StatusCode, data)
	}

	r, err := DecodeResponse(data)
	if err != nil {
		return stt.Transcript{}, err
	}
	if r.Kind == KindWebhook {
		return stt.Transcript{}, fmt.Errorf("%w (request %s)", stt.ErrAsyncOnly, r.RequestID)
	}
	lang := r.LanguageCode
	if lang == "" {
		lang = opts.Language
	}
	return stt.Transcript{Text: r.Text, Language: lang, Duration: speech.Duration()}, nil
}

var _ stt.Provider = (*Provider)(nil)
