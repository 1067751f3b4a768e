// Package remote provides a classifier.Provider that calls an HTTP emotion
// service.
//
// The service receives POST <baseURL>/classify with a JSON body
// {"image": "<base64 JPEG>"} and answers with either a label list
//
//	{"emotions": [{"label": "happy", "score": 0.8}, ...], "dominant_emotion": "happy"}
//
// or a flat mapping
//
//	{"scores": {"happy": 0.8, "sad": 0.2}}
//
// Exactly one of the two shapes must be present.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/restquest/pkg/provider/classifier"
)

const defaultTimeout = 5 * time.Second

// ErrUnknownResponse is returned when the service answers with neither
// supported body shape.
var ErrUnknownResponse = errors.New("remote: response has neither emotions nor scores")

// Option is a functional option for [New].
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithPath overrides the request path. Defaults to "/classify".
func WithPath(path string) Option {
	return func(p *Provider) { p.path = path }
}

// WithJPEGQuality sets the upload JPEG quality. Defaults to 85.
func WithJPEGQuality(q int) Option {
	return func(p *Provider) { p.quality = q }
}

// Provider implements classifier.Provider over HTTP.
type Provider struct {
	baseURL string
	path    string
	apiKey  string
	quality int
	client  *http.Client
}

// New creates a Provider for the service at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	p := &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    "/classify",
		quality: 85,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type request struct {
	Image string `json:"image"`
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type response struct {
	Emotions        []labelScore       `json:"emotions"`
	DominantEmotion string             `json:"dominant_emotion"`
	Scores          map[string]float64 `json:"scores"`
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, region image.Image) (classifier.Scores, error) {
	jpg, err := classifier.EncodeJPEG(region, p.quality)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(request{Image: base64.StdEncoding.EncodeToString(jpg)})
	if err != nil {
		return nil, fmt.Errorf("remote: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("remote: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote: decode response: %w", err)
	}

	switch {
	case out.Emotions != nil:
		scores := make(classifier.Scores, len(out.Emotions))
		for _, e := range out.Emotions {
			scores[e.Label] += e.Score
		}
		return scores, nil
	case out.Scores != nil:
		return classifier.Scores(out.Scores), nil
	default:
		return nil, ErrUnknownResponse
	}
}

var _ classifier.Provider = (*Provider)(nil)
