// Package remote provides a vision.Detector that calls an HTTP face
// detection service.
//
// The service receives POST <baseURL>/detect with {"image": "<base64 JPEG>"}
// and answers with
//
//	{"faces": [{"box": [x, y, w, h], "score": 0.98}, ...]}
//
// in pixel coordinates of the submitted image. Faces are returned highest
// score first, cropped from the original frame.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/restquest/pkg/vision"
)

// Option is a functional option for [New].
type Option func(*Detector)

// WithMinScore drops faces scored below s.
func WithMinScore(s float64) Option {
	return func(d *Detector) { d.minScore = s }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Detector) { d.client = c }
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(d *Detector) { d.apiKey = key }
}

// Detector implements vision.Detector over HTTP.
type Detector struct {
	baseURL  string
	apiKey   string
	minScore float64
	client   *http.Client
}

// New creates a Detector for the service at baseURL.
func New(baseURL string, opts ...Option) (*Detector, error) {
	if baseURL == "" {
		return nil, errors.New("detector: baseURL must not be empty")
	}
	d := &Detector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 3 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

type face struct {
	Box   [4]int  `json:"box"`
	Score float64 `json:"score"`
}

// Detect implements vision.Detector.
func (d *Detector) Detect(ctx context.Context, frame vision.Frame) ([]vision.Region, error) {
	if frame.Image == nil {
		return nil, nil
	}
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, frame.Image, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("detector: encode frame: %w", err)
	}
	body, _ := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(jpg.Bytes())})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out struct {
		Faces []face `json:"faces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("detector: decode response: %w", err)
	}

	slices.SortStableFunc(out.Faces, func(a, b face) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	origin := frame.Image.Bounds().Min
	regions := make([]vision.Region, 0, len(out.Faces))
	for _, f := range out.Faces {
		if f.Score < d.minScore || f.Box[2] <= 0 || f.Box[3] <= 0 {
			continue
		}
		r := image.Rect(f.Box[0], f.Box[1], f.Box[0]+f.Box[2], f.Box[1]+f.Box[3]).Add(origin)
		region := vision.Crop(frame.Image, r)
		if region.Bounds.Empty() {
			continue
		}
		regions = append(regions, region)
	}
	return regions, nil
}

var _ vision.Detector = (*Detector)(nil)
