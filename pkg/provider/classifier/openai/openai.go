// Package openai provides a classifier.Provider that asks an OpenAI vision
// model to score a face crop over the base emotion vocabulary.
//
// The crop is sent inline as a JPEG data URL together with a fixed
// instruction, and the model is constrained to answer with a JSON object
// mapping emotion labels to weights.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/restquest/pkg/emotion"
	"github.com/MrWong99/restquest/pkg/provider/classifier"
)

const defaultModel = "gpt-4o-mini"

var instruction = "Rate the facial expression in this image. Answer with a JSON object whose keys are exactly " +
	strings.Join(emotion.Keys, ", ") +
	" and whose values are non-negative numbers summing to 1. Answer with the JSON object only."

// Provider implements classifier.Provider using the OpenAI chat completions
// API with image input.
type Provider struct {
	client  oai.Client
	model   string
	quality int
}

type config struct {
	baseURL string
	timeout time.Duration
	quality int
}

// Option is a functional option for [New].
type Option func(*config)

// WithBaseURL overrides the API base URL (e.g. for an OpenAI-compatible
// local server).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithJPEGQuality sets the upload JPEG quality. Defaults to 80.
func WithJPEGQuality(q int) Option {
	return func(c *config) { c.quality = q }
}

// New constructs a vision classifier. model defaults to gpt-4o-mini.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai classifier: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := &config{quality: 80}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client:  oai.NewClient(reqOpts...),
		model:   model,
		quality: cfg.quality,
	}, nil
}

// Classify implements classifier.Provider.
func (p *Provider) Classify(ctx context.Context, region image.Image) (classifier.Scores, error) {
	jpg, err := classifier.EncodeJPEG(region, p.quality)
	if err != nil {
		return nil, err
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg)

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage([]oai.ChatCompletionContentPartUnionParam{
				oai.TextContentPart(instruction),
				oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: param.NewOpt(0.0),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai classifier: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai classifier: empty choices in response")
	}
	return ParseScores(resp.Choices[0].Message.Content)
}

// ParseScores decodes a model answer into scores. It tolerates a Markdown
// code fence around the JSON object and ignores non-numeric values.
func ParseScores(content string) (classifier.Scores, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("openai classifier: decode scores: %w", err)
	}
	scores := make(classifier.Scores, len(raw))
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			scores[k] = f
		}
	}
	return scores, nil
}

var _ classifier.Provider = (*Provider)(nil)
