package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/timecapsule/internal/domain"
	"github.com/timmy/timecapsule/internal/logger"
	"github.com/timmy/timecapsule/internal/prompts"
)

// GenerateRequest is the input to one decade generation.
type GenerateRequest struct {
	BaseImage []byte
	MimeType  string
	Decade    domain.Decade
}

// GeneratedImage is an image returned by the model.
type GeneratedImage struct {
	Data     []byte
	MimeType string
}

// PortraitGenerator produces a decade-styled portrait from a base image.
// One call is one attempt; implementations do not retry.
type PortraitGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GeneratedImage, error)
}

// ErrNoImageInResponse is returned when the model answered without image data.
var ErrNoImageInResponse = errors.New("model response did not include image data")

// GeminiConfig holds configuration for the Gemini generator.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiGenerator calls the Gemini generateContent REST endpoint.
type GeminiGenerator struct {
	client   *resty.Client
	model    string
	endpoint string
}

// NewGeminiGenerator creates a Gemini-backed PortraitGenerator.
// Parameters:
//   - cfg: API key, model id, base URL and request timeout.
//
// Returns:
//   - *GeminiGenerator: initialized client wrapper.
//   - error: configuration error naming the missing settings.
func NewGeminiGenerator(cfg *GeminiConfig) (*GeminiGenerator, error) {
	var missing []string
	if strings.TrimSpace(cfg.APIKey) == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		missing = append(missing, "GEMINI_MODEL")
	}
	if len(missing) > 0 {
		return nil, ConfigurationError(fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", ")))
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New()
	client.SetHeader("x-goog-api-key", cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	return &GeminiGenerator{
		client:   client,
		model:    cfg.Model,
		endpoint: fmt.Sprintf("%s/models/%s:generateContent", baseURL, cfg.Model),
	}, nil
}

// GetModel returns the model name being used.
func (g *GeminiGenerator) GetModel() string {
	return g.model
}

// Gemini generateContent request/response structures
type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

type geminiErrorResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Generate asks the model for one decade portrait.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: base image bytes, its media type, and the target decade.
//
// Returns:
//   - *GeneratedImage: decoded image bytes and media type.
//   - error: non-nil on transport failure, API error, or missing image data.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*GeneratedImage, error) {
	body := geminiRequest{
		Contents: []geminiContent{
			{
				Role: "user",
				Parts: []geminiPart{
					{Text: prompts.DecadePortrait(string(req.Decade))},
					{InlineData: &geminiInlineData{
						MimeType: req.MimeType,
						Data:     base64.StdEncoding.EncodeToString(req.BaseImage),
					}},
				},
			},
		},
		GenerationConfig: geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}

	start := time.Now()
	logger.CtxDebug(ctx, "Requesting portrait: model=%s decade=%s", g.model, req.Decade)

	var resp geminiResponse
	var apiErr geminiErrorResponse
	httpResp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		SetError(&apiErr).
		Post(g.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call Gemini API: %w", err)
	}

	if httpResp.IsError() {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if apiErr.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), apiErr.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, fmt.Errorf("Gemini API returned error: %s", errorMsg)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("Gemini blocked the prompt (%s): %w", resp.PromptFeedback.BlockReason, ErrNoImageInResponse)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response: %w", ErrNoImageInResponse)
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image data: %w", err)
		}
		mimeType := part.InlineData.MimeType
		if mimeType == "" {
			mimeType = detectMimeType(data)
		}

		logger.With(logger.Fields{logger.FieldDecade: string(req.Decade)}).
			Since(start).
			WithSize(len(data)).
			Info(ctx, "Portrait ready: model=%s", g.model)

		return &GeneratedImage{Data: data, MimeType: mimeType}, nil
	}

	return nil, fmt.Errorf("finish reason %q: %w", resp.Candidates[0].FinishReason, ErrNoImageInResponse)
}
