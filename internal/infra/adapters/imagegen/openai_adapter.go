// File: internal/infra/adapters/imagegen/openai_adapter.go
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
)

var _ adapter.ImageProvider = (*OpenAIAdapter)(nil)

// OpenAIAdapter generates images with the OpenAI Images API. SDK retries are
// disabled; the retry engine owns retry policy.
type OpenAIAdapter struct {
	baseURL string
	timeout time.Duration
	log     zerolog.Logger
}

func NewOpenAIAdapter(baseURL string, timeout time.Duration, logger *zerolog.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{
		baseURL: baseURL,
		timeout: timeout,
		log:     logger.With().Str("component", "openai_adapter").Logger(),
	}
}

func (o *OpenAIAdapter) client(apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	if o.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(o.timeout))
	}
	return openai.NewClient(opts...)
}

func (o *OpenAIAdapter) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	if apiKey == "" {
		return nil, adapter.Permanent(fmt.Errorf("openai: %w", domain.ErrMissingCredential))
	}

	name := openAIModelName(task.ModelID)
	params := openai.ImageGenerateParams{
		Prompt: task.Prompt,
		Model:  openai.ImageModel(name),
		Size:   openAISize(task.AspectRatio),
	}
	if strings.HasPrefix(name, "gpt-image") {
		params.OutputFormat = openai.ImageGenerateParamsOutputFormatPNG
	} else {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	c := o.client(apiKey)
	resp, err := c.Images.Generate(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, adapter.Permanent(fmt.Errorf("openai: %w", domain.ErrNoImage))
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, adapter.Permanent(fmt.Errorf("openai: decode image: %w", err))
	}

	w, h := Dimensions(data)
	meta := map[string]any{}
	if rp := resp.Data[0].RevisedPrompt; rp != "" {
		meta["revisedPrompt"] = rp
	}
	return &model.ImageResult{
		Image:    data,
		MIMEType: sniffMIME(data, ""),
		Width:    w,
		Height:   h,
		Metadata: meta,
	}, nil
}

// openAIModelName strips the "openai/" registry prefix.
func openAIModelName(modelID string) string {
	return strings.TrimPrefix(modelID, "openai/")
}

// openAISize picks the closest size the Images API accepts for the ratio.
func openAISize(r model.AspectRatio) openai.ImageGenerateParamsSize {
	switch r {
	case model.AspectRatio16x9, model.AspectRatio4x3, model.AspectRatio21x9:
		return openai.ImageGenerateParamsSize1536x1024
	case model.AspectRatio9x16, model.AspectRatio3x4:
		return openai.ImageGenerateParamsSize1024x1536
	}
	return openai.ImageGenerateParamsSize1024x1024
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		wait := adapter.DefaultRateLimitWait
		if apiErr.Response != nil {
			if secs, perr := strconv.ParseFloat(apiErr.Response.Header.Get("Retry-After"), 64); perr == nil && secs > 0 {
				wait = ceilSeconds(secs)
			}
		}
		return &adapter.RateLimitError{Provider: model.ProviderOpenAI, RetryAfter: wait}
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return adapter.Permanent(fmt.Errorf("openai: %w", err))
	}
	return fmt.Errorf("openai: %w", err)
}
