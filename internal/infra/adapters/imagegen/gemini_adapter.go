// File: internal/infra/adapters/imagegen/gemini_adapter.go
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
)

var _ adapter.ImageProvider = (*GeminiAdapter)(nil)

// maxCachedClients bounds the per-key client cache; keys rarely change.
const maxCachedClients = 4

// GeminiAdapter calls the Gemini API directly with the official SDK.
type GeminiAdapter struct {
	baseURL string
	log     zerolog.Logger

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func NewGeminiAdapter(baseURL string, logger *zerolog.Logger) *GeminiAdapter {
	return &GeminiAdapter{
		baseURL: baseURL,
		log:     logger.With().Str("component", "gemini_adapter").Logger(),
		clients: make(map[string]*genai.Client),
	}
}

func (g *GeminiAdapter) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: g.baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(g.clients) >= maxCachedClients {
		clear(g.clients)
	}
	g.clients[apiKey] = c
	return c, nil
}

func (g *GeminiAdapter) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	if apiKey == "" {
		return nil, adapter.Permanent(fmt.Errorf("gemini: %w", domain.ErrMissingCredential))
	}
	c, err := g.clientFor(ctx, apiKey)
	if err != nil {
		return nil, adapter.Permanent(fmt.Errorf("gemini: new client: %w", err))
	}

	var scan geminiScan
	for resp, err := range c.Models.GenerateContentStream(ctx, task.ModelID, geminiContents(task), geminiConfig(task)) {
		if err != nil {
			return nil, classifyGeminiError(err)
		}
		scan.add(resp)
	}
	if len(scan.data) == 0 {
		return nil, adapter.Permanent(fmt.Errorf("gemini: %w", domain.ErrNoImage))
	}

	w, h := Dimensions(scan.data)
	meta := map[string]any{}
	if scan.modelVersion != "" {
		meta["modelVersion"] = scan.modelVersion
	}
	g.log.Debug().Str("model", task.ModelID).Int("bytes", len(scan.data)).Msg("image received")
	return &model.ImageResult{
		Image:    scan.data,
		MIMEType: sniffMIME(scan.data, scan.mimeType),
		Width:    w,
		Height:   h,
		Metadata: meta,
	}, nil
}

// geminiContents puts reference images first, then the prompt, in one user turn.
func geminiContents(task *model.GenerationTask) []*genai.Content {
	parts := make([]*genai.Part, 0, len(task.ReferenceImages)+1)
	for _, ref := range task.ReferenceImages {
		mt := ref.MIMEType
		if mt == "" {
			mt = sniffMIME(ref.Data, "")
		}
		parts = append(parts, genai.NewPartFromBytes(ref.Data, mt))
	}
	parts = append(parts, genai.NewPartFromText(task.Prompt))
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func geminiConfig(task *model.GenerationTask) *genai.GenerateContentConfig {
	ic := &genai.ImageConfig{AspectRatio: string(task.AspectRatio)}
	if task.Resolution != model.ResolutionUnset {
		ic.ImageSize = string(task.Resolution)
	}
	return &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
		ImageConfig:        ic,
	}
}

// geminiScan accumulates the streamed chunks: the first inline image and the
// latest reported model version.
type geminiScan struct {
	data         []byte
	mimeType     string
	modelVersion string
}

func (s *geminiScan) add(resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	if resp.ModelVersion != "" {
		s.modelVersion = resp.ModelVersion
	}
	if len(s.data) > 0 {
		return
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				s.data = p.InlineData.Data
				s.mimeType = p.InlineData.MIMEType
				return
			}
		}
	}
}

var (
	retryAfterRe = regexp.MustCompile(`(?i)retry.?after[":\s]*(\d+(?:\.\d+)?)`)
	retryDelayRe = regexp.MustCompile(`(?i)retryDelay[":\s]*(\d+(?:\.\d+)?)s`)
)

// classifyGeminiError maps an SDK error onto the adapter failure classes.
func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	code := 0
	var details []map[string]any
	switch {
	case errors.As(err, &apiErr):
		code, details = apiErr.Code, apiErr.Details
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code, details = apiErrPtr.Code, apiErrPtr.Details
	}

	msg := err.Error()
	if code == http.StatusTooManyRequests || looksRateLimited(msg) {
		return &adapter.RateLimitError{
			Provider:   model.ProviderGoogle,
			RetryAfter: geminiRetryAfter(details, msg),
		}
	}
	if code >= 400 && code < 500 {
		return adapter.Permanent(fmt.Errorf("gemini: %w", err))
	}
	return fmt.Errorf("gemini: %w", err)
}

func looksRateLimited(msg string) bool {
	l := strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(l, "rate limit")
}

// geminiRetryAfter reads google.rpc.RetryInfo from the error details, then
// falls back to textual hints, then to the default wait.
func geminiRetryAfter(details []map[string]any, msg string) time.Duration {
	for _, d := range details {
		if s, ok := d["retryDelay"].(string); ok {
			if dur, err := time.ParseDuration(s); err == nil && dur > 0 {
				return ceilSeconds(dur.Seconds())
			}
		}
	}
	for _, re := range []*regexp.Regexp{retryAfterRe, retryDelayRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
				return ceilSeconds(secs)
			}
		}
	}
	return adapter.DefaultRateLimitWait
}

func ceilSeconds(secs float64) time.Duration {
	return time.Duration(math.Ceil(secs)) * time.Second
}
