// File: internal/infra/adapters/imagegen/replicate_adapter.go
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
)

var (
	_ adapter.ImageProvider      = (*ReplicateAdapter)(nil)
	_ adapter.ModelSchemaFetcher = (*ReplicateAdapter)(nil)
)

// ReplicateAdapter runs Replicate models through the studio relay. Every
// request, including prediction polling, goes to base (the relay mount).
type ReplicateAdapter struct {
	base         string // e.g. http://127.0.0.1:8080/proxy/replicate
	client       *http.Client
	pollInterval time.Duration
	log          zerolog.Logger
}

func NewReplicateAdapter(relayBase string, timeout, pollInterval time.Duration, logger *zerolog.Logger) *ReplicateAdapter {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &ReplicateAdapter{
		base:         strings.TrimRight(relayBase, "/"),
		client:       &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
		log:          logger.With().Str("component", "replicate_adapter").Logger(),
	}
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

func (p *replicatePrediction) running() bool {
	return p.Status == "starting" || p.Status == "processing"
}

func (r *ReplicateAdapter) Generate(ctx context.Context, task *model.GenerationTask, apiKey string) (*model.ImageResult, error) {
	if apiKey == "" {
		return nil, adapter.Permanent(fmt.Errorf("replicate: %w", domain.ErrMissingCredential))
	}

	body := map[string]any{"input": replicateInput(task)}
	endpoint := r.base + "/v1/models/" + model.ReplicateSlug(task.ModelID) + "/predictions"
	if _, version, ok := strings.Cut(model.ReplicateSlug(task.ModelID), ":"); ok {
		endpoint = r.base + "/v1/predictions"
		body["version"] = version
	}

	var pred replicatePrediction
	if err := r.doJSON(ctx, http.MethodPost, endpoint, apiKey, body, &pred); err != nil {
		return nil, err
	}
	for pred.running() {
		if err := sleepCtx(ctx, r.pollInterval); err != nil {
			return nil, err
		}
		id := pred.ID
		pred = replicatePrediction{}
		if err := r.doJSON(ctx, http.MethodGet, r.base+"/v1/predictions/"+id, apiKey, nil, &pred); err != nil {
			return nil, err
		}
	}
	if pred.Status != "" && pred.Status != "succeeded" {
		return nil, adapter.Permanent(fmt.Errorf("replicate: prediction %s: %v", pred.Status, pred.Error))
	}

	ref, err := resolveReplicateOutput(pred.Output)
	if err != nil {
		return nil, adapter.Permanent(fmt.Errorf("replicate: %w", err))
	}
	data, mimeType, err := r.fetchImage(ctx, ref)
	if err != nil {
		return nil, err
	}

	w, h := Dimensions(data)
	meta := map[string]any{}
	if pred.ID != "" {
		meta["predictionId"] = pred.ID
	}
	return &model.ImageResult{Image: data, MIMEType: mimeType, Width: w, Height: h, Metadata: meta}, nil
}

func replicateInput(task *model.GenerationTask) map[string]any {
	in := map[string]any{
		"prompt":        task.Prompt,
		"aspect_ratio":  string(task.AspectRatio),
		"output_format": "png",
	}
	if len(task.ReferenceImages) > 0 {
		uris := make([]string, 0, len(task.ReferenceImages))
		for _, ref := range task.ReferenceImages {
			uris = append(uris, DataURI(ref.MIMEType, ref.Data))
		}
		in["image_input"] = uris
	}
	if task.Resolution != model.ResolutionUnset {
		in["resolution"] = string(task.Resolution)
	}
	return in
}

// doJSON sends one request through the relay and decodes a 2xx JSON body into out.
func (r *ReplicateAdapter) doJSON(ctx context.Context, method, url, apiKey string, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return adapter.Permanent(fmt.Errorf("replicate: encode request: %w", err))
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return adapter.Permanent(fmt.Errorf("replicate: build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "wait")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("replicate: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("replicate: read body: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &adapter.RateLimitError{
			Provider:   model.ProviderReplicate,
			RetryAfter: replicateRetryAfter(raw, resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode >= 500 {
		return &statusError{Code: resp.StatusCode, Body: snippet(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return adapter.Permanent(&statusError{Code: resp.StatusCode, Body: snippet(raw)})
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return adapter.Permanent(fmt.Errorf("replicate: decode response: %w", err))
	}
	return nil
}

// replicateRetryAfter prefers the JSON retry_after field, then the header.
func replicateRetryAfter(body []byte, header string) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.RetryAfter > 0 {
		return ceilSeconds(payload.RetryAfter)
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(header), 64); err == nil && secs > 0 {
		return ceilSeconds(secs)
	}
	return adapter.DefaultRateLimitWait
}

// statusError is a non-2xx, non-429 answer from the relay.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("replicate: http %d: %s", e.Code, e.Body)
}

var errNoReplicateOutput = errors.New("no image in Replicate response")

// resolveReplicateOutput accepts a string, an array (first element wins) or
// an object with a url field.
func resolveReplicateOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", errNoReplicateOutput
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return "", errNoReplicateOutput
		}
		return s, nil
	}
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) == nil {
		if len(arr) == 0 {
			return "", errNoReplicateOutput
		}
		return resolveReplicateOutput(arr[0])
	}
	var obj struct {
		URL string `json:"url"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.URL != "" {
		return obj.URL, nil
	}
	return "", errNoReplicateOutput
}

// fetchImage resolves an output reference to raw bytes. Data URIs are decoded
// in place; URLs are fetched with a plain GET.
func (r *ReplicateAdapter) fetchImage(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		data, mt, err := decodeDataURI(ref)
		if err != nil {
			return nil, "", adapter.Permanent(fmt.Errorf("replicate: %w", err))
		}
		return data, sniffMIME(data, mt), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", adapter.Permanent(fmt.Errorf("replicate: bad output url: %w", err))
	}
	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", fmt.Errorf("replicate: fetch output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, "", fmt.Errorf("replicate: failed to fetch generated image: %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", adapter.Permanent(fmt.Errorf("replicate: failed to fetch generated image: %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: read output: %w", err)
	}
	if len(data) == 0 {
		return nil, "", adapter.Permanent(fmt.Errorf("replicate: %w", domain.ErrNoImage))
	}
	return data, sniffMIME(data, resp.Header.Get("Content-Type")), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
