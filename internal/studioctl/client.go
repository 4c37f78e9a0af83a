package studioctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"image-studio/internal/domain/model"
)

// Client talks to a running studio over its JSON API.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
	// stream has no overall timeout; event streams stay open.
	stream *http.Client
}

func NewClient(base, apiKey string, timeout time.Duration) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: timeout},
		stream: &http.Client{},
	}
}

// APIError is a non-2xx answer from the studio.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("studio: %d %s", e.Status, e.Message)
}

type Item struct {
	ID                string            `json:"id"`
	Status            model.ItemStatus  `json:"status"`
	ModelID           string            `json:"modelId"`
	ModelName         string            `json:"modelName"`
	Prompt            string            `json:"prompt"`
	AspectRatio       model.AspectRatio `json:"aspectRatio"`
	Resolution        model.Resolution  `json:"resolution,omitempty"`
	ReferenceImageIDs []string          `json:"referenceImageIds"`
	RetryCount        *int              `json:"retryCount,omitempty"`
	WaitingUntil      *time.Time        `json:"waitingUntil,omitempty"`
	RetryAfter        *int              `json:"retryAfter,omitempty"`
	Error             string            `json:"error,omitempty"`
	CanRetry          bool              `json:"canRetry,omitempty"`
	RecordID          string            `json:"recordId,omitempty"`
	ImageURL          string            `json:"imageUrl,omitempty"`
	MIMEType          string            `json:"mimeType,omitempty"`
	Width             int               `json:"width,omitempty"`
	Height            int               `json:"height,omitempty"`
	CreatedAt         *time.Time        `json:"createdAt,omitempty"`
}

// Terminal reports whether the item will not change without user action.
func (it Item) Terminal() bool {
	return it.Status == model.ItemStatusCompleted || it.Status == model.ItemStatusFailed
}

type Gallery struct {
	Items      []Item `json:"items"`
	Generating bool   `json:"generating"`
	Loaded     bool   `json:"loaded"`
}

type Group struct {
	Label string `json:"label"`
	Items []Item `json:"items"`
}

type Model struct {
	model.ModelDefinition
	Available bool `json:"available"`
}

type ReferenceImage struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type SubmitRequest struct {
	Prompt          string            `json:"prompt"`
	Models          map[string]int    `json:"models"`
	AspectRatio     model.AspectRatio `json:"aspectRatio,omitempty"`
	Resolution      model.Resolution  `json:"resolution,omitempty"`
	ReferenceImages []ReferenceImage  `json:"referenceImages,omitempty"`
}

type SubmitResponse struct {
	BatchID string   `json:"batchId"`
	ItemIDs []string `json:"itemIds"`
}

// Event is one server-sent event. Data is the raw JSON payload.
type Event struct {
	Name string
	Data json.RawMessage
}

// Change is the payload of every event except the initial snapshot.
type Change struct {
	Type       string `json:"type"`
	Items      []Item `json:"items"`
	ItemID     string `json:"itemId"`
	Generating *bool  `json:"generating"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if json.Unmarshal(b, &e) != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(b))
	}
	return &APIError{Status: resp.StatusCode, Message: e.Error}
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var out SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/generations", req, &out)
	return out, err
}

func (c *Client) Gallery(ctx context.Context) (Gallery, error) {
	var out Gallery
	err := c.do(ctx, http.MethodGet, "/api/v1/gallery", nil, &out)
	return out, err
}

func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	var out struct {
		Data []Group `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/gallery/groups", nil, &out)
	return out.Data, err
}

func (c *Client) Delete(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/items/"+url.PathEscape(itemID), nil, nil)
}

func (c *Client) Dismiss(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/items/"+url.PathEscape(itemID)+"/dismiss", nil, nil)
}

func (c *Client) Retry(ctx context.Context, itemID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/items/"+url.PathEscape(itemID)+"/retry", nil, nil)
}

func (c *Client) Models(ctx context.Context) ([]Model, error) {
	var out struct {
		Data []Model `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/models", nil, &out)
	return out.Data, err
}

// model ids keep their slashes; the server routes them with a wildcard
func (c *Client) SetModelEnabled(ctx context.Context, modelID string, enabled bool) (model.ModelDefinition, error) {
	var out model.ModelDefinition
	err := c.do(ctx, http.MethodPatch, "/api/v1/models/"+modelID, map[string]bool{"enabled": enabled}, &out)
	return out, err
}

func (c *Client) AddReplicateModel(ctx context.Context, id string) (model.ModelDefinition, error) {
	var out model.ModelDefinition
	err := c.do(ctx, http.MethodPost, "/api/v1/models/replicate", map[string]string{"id": id}, &out)
	return out, err
}

func (c *Client) RemoveModel(ctx context.Context, modelID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/models/"+modelID, nil, nil)
}

func (c *Client) SetAPIKey(ctx context.Context, provider model.Provider, key string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/keys/"+string(provider), map[string]string{"key": key}, nil)
}

// Download fetches the bytes behind an item's image URL.
func (c *Client) Download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, "", err
	}
	b, err := io.ReadAll(resp.Body)
	return b, resp.Header.Get("Content-Type"), err
}

// Events streams gallery events into fn until ctx ends, the server closes
// the stream, or fn returns an error. The first event is always "snapshot".
func (c *Client) Events(ctx context.Context, fn func(Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 8<<20)
	var ev Event
	var data []byte
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name == "" && len(data) == 0 {
				continue
			}
			ev.Data = json.RawMessage(data)
			if err := fn(ev); err != nil {
				return err
			}
			ev, data = Event{}, nil
		case strings.HasPrefix(line, ":"):
			// keep-alive
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")...)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}
