package studioctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestClient_APIErrorCarriesServerMessage(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"item abc is completed: not retryable","code":409}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "secret", time.Second)
	err := c.Retry(context.Background(), "abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || !strings.Contains(apiErr.Message, "not retryable") {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestClient_PlainTextError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "", time.Second).Models(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestClient_EventsParsesFrames(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: snapshot\ndata: {\"items\":[],\"generating\":false,\"loaded\":true}\n\n")
		fmt.Fprint(w, "event: generating_changed\ndata: {\"type\":\"generating_changed\",\"generating\":true}\n\n")
	}))
	defer ts.Close()

	var got []Event
	err := NewClient(ts.URL, "", time.Second).Events(context.Background(), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(got) != 2 || got[0].Name != "snapshot" || got[1].Name != "generating_changed" {
		t.Fatalf("unexpected events %+v", got)
	}
	if !strings.Contains(string(got[1].Data), `"generating":true`) {
		t.Fatalf("unexpected payload %s", got[1].Data)
	}
}

// fakeStudio plays one batch of two items: the first completes after a
// rate-limit wait, the second fails.
type fakeStudio struct {
	submitted chan struct{}
}

func newFakeStudio(t *testing.T) *httptest.Server {
	t.Helper()
	fs := &fakeStudio{submitted: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		send := func(name, data string) {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
			fl.Flush()
		}
		send("snapshot", `{"items":[],"generating":false,"loaded":true}`)
		select {
		case <-fs.submitted:
		case <-r.Context().Done():
			return
		}
		send("items_added", `{"type":"items_added","items":[`+
			`{"id":"item-0001","status":"pending","modelName":"Model A"},`+
			`{"id":"item-0002","status":"pending","modelName":"Model B"}]}`)
		send("generating_changed", `{"type":"generating_changed","generating":true}`)
		send("item_updated", `{"type":"item_updated","items":[{"id":"item-0001","status":"generating","modelName":"Model A","retryCount":0}]}`)
		send("item_updated", `{"type":"item_updated","items":[{"id":"item-0001","status":"waiting","modelName":"Model A","retryCount":0,"retryAfter":5}]}`)
		send("item_updated", `{"type":"item_updated","items":[{"id":"unrelated","status":"failed","modelName":"X"}]}`)
		send("item_updated", `{"type":"item_updated","items":[{"id":"item-0002","status":"failed","modelName":"Model B","error":"boom","canRetry":true}]}`)
		send("item_updated", `{"type":"item_updated","items":[{"id":"item-0001","status":"completed","modelName":"Model A","recordId":"rec-1","imageUrl":"/blobs/h1","mimeType":"image/png","width":64,"height":64}]}`)
		<-r.Context().Done()
	})
	mux.HandleFunc("/api/v1/generations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"batchId":"b1","itemIds":["item-0001","item-0002"]}`))
		close(fs.submitted)
	})
	mux.HandleFunc("/blobs/h1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG fake"))
	})
	mux.HandleFunc("/api/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"replicate/acme/painter","name":"Painter","provider":"replicate","enabled":true,` +
			`"capabilities":{"supportsAspectRatios":true,"supportsResolution":true,"supportsReferenceImages":true,"maxReferenceImages":2},"available":false}]}`))
	})
	mux.HandleFunc("/api/v1/gallery/groups", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"label":"Today","items":[{"id":"rec-1","status":"completed","modelName":"Model A","prompt":"a red fox","aspectRatio":"1:1"}]}]}`))
	})
	return httptest.NewServer(mux)
}

func TestGenerate_FollowsBatchUntilSettled(t *testing.T) {
	ts := newFakeStudio(t)
	defer ts.Close()

	out := t.TempDir()
	var buf bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := Generate(ctx, NewClient(ts.URL, "", time.Second), GenerateOptions{
		Request: SubmitRequest{Prompt: "a red fox", Models: map[string]int{"model-a": 1, "model-b": 1}},
		OutDir:  out,
	}, &buf)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 generations failed") {
		t.Fatalf("expected partial failure, got %v", err)
	}

	text := buf.String()
	for _, want := range []string{"waiting 5s", "failed: boom [retryable]", "completed 64x64", "done: 1 completed, 1 failed", "saved "} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "unrelated") {
		t.Errorf("untracked item printed:\n%s", text)
	}
	b, err := os.ReadFile(filepath.Join(out, "rec-1.png"))
	if err != nil || !bytes.HasPrefix(b, []byte("\x89PNG")) {
		t.Fatalf("saved image: %v", err)
	}
}

func TestRootCmd_ModelsAndList(t *testing.T) {
	ts := newFakeStudio(t)
	defer ts.Close()

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		root := NewRootCmd(&Config{Server: ts.URL, Timeout: time.Second, LogLvl: "error"})
		root.SetArgs(args)
		root.SetOut(&out)
		root.SetErr(&out)
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	models := run("models")
	if !strings.Contains(models, "replicate/acme/painter") || !strings.Contains(models, "aspect,resolution,refs<=2") {
		t.Fatalf("unexpected models output:\n%s", models)
	}
	list := run("list")
	if !strings.Contains(list, "Today (1)") || !strings.Contains(list, "a red fox") {
		t.Fatalf("unexpected list output:\n%s", list)
	}
}

func TestRootCmd_GenerateRequiresModel(t *testing.T) {
	root := NewRootCmd(&Config{Server: "http://127.0.0.1:1", Timeout: time.Second})
	root.SetArgs([]string{"generate", "a red fox"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	if err := root.ExecuteContext(context.Background()); err == nil || !strings.Contains(err.Error(), "--model") {
		t.Fatalf("expected missing model error, got %v", err)
	}
}
